package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 20000-20999: Setup & configuration errors
// 21000-21999: Signaling transport errors
// 22000-22999: Peer negotiation errors
// 23000-23999: Match session errors
// 24000-24999: Sandbox & evaluation errors
// 25000-25999: Data channel protocol errors
// 26000-26999: External collaborator errors

const (
	// Success
	Success ErrorCode = 20000

	// Setup errors (20001-20999)
	InternalError     ErrorCode = 20001
	InvalidParams     ErrorCode = 20002
	MissingSessionID  ErrorCode = 20010
	MissingRole       ErrorCode = 20011
	MissingOpponent   ErrorCode = 20012
	MissingAuthToken  ErrorCode = 20013
	MissingRelayURL   ErrorCode = 20014
	MissingBackendURL ErrorCode = 20015

	// Signaling transport errors (21000-21999)
	SignalingDialFailed   ErrorCode = 21000
	SignalingClosed       ErrorCode = 21001
	SignalingSendFailed   ErrorCode = 21002
	SignalingAuthRejected ErrorCode = 21003

	// Peer negotiation errors (22000-22999)
	NegotiationFailed   ErrorCode = 22000
	OfferFailed         ErrorCode = 22001
	AnswerFailed        ErrorCode = 22002
	CandidateRejected   ErrorCode = 22003
	DataChannelFailed   ErrorCode = 22004
	PeerConnectionLost  ErrorCode = 22005
	NegotiationTimedOut ErrorCode = 22006

	// Match session errors (23000-23999)
	SessionFinalized   ErrorCode = 23000
	NoProblemLoaded    ErrorCode = 23001
	TestsFailed        ErrorCode = 23002
	NotAuthoritative   ErrorCode = 23003
	MatchNotStarted    ErrorCode = 23004
	SessionAbandoned   ErrorCode = 23005
	DuplicateSubmit    ErrorCode = 23006
	ClockNotSynced     ErrorCode = 23007
	FinalizationFailed ErrorCode = 23008

	// Sandbox & evaluation errors (24000-24999)
	UnknownLanguage    ErrorCode = 24000
	FunctionNotFound   ErrorCode = 24001
	EvaluationError    ErrorCode = 24002
	ExecutionTimedOut  ErrorCode = 24003
	BadTestInputs      ErrorCode = 24004
	SandboxUnavailable ErrorCode = 24005

	// Data channel protocol errors (25000-25999)
	MalformedMessage ErrorCode = 25000
	UnknownKind      ErrorCode = 25001

	// External collaborator errors (26000-26999)
	ProblemFetchFailed  ErrorCode = 26000
	RatingUpdateFailed  ErrorCode = 26001
	CollaboratorTimeout ErrorCode = 26002
)

var codeMessages = map[ErrorCode]string{
	Success:           "success",
	InternalError:     "internal error",
	InvalidParams:     "invalid parameters",
	MissingSessionID:  "session id is required",
	MissingRole:       "match role is required",
	MissingOpponent:   "opponent id is required",
	MissingAuthToken:  "auth token is required",
	MissingRelayURL:   "signaling relay url is required",
	MissingBackendURL: "backend base url is required",

	SignalingDialFailed:   "failed to connect to signaling relay",
	SignalingClosed:       "signaling connection closed",
	SignalingSendFailed:   "failed to send signaling message",
	SignalingAuthRejected: "signaling relay rejected auth token",

	NegotiationFailed:   "peer negotiation failed",
	OfferFailed:         "failed to create or apply offer",
	AnswerFailed:        "failed to create or apply answer",
	CandidateRejected:   "ice candidate rejected",
	DataChannelFailed:   "data channel error",
	PeerConnectionLost:  "peer connection lost",
	NegotiationTimedOut: "peer negotiation timed out",

	SessionFinalized:   "session already finalized",
	NoProblemLoaded:    "no problem loaded",
	TestsFailed:        "test suite did not pass",
	NotAuthoritative:   "only the initiator may perform this action",
	MatchNotStarted:    "match has not started",
	SessionAbandoned:   "session abandoned",
	DuplicateSubmit:    "submission already recorded",
	ClockNotSynced:     "match clock not received yet",
	FinalizationFailed: "session finalization reported errors",

	UnknownLanguage:    "unknown language",
	FunctionNotFound:   "target function not found",
	EvaluationError:    "evaluation error",
	ExecutionTimedOut:  "execution timed out",
	BadTestInputs:      "test case inputs are malformed",
	SandboxUnavailable: "sandbox unavailable",

	MalformedMessage: "malformed message",
	UnknownKind:      "unknown message kind",

	ProblemFetchFailed:  "failed to fetch problem",
	RatingUpdateFailed:  "failed to update rating",
	CollaboratorTimeout: "collaborator request timed out",
}

// Message returns the default human-readable message for the code.
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "unknown error"
}
