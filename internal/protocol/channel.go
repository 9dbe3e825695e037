package protocol

import (
	"encoding/json"

	pkgerrors "codeduel/pkg/errors"
)

// Version is the data channel protocol version carried in every envelope.
// Decoders accept any version so peers can roll forward without breaking.
const Version = 1

// ChannelKind tags every data channel message.
type ChannelKind string

const (
	KindChat         ChannelKind = "chat"
	KindQuestionData ChannelKind = "question_data"
	KindMatchStart   ChannelKind = "match_start"
	KindSubmit       ChannelKind = "submit"
	KindMatchResult  ChannelKind = "match_result"
	KindGiveUp       ChannelKind = "give_up"
)

// ChannelEvent is the closed union of data channel payloads.
type ChannelEvent interface {
	Kind() ChannelKind
}

// Chat is one transcript line.
type Chat struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	SentAt int64  `json:"sent_at"` // unix millis
}

// QuestionData distributes the problem from the initiator to the responder.
type QuestionData struct {
	Question Problem `json:"question"`
}

// MatchStart carries the authoritative match clock set by the initiator.
type MatchStart struct {
	SessionID string `json:"session_id"`
	StartedAt int64  `json:"started_at_ms"` // unix millis
}

// Submit announces a fully passing local submission.
type Submit struct {
	Sender    string `json:"sender"`
	SessionID string `json:"session_id"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// MatchResult is the initiator's final arbitration outcome.
type MatchResult struct {
	SessionID    string `json:"session_id"`
	Winner       string `json:"winner"`
	Loser        string `json:"loser"`
	WinnerTimeMs int64  `json:"winner_time_ms"`
	LoserTimeMs  int64  `json:"loser_time_ms"`
}

// GiveUp is a voluntary forfeit. It carries no payload.
type GiveUp struct{}

// Unknown preserves a message whose kind this build does not understand.
// Handlers ignore it rather than failing the session.
type Unknown struct {
	RawKind string
}

func (Chat) Kind() ChannelKind         { return KindChat }
func (QuestionData) Kind() ChannelKind { return KindQuestionData }
func (MatchStart) Kind() ChannelKind   { return KindMatchStart }
func (Submit) Kind() ChannelKind       { return KindSubmit }
func (MatchResult) Kind() ChannelKind  { return KindMatchResult }
func (GiveUp) Kind() ChannelKind       { return KindGiveUp }
func (u Unknown) Kind() ChannelKind    { return ChannelKind(u.RawKind) }

// envelope is the on-wire shape: self-describing via kind.
type envelope struct {
	V    int             `json:"v"`
	Kind ChannelKind     `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeChannelEvent serializes one event as a single JSON message.
func EncodeChannelEvent(ev ChannelEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.MalformedMessage, "encode %s payload failed", ev.Kind())
	}
	return json.Marshal(envelope{V: Version, Kind: ev.Kind(), Data: data})
}

// DecodeChannelEvent parses one incoming message. Non-parseable input yields
// a MalformedMessage error (callers drop it); an unrecognized kind yields
// Unknown, not an error.
func DecodeChannelEvent(raw []byte) (ChannelEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.MalformedMessage)
	}
	switch env.Kind {
	case KindChat:
		var ev Chat
		return ev, decodePayload(env, &ev)
	case KindQuestionData:
		var ev QuestionData
		return ev, decodePayload(env, &ev)
	case KindMatchStart:
		var ev MatchStart
		return ev, decodePayload(env, &ev)
	case KindSubmit:
		var ev Submit
		return ev, decodePayload(env, &ev)
	case KindMatchResult:
		var ev MatchResult
		return ev, decodePayload(env, &ev)
	case KindGiveUp:
		return GiveUp{}, nil
	default:
		return Unknown{RawKind: string(env.Kind)}, nil
	}
}

func decodePayload(env envelope, out interface{}) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.MalformedMessage, "decode %s payload failed", env.Kind)
	}
	return nil
}
