// Package protocol defines the wire formats spoken over the signaling relay
// and the peer data channel, plus the shared problem model.
package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

// Role identifies which side of the match the local participant plays.
// The initiator is authoritative for the match clock, problem distribution
// and result declaration.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Valid reports whether the role is one of the two defined values.
func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// Signal event names exchanged through the relay.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice_candidate"
	SignalMatchFound   = "match_found"
)

// SignalMessage is the relay-forwarded envelope: the relay routes by Target
// and stamps From with the sender's id.
type SignalMessage struct {
	Event  string          `json:"event"`
	Target string          `json:"target,omitempty"`
	From   string          `json:"from,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// AuthRequest is the first client message on a fresh relay connection.
type AuthRequest struct {
	Token string `json:"token"`
}

// Opponent describes the matched peer as reported by the relay.
type Opponent struct {
	ID  string `json:"id"`
	Elo int    `json:"elo"`
}

// MatchFound is the matchmaking hand-off: session id, peer identity and the
// local role. It arrives on the same relay connection as signaling traffic.
type MatchFound struct {
	Event     string   `json:"event"`
	SessionID string   `json:"session_id"`
	Opponent  Opponent `json:"opponent"`
	Role      Role     `json:"role"`
}

// NewOfferSignal builds an offer addressed to the opponent.
func NewOfferSignal(target string, sdp webrtc.SessionDescription) (SignalMessage, error) {
	return newDescriptionSignal(SignalOffer, target, sdp)
}

// NewAnswerSignal builds an answer addressed to the opponent.
func NewAnswerSignal(target string, sdp webrtc.SessionDescription) (SignalMessage, error) {
	return newDescriptionSignal(SignalAnswer, target, sdp)
}

func newDescriptionSignal(event, target string, sdp webrtc.SessionDescription) (SignalMessage, error) {
	data, err := json.Marshal(sdp)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{Event: event, Target: target, Data: data}, nil
}

// NewCandidateSignal builds a trickle ICE candidate addressed to the opponent.
func NewCandidateSignal(target string, candidate webrtc.ICECandidateInit) (SignalMessage, error) {
	data, err := json.Marshal(candidate)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{Event: SignalICECandidate, Target: target, Data: data}, nil
}

// SessionDescription decodes the offer/answer payload.
func (m SignalMessage) SessionDescription() (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	err := json.Unmarshal(m.Data, &sdp)
	return sdp, err
}

// ICECandidate decodes the candidate payload. An empty payload yields an
// ICECandidateInit with an empty Candidate string; callers drop those.
func (m SignalMessage) ICECandidate() (webrtc.ICECandidateInit, error) {
	var init webrtc.ICECandidateInit
	if len(m.Data) == 0 {
		return init, nil
	}
	err := json.Unmarshal(m.Data, &init)
	return init, err
}
