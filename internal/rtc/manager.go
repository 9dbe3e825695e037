// Package rtc drives connection establishment between the two match peers:
// the offer/answer/candidate state machine, the single data channel, and the
// bounded grace period on peer loss.
package rtc

import (
	"context"
	"sync"
	"time"

	"codeduel/internal/protocol"
	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// State is the connection-establishment state visible to the session.
type State string

const (
	StateIdle                State = "idle"
	StateSignalingConnecting State = "signaling_connecting"
	StateSignalingOpen       State = "signaling_open"
	StateNegotiating         State = "negotiating"
	StateConnected           State = "connected"
	StateDisconnected        State = "disconnected"
	StateFailed              State = "failed"
)

const (
	dataChannelLabel   = "gameData"
	defaultGracePeriod = 10 * time.Second
	defaultSTUNServer  = "stun:stun.l.google.com:19302"
)

// Signaler sends connection-establishment metadata to the opponent through
// the relay. *signaling.Client satisfies it.
type Signaler interface {
	Send(msg protocol.SignalMessage) error
}

// Events are the session's hooks into transport lifecycle. Nil hooks are
// skipped.
type Events struct {
	// OnChannelOpen fires once when the data channel reports open.
	OnChannelOpen func()
	// OnChannelMessage delivers one raw data channel message.
	OnChannelMessage func(data []byte)
	// OnStateChange reports every state transition.
	OnStateChange func(state State)
	// OnAbandon fires when a disconnected/failed state survives the grace
	// period; the session must abandon and return to matchmaking.
	OnAbandon func(reason error)
}

// Config parameterizes one peer connection attempt.
type Config struct {
	Role        protocol.Role
	OpponentID  string
	ICEServers  []string
	GracePeriod time.Duration
}

// Manager owns the peer connection and its one data channel for the session
// lifetime.
type Manager struct {
	cfg      Config
	signaler Signaler
	events   Events

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	state      State
	graceTimer *time.Timer
	hasChannel bool
	closed     bool
}

// NewManager validates the config and prepares a manager in the idle state.
func NewManager(cfg Config, signaler Signaler, events Events) (*Manager, error) {
	if !cfg.Role.Valid() {
		return nil, pkgerrors.New(pkgerrors.MissingRole)
	}
	if cfg.OpponentID == "" {
		return nil, pkgerrors.New(pkgerrors.MissingOpponent)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if len(cfg.ICEServers) == 0 {
		// STUN only: no TURN fallback, symmetric NATs may fail to connect.
		cfg.ICEServers = []string{defaultSTUNServer}
	}
	return &Manager{cfg: cfg, signaler: signaler, events: events, state: StateIdle}, nil
}

// Start creates the underlying peer connection. The initiator also creates
// the data channel, produces the offer and sends it to the opponent; the
// responder waits for the remote offer to trigger channel creation.
func (m *Manager) Start(ctx context.Context) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: m.cfg.ICEServers}},
	})
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.NegotiationFailed)
	}

	m.mu.Lock()
	m.pc = pc
	m.mu.Unlock()
	m.setState(StateNegotiating)

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		sig, err := protocol.NewCandidateSignal(m.cfg.OpponentID, candidate.ToJSON())
		if err != nil {
			logger.Warn(ctx, "encode local candidate failed", zap.Error(err))
			return
		}
		if err := m.signaler.Send(sig); err != nil {
			logger.Warn(ctx, "send local candidate failed", zap.Error(err))
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.handleTransportState(ctx, s)
	})

	if m.cfg.Role == protocol.RoleInitiator {
		dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.DataChannelFailed)
		}
		m.adoptChannel(ctx, dc)

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.OfferFailed)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.OfferFailed)
		}
		sig, err := protocol.NewOfferSignal(m.cfg.OpponentID, offer)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.OfferFailed)
		}
		if err := m.signaler.Send(sig); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.OfferFailed)
		}
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			m.adoptChannel(ctx, dc)
		})
	}
	return nil
}

// HandleSignal applies one relay-forwarded message to the negotiation.
// Malformed candidates are dropped without failing the connection.
func (m *Manager) HandleSignal(ctx context.Context, msg protocol.SignalMessage) error {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return pkgerrors.New(pkgerrors.NegotiationFailed).WithMessage("peer connection not started")
	}

	switch msg.Event {
	case protocol.SignalOffer:
		sdp, err := msg.SessionDescription()
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.OfferFailed)
		}
		if err := pc.SetRemoteDescription(sdp); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.OfferFailed)
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.AnswerFailed)
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.AnswerFailed)
		}
		target := msg.From
		if target == "" {
			target = m.cfg.OpponentID
		}
		sig, err := protocol.NewAnswerSignal(target, answer)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.AnswerFailed)
		}
		return m.signaler.Send(sig)

	case protocol.SignalAnswer:
		sdp, err := msg.SessionDescription()
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.AnswerFailed)
		}
		if err := pc.SetRemoteDescription(sdp); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.AnswerFailed)
		}
		return nil

	case protocol.SignalICECandidate:
		init, err := msg.ICECandidate()
		if err != nil || init.Candidate == "" {
			logger.Debug(ctx, "dropping malformed or empty candidate")
			return nil
		}
		if err := pc.AddICECandidate(init); err != nil {
			logger.Warn(ctx, "add remote candidate failed", zap.Error(err))
		}
		return nil

	default:
		return nil
	}
}

// SendMessage transmits one raw message over the data channel.
func (m *Manager) SendMessage(data []byte) error {
	m.mu.Lock()
	dc := m.dc
	m.mu.Unlock()
	if dc == nil {
		return pkgerrors.New(pkgerrors.DataChannelFailed).WithMessage("data channel not open")
	}
	if err := dc.Send(data); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.DataChannelFailed)
	}
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close tears down the data channel and peer connection. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	dc, pc := m.dc, m.pc
	m.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
	return nil
}

// adoptChannel wires the single data channel. A second channel from a
// misbehaving peer is closed immediately.
func (m *Manager) adoptChannel(ctx context.Context, dc *webrtc.DataChannel) {
	m.mu.Lock()
	if m.hasChannel {
		m.mu.Unlock()
		logger.Warn(ctx, "rejecting extra data channel", zap.String("label", dc.Label()))
		_ = dc.Close()
		return
	}
	m.hasChannel = true
	m.dc = dc
	m.mu.Unlock()

	dc.OnOpen(func() {
		logger.Info(ctx, "data channel open", zap.String("label", dc.Label()))
		if m.events.OnChannelOpen != nil {
			m.events.OnChannelOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if m.events.OnChannelMessage != nil {
			m.events.OnChannelMessage(msg.Data)
		}
	})
}

func (m *Manager) handleTransportState(ctx context.Context, s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		m.setState(StateConnected)
	case webrtc.PeerConnectionStateDisconnected:
		m.setState(StateDisconnected)
		m.armGraceTimer(ctx, pkgerrors.New(pkgerrors.PeerConnectionLost).WithMessage("peer disconnected beyond grace period"))
	case webrtc.PeerConnectionStateFailed:
		m.setState(StateFailed)
		m.armGraceTimer(ctx, pkgerrors.New(pkgerrors.PeerConnectionLost).WithMessage("peer connection failed beyond grace period"))
	case webrtc.PeerConnectionStateClosed:
		m.setState(StateFailed)
	default:
		m.setState(StateNegotiating)
	}
}

// setState records the transition and cancels any pending grace timer; a
// still-bad state re-arms it in handleTransportState.
func (m *Manager) setState(next State) {
	m.mu.Lock()
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	changed := m.state != next
	m.state = next
	m.mu.Unlock()

	if changed && m.events.OnStateChange != nil {
		m.events.OnStateChange(next)
	}
}

func (m *Manager) armGraceTimer(ctx context.Context, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.graceTimer != nil {
		return
	}
	state := m.state
	m.graceTimer = time.AfterFunc(m.cfg.GracePeriod, func() {
		m.mu.Lock()
		still := m.state == state && !m.closed
		m.mu.Unlock()
		if !still {
			return
		}
		logger.Warn(ctx, "grace period expired, abandoning session", zap.String("state", string(state)))
		if m.events.OnAbandon != nil {
			m.events.OnAbandon(reason)
		}
	})
}
