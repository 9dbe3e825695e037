// Package match owns authoritative session state for one timed match: the
// shared problem, the match clock, the chat transcript, the submission race
// and its one-shot arbitration, and resource teardown.
package match

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeduel/internal/protocol"
	"codeduel/internal/sandbox"
	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// DefaultDuration is the fixed total match length.
	DefaultDuration = 60 * time.Minute
	// PreviewCases is the subset size run by an explicit "test" action.
	PreviewCases = 1
	// flush delay before teardown so the last outbound message drains.
	defaultFlushDelay = 500 * time.Millisecond
)

// Status is the session's user-visible lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLive      Status = "live"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusAbandoned Status = "abandoned"
)

// Transport sends one encoded message to the peer over the data channel.
// *rtc.Manager satisfies it.
type Transport interface {
	SendMessage(data []byte) error
}

// ProblemBank is the external problem-bank collaborator, keyed by session id.
type ProblemBank interface {
	Question(ctx context.Context, sessionID string) (protocol.Problem, error)
}

// RatingService is the external rating-update collaborator.
type RatingService interface {
	UpdateRating(ctx context.Context, userID, sessionID string, win bool) error
}

// Outcome is delivered to the caller exactly once when the session ends.
type Outcome struct {
	Status Status
	Result *protocol.MatchResult
	Reason string
}

// Config identifies the session as handed off by matchmaking.
type Config struct {
	SessionID  string
	LocalID    string
	OpponentID string
	Role       protocol.Role
	Duration   time.Duration
}

// Session is the single owner of local match state. Network handles are
// fields held for teardown, never package globals; all mutation happens
// under one mutex, driven by transport callbacks and user commands.
type Session struct {
	cfg       Config
	transport Transport
	bank      ProblemBank
	rating    RatingService
	registry  *sandbox.Registry

	// closers run in order at finalization: data channel and peer
	// connection first, signaling client last.
	closers    []func() error
	flushDelay time.Duration

	leave chan Outcome

	mu         sync.Mutex
	problem    *protocol.Problem
	code       map[string]string // language id -> current source
	transcript []protocol.Chat
	startAt    time.Time
	status     Status
	submitted  *protocol.Submit
	result     *protocol.MatchResult

	decided   atomic.Bool // one-shot result latch
	finalized atomic.Bool
}

// NewSession validates the matchmaking hand-off and builds a pending session.
func NewSession(cfg Config, transport Transport, bank ProblemBank, rating RatingService, registry *sandbox.Registry) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, pkgerrors.New(pkgerrors.MissingSessionID)
	}
	if cfg.LocalID == "" || cfg.OpponentID == "" {
		return nil, pkgerrors.New(pkgerrors.MissingOpponent)
	}
	if !cfg.Role.Valid() {
		return nil, pkgerrors.New(pkgerrors.MissingRole)
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	return &Session{
		cfg:        cfg,
		transport:  transport,
		bank:       bank,
		rating:     rating,
		registry:   registry,
		flushDelay: defaultFlushDelay,
		leave:      make(chan Outcome, 1),
		code:       make(map[string]string),
		status:     StatusPending,
	}, nil
}

// SetTransport installs the peer transport. The session and the connection
// manager reference each other, so the transport arrives after construction.
func (s *Session) SetTransport(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// AddCloser appends a teardown step. Order of registration is teardown order.
func (s *Session) AddCloser(close func() error) {
	s.closers = append(s.closers, close)
}

// Leave signals the caller once when the session is over and control should
// return to matchmaking.
func (s *Session) Leave() <-chan Outcome { return s.leave }

// Role returns the local participant's role.
func (s *Session) Role() protocol.Role { return s.cfg.Role }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Problem returns the distributed problem, or false before distribution.
func (s *Session) Problem() (protocol.Problem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.problem == nil {
		return protocol.Problem{}, false
	}
	return *s.problem, true
}

// Transcript returns a copy of the chat history.
func (s *Session) Transcript() []protocol.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Chat, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Result returns the arbitrated result once one exists.
func (s *Session) Result() (protocol.MatchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return protocol.MatchResult{}, false
	}
	return *s.result, true
}

// SetCode records the current source for a language.
func (s *Session) SetCode(languageID, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code[languageID] = source
}

// Code returns the current source for a language, falling back to the
// problem's starter code.
func (s *Session) Code(languageID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.code[languageID]; ok {
		return src
	}
	if s.problem != nil {
		return s.problem.StarterCode[languageID]
	}
	return ""
}

// Remaining derives the time left on the match clock. It is never mutated
// directly; before the clock starts the full duration is reported.
func (s *Session) Remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startAt.IsZero() {
		return s.cfg.Duration
	}
	left := s.cfg.Duration - now.Sub(s.startAt)
	if left < 0 {
		return 0
	}
	return left
}

// elapsedMs is the local submission clock reading.
func (s *Session) elapsedMs(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startAt.IsZero() {
		return 0, pkgerrors.New(pkgerrors.ClockNotSynced)
	}
	return now.Sub(s.startAt).Milliseconds(), nil
}

// OnChannelOpen runs the initiator's open-channel duties: start the match
// clock, broadcast it, fetch the problem and distribute it. The responder
// only marks itself live and waits.
func (s *Session) OnChannelOpen(ctx context.Context) {
	s.mu.Lock()
	if s.status == StatusPending {
		s.status = StatusLive
	}
	s.mu.Unlock()

	if s.cfg.Role != protocol.RoleInitiator {
		return
	}

	// The initiator is the single source of truth for the match clock.
	now := time.Now()
	s.mu.Lock()
	if s.startAt.IsZero() {
		s.startAt = now
	}
	start := s.startAt
	s.mu.Unlock()

	s.send(ctx, protocol.MatchStart{SessionID: s.cfg.SessionID, StartedAt: start.UnixMilli()})

	problem, err := s.bank.Question(ctx, s.cfg.SessionID)
	if err != nil {
		// Without a problem the match can never be decided. Tell the peer
		// and tear down instead of letting the clock run out on nothing.
		logger.Error(ctx, "problem fetch failed", zap.Error(err))
		s.send(ctx, protocol.GiveUp{})
		s.finalize(ctx, Outcome{Status: StatusAbandoned, Reason: "problem fetch failed"})
		return
	}
	s.mu.Lock()
	s.problem = &problem
	s.mu.Unlock()
	s.send(ctx, protocol.QuestionData{Question: problem})
	logger.Info(ctx, "problem distributed", zap.String("title", problem.Title))
}

// SendChat appends a locally authored line and transmits it. No ack, no
// dedupe: the channel is direct and ordered.
func (s *Session) SendChat(ctx context.Context, text string) {
	line := protocol.Chat{Sender: s.cfg.LocalID, Text: text, SentAt: time.Now().UnixMilli()}
	s.mu.Lock()
	s.transcript = append(s.transcript, line)
	s.mu.Unlock()
	s.send(ctx, line)
}

// RunPreview evaluates a small subset of the test suite. It never gates
// submission and never transmits anything.
func (s *Session) RunPreview(ctx context.Context, languageID string) (sandbox.Report, error) {
	return s.evaluate(ctx, languageID, PreviewCases)
}

// Submit runs the full test suite; only a clean pass records and transmits
// the submit event and, for the initiator, enters arbitration.
func (s *Session) Submit(ctx context.Context, languageID string) (sandbox.Report, error) {
	s.mu.Lock()
	already := s.submitted != nil
	s.mu.Unlock()
	if already {
		return sandbox.Report{}, pkgerrors.New(pkgerrors.DuplicateSubmit)
	}

	report, err := s.evaluate(ctx, languageID, 0)
	if err != nil {
		return report, err
	}
	if !report.AllPassed() {
		return report, pkgerrors.Newf(pkgerrors.TestsFailed, "%d/%d test cases passed", report.Passed, report.Total)
	}

	elapsed, err := s.elapsedMs(time.Now())
	if err != nil {
		return report, err
	}
	event := protocol.Submit{Sender: s.cfg.LocalID, SessionID: s.cfg.SessionID, ElapsedMs: elapsed}
	s.mu.Lock()
	s.submitted = &event
	s.mu.Unlock()
	s.send(ctx, event)
	logger.Info(ctx, "submission accepted locally", zap.Int64("elapsed_ms", elapsed))

	if s.cfg.Role == protocol.RoleInitiator {
		s.arbitrate(ctx, s.cfg.LocalID, elapsed)
	}
	return report, nil
}

func (s *Session) evaluate(ctx context.Context, languageID string, limit int) (sandbox.Report, error) {
	s.mu.Lock()
	problem := s.problem
	source, hasCode := s.code[languageID]
	if !hasCode && problem != nil {
		source = problem.StarterCode[languageID]
	}
	s.mu.Unlock()

	if problem == nil {
		return sandbox.Report{}, pkgerrors.New(pkgerrors.NoProblemLoaded)
	}
	sb, err := s.registry.Get(languageID)
	if err != nil {
		return sandbox.Report{}, err
	}
	return sandbox.Evaluate(ctx, sb, *problem, source, limit)
}

// GiveUp voluntarily forfeits: broadcast, then terminate locally. No winner
// is computed; this is an abandonment, not a loss adjudication.
func (s *Session) GiveUp(ctx context.Context) {
	s.send(ctx, protocol.GiveUp{})
	s.finalize(ctx, Outcome{Status: StatusAbandoned, Reason: "gave up"})
}

// Abandon terminates the session after sustained peer loss.
func (s *Session) Abandon(ctx context.Context, reason error) {
	msg := "connection lost"
	if reason != nil {
		msg = reason.Error()
	}
	s.finalize(ctx, Outcome{Status: StatusAbandoned, Reason: msg})
}

// send encodes and transmits one event; transmission failures are absorbed
// (the peer-loss path handles a dead transport).
func (s *Session) send(ctx context.Context, ev protocol.ChannelEvent) {
	raw, err := protocol.EncodeChannelEvent(ev)
	if err != nil {
		logger.Error(ctx, "encode outbound message failed", zap.String("kind", string(ev.Kind())), zap.Error(err))
		return
	}
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		logger.Warn(ctx, "no transport for outbound message", zap.String("kind", string(ev.Kind())))
		return
	}
	if err := t.SendMessage(raw); err != nil {
		logger.Warn(ctx, "send failed", zap.String("kind", string(ev.Kind())), zap.Error(err))
	}
}

// finalize runs teardown exactly once: record the outcome, let outbound
// messages flush, close every resource independently, then signal the
// caller to leave.
func (s *Session) finalize(ctx context.Context, out Outcome) {
	if !s.finalized.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	s.status = out.Status
	if out.Result != nil {
		s.result = out.Result
	}
	s.mu.Unlock()

	if s.flushDelay > 0 {
		time.Sleep(s.flushDelay)
	}

	var errs error
	for _, close := range s.closers {
		if close == nil {
			continue
		}
		if err := close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		logger.Warn(ctx, "finalization close errors", zap.Error(errs))
	}
	logger.Info(ctx, "session finalized", zap.String("status", string(out.Status)), zap.String("reason", out.Reason))

	s.leave <- out
}
