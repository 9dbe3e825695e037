package match

import (
	"context"
	"time"

	"codeduel/internal/protocol"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

// HandleChannelMessage decodes one raw data channel message and routes it by
// kind. Non-parseable payloads are dropped silently; the session never dies
// on bad input from the peer.
func (s *Session) HandleChannelMessage(ctx context.Context, raw []byte) {
	ev, err := protocol.DecodeChannelEvent(raw)
	if err != nil {
		logger.Debug(ctx, "dropping malformed data channel message", zap.Error(err))
		return
	}

	switch msg := ev.(type) {
	case protocol.Chat:
		s.handleChat(msg)
	case protocol.QuestionData:
		s.handleQuestionData(ctx, msg)
	case protocol.MatchStart:
		s.handleMatchStart(ctx, msg)
	case protocol.Submit:
		s.handleRemoteSubmit(ctx, msg)
	case protocol.MatchResult:
		s.handleMatchResult(ctx, msg)
	case protocol.GiveUp:
		s.handleGiveUp(ctx)
	default:
		logger.Debug(ctx, "ignoring unknown message kind", zap.String("kind", string(ev.Kind())))
	}
}

func (s *Session) handleChat(msg protocol.Chat) {
	s.mu.Lock()
	s.transcript = append(s.transcript, msg)
	s.mu.Unlock()
}

// handleQuestionData adopts a received problem. The responder only ever
// adopts; the initiator ignores echoes since its copy is authoritative.
func (s *Session) handleQuestionData(ctx context.Context, msg protocol.QuestionData) {
	s.mu.Lock()
	adopt := s.problem == nil
	if adopt {
		problem := msg.Question
		s.problem = &problem
	}
	s.mu.Unlock()
	if adopt {
		logger.Info(ctx, "problem adopted", zap.String("title", msg.Question.Title))
	}
}

// handleMatchStart adopts the initiator's clock. The responder takes the
// received value verbatim so both sides derive remaining time from one
// authority.
func (s *Session) handleMatchStart(ctx context.Context, msg protocol.MatchStart) {
	if s.cfg.Role == protocol.RoleInitiator {
		return
	}
	s.mu.Lock()
	if s.startAt.IsZero() {
		s.startAt = time.UnixMilli(msg.StartedAt)
		if s.status == StatusPending {
			s.status = StatusLive
		}
	}
	s.mu.Unlock()
	logger.Info(ctx, "match clock adopted", zap.Int64("started_at_ms", msg.StartedAt))
}

// handleRemoteSubmit is the initiator's received-submit arbitration path.
// The responder records the event but never arbitrates.
func (s *Session) handleRemoteSubmit(ctx context.Context, msg protocol.Submit) {
	if msg.SessionID != s.cfg.SessionID {
		logger.Warn(ctx, "ignoring submit for foreign session", zap.String("got", msg.SessionID))
		return
	}
	if s.cfg.Role != protocol.RoleInitiator {
		return
	}
	s.arbitrate(ctx, msg.Sender, msg.ElapsedMs)
}

// handleMatchResult is the responder's finalization path: adopt whatever the
// initiator declared and exit.
func (s *Session) handleMatchResult(ctx context.Context, msg protocol.MatchResult) {
	if s.cfg.Role == protocol.RoleInitiator {
		return
	}
	status := StatusLost
	if msg.Winner == s.cfg.LocalID {
		status = StatusWon
	}
	result := msg
	s.finalize(ctx, Outcome{Status: status, Result: &result, Reason: "result received"})
}

// handleGiveUp treats the peer's forfeit as immediate termination without a
// result.
func (s *Session) handleGiveUp(ctx context.Context) {
	s.finalize(ctx, Outcome{Status: StatusAbandoned, Reason: "opponent gave up"})
}

// arbitrate declares the result. Only the initiator reaches this, from
// either the local-submit path or the received-submit path; the one-shot
// latch makes the first observed submission the winner and every later
// attempt a no-op.
func (s *Session) arbitrate(ctx context.Context, winnerID string, winnerElapsedMs int64) {
	if !s.decided.CompareAndSwap(false, true) {
		return
	}

	loserID := s.cfg.OpponentID
	if winnerID != s.cfg.LocalID {
		loserID = s.cfg.LocalID
	}
	loserElapsed := s.loserElapsedMs(loserID, winnerElapsedMs)

	result := protocol.MatchResult{
		SessionID:    s.cfg.SessionID,
		Winner:       winnerID,
		Loser:        loserID,
		WinnerTimeMs: winnerElapsedMs,
		LoserTimeMs:  loserElapsed,
	}
	logger.Info(ctx, "result arbitrated",
		zap.String("winner", winnerID),
		zap.Int64("winner_time_ms", winnerElapsedMs),
		zap.String("loser", loserID))

	// Rating updates are fire-and-forget: a dead rating service must not
	// keep the match from concluding.
	if s.rating != nil {
		go s.reportRating(ctx, winnerID, true)
		go s.reportRating(ctx, loserID, false)
	}

	s.send(ctx, result)

	status := StatusLost
	if winnerID == s.cfg.LocalID {
		status = StatusWon
	}
	s.finalize(ctx, Outcome{Status: status, Result: &result, Reason: "result arbitrated"})
}

// loserElapsedMs picks the best available reading for the losing side: its
// recorded submission if one exists, otherwise the clock at decision time.
func (s *Session) loserElapsedMs(loserID string, winnerElapsedMs int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted != nil && s.submitted.Sender == loserID {
		return s.submitted.ElapsedMs
	}
	if !s.startAt.IsZero() {
		return time.Since(s.startAt).Milliseconds()
	}
	return winnerElapsedMs
}

func (s *Session) reportRating(ctx context.Context, userID string, win bool) {
	if err := s.rating.UpdateRating(ctx, userID, s.cfg.SessionID, win); err != nil {
		logger.Warn(ctx, "rating update failed", zap.String("for_user", userID), zap.Error(err))
	}
}
