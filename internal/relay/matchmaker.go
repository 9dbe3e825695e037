package relay

import (
	"context"
	"encoding/json"
	"sync"

	"codeduel/internal/protocol"
	"codeduel/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Matchmaker is the development stand-in for the external matchmaking
// queue: it pairs the first two waiting users and issues the match_found
// hand-off (session id, peer identity, role) to both. Production
// deployments point the engine at a real matchmaker via the same message.
type Matchmaker struct {
	hub *Hub

	mu      sync.Mutex
	waiting []string
}

// NewMatchmaker creates a matchmaker publishing through the hub.
func NewMatchmaker(hub *Hub) *Matchmaker {
	return &Matchmaker{hub: hub}
}

// Enqueue adds a user and pairs immediately when two are waiting. The first
// enqueued becomes the initiator.
func (m *Matchmaker) Enqueue(ctx context.Context, userID string) {
	m.mu.Lock()
	for _, id := range m.waiting {
		if id == userID {
			m.mu.Unlock()
			return
		}
	}
	m.waiting = append(m.waiting, userID)
	if len(m.waiting) < 2 {
		m.mu.Unlock()
		return
	}
	first, second := m.waiting[0], m.waiting[1]
	m.waiting = m.waiting[2:]
	m.mu.Unlock()

	sessionID := uuid.NewString()
	logger.Info(ctx, "match paired",
		zap.String("session_id", sessionID),
		zap.String("initiator", first),
		zap.String("responder", second))

	m.notify(ctx, first, sessionID, second, protocol.RoleInitiator)
	m.notify(ctx, second, sessionID, first, protocol.RoleResponder)
}

// Remove drops a user from the queue on disconnect.
func (m *Matchmaker) Remove(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.waiting[:0]
	for _, id := range m.waiting {
		if id != userID {
			kept = append(kept, id)
		}
	}
	m.waiting = kept
}

func (m *Matchmaker) notify(ctx context.Context, userID, sessionID, opponentID string, role protocol.Role) {
	msg := protocol.MatchFound{
		Event:     protocol.SignalMatchFound,
		SessionID: sessionID,
		Opponent:  protocol.Opponent{ID: opponentID},
		Role:      role,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Error(ctx, "encode match_found failed", zap.Error(err))
		return
	}
	if !m.hub.deliver(userID, raw) {
		logger.Warn(ctx, "match_found undeliverable", zap.String("user_id", userID))
	}
}
