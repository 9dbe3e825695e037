package relay

import (
	"context"
	"encoding/json"
	"sync"

	"codeduel/internal/protocol"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

// peer is one registered client connection. Writes are serialized through
// the send channel; the connection's write pump drains it. Sends and the
// displacement close both happen under Hub.mu, never unlocked.
type peer struct {
	userID string
	send   chan []byte
}

// Hub maps user ids to their active connections and forwards tagged
// messages between them. It is a single-process registry; multi-node
// fan-out is out of scope.
type Hub struct {
	mu    sync.Mutex
	peers map[string]*peer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{peers: make(map[string]*peer)}
}

// register adds an authenticated connection, displacing any stale one for
// the same user.
func (h *Hub) register(p *peer) {
	h.mu.Lock()
	if old, ok := h.peers[p.userID]; ok {
		close(old.send)
	}
	h.peers[p.userID] = p
	h.mu.Unlock()
}

// unregister removes the connection if it is still the current one.
func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	if current, ok := h.peers[p.userID]; ok && current == p {
		delete(h.peers, p.userID)
		close(p.send)
	}
	h.mu.Unlock()
}

// Forward stamps the sender onto the message and delivers it to the target.
// A missing target is logged and dropped; signaling is best-effort.
func (h *Hub) Forward(ctx context.Context, senderID string, msg protocol.SignalMessage) {
	if msg.Target == "" {
		return
	}
	msg.From = senderID

	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Warn(ctx, "encode forwarded signal failed", zap.Error(err))
		return
	}

	if !h.deliver(msg.Target, raw) {
		logger.Warn(ctx, "signal target missing or slow, dropping", zap.String("target", msg.Target))
	}
}

// deliver queues an arbitrary payload for one user, if connected. The lock
// is held across the non-blocking send so a concurrent displacement cannot
// close the channel mid-send.
func (h *Hub) deliver(userID string, raw []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	target, ok := h.peers[userID]
	if !ok {
		return false
	}
	select {
	case target.send <- raw:
		return true
	default:
		return false
	}
}
