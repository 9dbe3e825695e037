package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"codeduel/internal/protocol"
	"codeduel/pkg/utils/contextkey"
	"codeduel/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	authReadWait  = 10 * time.Second
	writeWait     = 10 * time.Second
	peerSendDepth = 32

	// close codes mirrored from the original relay behavior.
	closeInvalidToken = 4001
)

// Server is the relay's HTTP surface: a websocket signaling endpoint plus a
// health probe.
type Server struct {
	verifier   TokenVerifier
	hub        *Hub
	matchmaker *Matchmaker
	upgrader   websocket.Upgrader
}

// NewServer wires the relay components.
func NewServer(verifier TokenVerifier) *Server {
	hub := NewHub()
	return &Server{
		verifier:   verifier,
		hub:        hub,
		matchmaker: NewMatchmaker(hub),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers connect from arbitrary origins during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin handler.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", s.handleWS)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// handleWS upgrades the connection, authenticates the first message, then
// registers the peer and serves it until disconnect.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	userID, ok := s.authenticate(conn)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeInvalidToken, "invalid or expired token"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	ctx := contextkey.WithUser(c.Request.Context(), userID)
	logger.Info(ctx, "relay client registered")

	p := &peer{userID: userID, send: make(chan []byte, peerSendDepth)}
	s.hub.register(p)
	s.matchmaker.Enqueue(ctx, userID)

	go s.writePump(conn, p)
	s.readPump(ctx, conn, p)
}

func (s *Server) authenticate(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(authReadWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}
	_ = conn.SetReadDeadline(time.Time{})

	var auth protocol.AuthRequest
	if err := json.Unmarshal(raw, &auth); err != nil || auth.Token == "" {
		return "", false
	}
	userID, err := s.verifier.Verify(auth.Token)
	if err != nil {
		return "", false
	}
	return userID, true
}

// readPump forwards signaling traffic until the client drops. Unknown
// events are ignored.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, p *peer) {
	defer func() {
		s.hub.unregister(p)
		s.matchmaker.Remove(p.userID)
		_ = conn.Close()
		logger.Info(ctx, "relay client disconnected")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg protocol.SignalMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debug(ctx, "dropping unparseable client message", zap.Error(err))
			continue
		}
		switch msg.Event {
		case protocol.SignalOffer, protocol.SignalAnswer, protocol.SignalICECandidate:
			s.hub.Forward(ctx, p.userID, msg)
		default:
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, p *peer) {
	for raw := range p.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			_ = conn.Close()
			return
		}
	}
	// Hub closed the channel: this connection was displaced or unregistered.
	_ = conn.Close()
}
