// Package signaling maintains the single websocket connection to the relay.
// The connection exists only to exchange connection-establishment metadata;
// once the peer data channel opens the session closes it.
package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeduel/internal/protocol"
	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

// Client is an ordered, bidirectional message connection to the relay.
// All writes go through a single writer goroutine; reads are delivered on
// the Signals and Matches channels.
type Client struct {
	conn *websocket.Conn

	signals chan protocol.SignalMessage
	matches chan protocol.MatchFound
	errs    chan error
	out     chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the relay connection and authenticates it by sending the token
// as the first message, per the relay protocol.
func Dial(ctx context.Context, relayURL, token string) (*Client, error) {
	if relayURL == "" {
		return nil, pkgerrors.New(pkgerrors.MissingRelayURL)
	}
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.MissingAuthToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SignalingDialFailed)
	}

	auth, err := json.Marshal(protocol.AuthRequest{Token: token})
	if err != nil {
		_ = conn.Close()
		return nil, pkgerrors.Wrap(err, pkgerrors.SignalingSendFailed)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		_ = conn.Close()
		return nil, pkgerrors.Wrap(err, pkgerrors.SignalingSendFailed)
	}

	c := &Client{
		conn:    conn,
		signals: make(chan protocol.SignalMessage, sendBufferSize),
		matches: make(chan protocol.MatchFound, 1),
		errs:    make(chan error, 1),
		out:     make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
	}
	go c.readPump(ctx)
	go c.writePump()
	return c, nil
}

// Signals delivers relay-forwarded offer/answer/candidate messages.
func (c *Client) Signals() <-chan protocol.SignalMessage { return c.signals }

// Matches delivers the matchmaking hand-off, at most once.
func (c *Client) Matches() <-chan protocol.MatchFound { return c.matches }

// Errs reports the transport error that ended the connection, if any.
func (c *Client) Errs() <-chan error { return c.errs }

// Send queues one signal for transmission. Sending on a closed client is a
// no-op error rather than a panic; negotiation may race with teardown.
func (c *Client) Send(msg protocol.SignalMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.SignalingSendFailed)
	}
	select {
	case <-c.done:
		return pkgerrors.New(pkgerrors.SignalingClosed)
	case c.out <- raw:
		return nil
	}
}

// Close shuts the connection down. Safe to call multiple times and after a
// transport error.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.errs <- pkgerrors.Wrap(err, pkgerrors.SignalingClosed):
			default:
			}
			return
		}

		var msg protocol.SignalMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn(ctx, "dropping unparseable signaling message", zap.Error(err))
			continue
		}

		switch msg.Event {
		case protocol.SignalMatchFound:
			var found protocol.MatchFound
			if err := json.Unmarshal(raw, &found); err != nil {
				logger.Warn(ctx, "dropping malformed match_found", zap.Error(err))
				continue
			}
			select {
			case c.matches <- found:
			default:
			}
		case protocol.SignalOffer, protocol.SignalAnswer, protocol.SignalICECandidate:
			select {
			case c.signals <- msg:
			case <-c.done:
				return
			}
		default:
			// Unknown events are ignored at the boundary.
		}
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case raw := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				select {
				case c.errs <- pkgerrors.Wrap(err, pkgerrors.SignalingSendFailed):
				default:
				}
				c.Close()
				return
			}
		}
	}
}
