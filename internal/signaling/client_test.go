package signaling_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeduel/internal/protocol"
	"codeduel/internal/signaling"
	pkgerrors "codeduel/pkg/errors"

	"github.com/gorilla/websocket"
)

// fakeRelay accepts one websocket client, records what it receives in order
// and lets the test push messages down to the client.
type fakeRelay struct {
	server *httptest.Server

	mu       sync.Mutex
	received [][]byte
	conn     *websocket.Conn
	ready    chan struct{}
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{ready: make(chan struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.ready)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.received = append(f.received, raw)
			f.mu.Unlock()
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeRelay) push(t *testing.T, v interface{}) {
	t.Helper()
	select {
	case <-f.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never accepted a client")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.WriteJSON(v); err != nil {
		t.Fatalf("relay push: %v", err)
	}
}

func (f *fakeRelay) waitReceived(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.received) >= n {
			out := make([][]byte, len(f.received))
			copy(out, f.received)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("relay never received %d messages", n)
	return nil
}

func TestDialValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := signaling.Dial(ctx, "", "tok"); pkgerrors.GetCode(err) != pkgerrors.MissingRelayURL {
		t.Fatalf("expected MissingRelayURL, got %v", err)
	}
	if _, err := signaling.Dial(ctx, "ws://127.0.0.1:1/ws", ""); pkgerrors.GetCode(err) != pkgerrors.MissingAuthToken {
		t.Fatalf("expected MissingAuthToken, got %v", err)
	}
	if _, err := signaling.Dial(ctx, "ws://127.0.0.1:1/ws", "tok"); pkgerrors.GetCode(err) != pkgerrors.SignalingDialFailed {
		t.Fatalf("expected SignalingDialFailed, got %v", err)
	}
}

func TestDialSendsTokenFirst(t *testing.T) {
	relay := newFakeRelay(t)
	client, err := signaling.Dial(context.Background(), relay.url(), "tok-123")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	received := relay.waitReceived(t, 1)
	var auth protocol.AuthRequest
	if err := json.Unmarshal(received[0], &auth); err != nil {
		t.Fatalf("unmarshal auth: %v", err)
	}
	if auth.Token != "tok-123" {
		t.Fatalf("expected token first on the wire, got %q", auth.Token)
	}
}

func TestClientRoutesMatchFoundAndSignals(t *testing.T) {
	relay := newFakeRelay(t)
	client, err := signaling.Dial(context.Background(), relay.url(), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	relay.push(t, protocol.MatchFound{
		Event:     protocol.SignalMatchFound,
		SessionID: "sess-1",
		Opponent:  protocol.Opponent{ID: "bob", Elo: 1200},
		Role:      protocol.RoleInitiator,
	})
	relay.push(t, map[string]interface{}{"event": "presence", "data": "ignored"})
	relay.push(t, protocol.SignalMessage{
		Event: protocol.SignalOffer,
		From:  "bob",
		Data:  json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	select {
	case found := <-client.Matches():
		if found.SessionID != "sess-1" || found.Opponent.ID != "bob" || found.Role != protocol.RoleInitiator {
			t.Fatalf("expected hand-off fields, got %+v", found)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected match_found delivered")
	}
	select {
	case sig := <-client.Signals():
		if sig.Event != protocol.SignalOffer || sig.From != "bob" {
			t.Fatalf("expected routed offer, got %+v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected offer delivered (presence event skipped)")
	}
}

func TestClientSend(t *testing.T) {
	relay := newFakeRelay(t)
	client, err := signaling.Dial(context.Background(), relay.url(), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Send(protocol.SignalMessage{Event: protocol.SignalAnswer, Target: "bob"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	received := relay.waitReceived(t, 2) // auth, then the answer
	var msg protocol.SignalMessage
	if err := json.Unmarshal(received[1], &msg); err != nil {
		t.Fatalf("unmarshal sent signal: %v", err)
	}
	if msg.Event != protocol.SignalAnswer || msg.Target != "bob" {
		t.Fatalf("expected answer on the wire, got %+v", msg)
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	relay := newFakeRelay(t)
	client, err := signaling.Dial(context.Background(), relay.url(), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := client.Send(protocol.SignalMessage{Event: protocol.SignalOffer}); pkgerrors.GetCode(err) != pkgerrors.SignalingClosed {
		t.Fatalf("expected SignalingClosed after close, got %v", err)
	}
}

func TestClientReportsRelayLoss(t *testing.T) {
	relay := newFakeRelay(t)
	client, err := signaling.Dial(context.Background(), relay.url(), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	select {
	case <-relay.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never accepted a client")
	}
	relay.mu.Lock()
	_ = relay.conn.Close()
	relay.mu.Unlock()

	select {
	case err := <-client.Errs():
		if pkgerrors.GetCode(err) != pkgerrors.SignalingClosed {
			t.Fatalf("expected SignalingClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected transport loss surfaced on Errs")
	}
}
