package protocol_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"codeduel/internal/protocol"
	pkgerrors "codeduel/pkg/errors"
)

func roundTrip(t *testing.T, ev protocol.ChannelEvent) protocol.ChannelEvent {
	t.Helper()
	raw, err := protocol.EncodeChannelEvent(ev)
	if err != nil {
		t.Fatalf("encode %s: %v", ev.Kind(), err)
	}
	decoded, err := protocol.DecodeChannelEvent(raw)
	if err != nil {
		t.Fatalf("decode %s: %v", ev.Kind(), err)
	}
	return decoded
}

func TestChannelEventRoundTrip(t *testing.T) {
	events := []protocol.ChannelEvent{
		protocol.Chat{Sender: "alice", Text: "good luck", SentAt: 1700000000000},
		protocol.QuestionData{Question: protocol.Problem{
			Title:      "Two Sum",
			TargetFunc: "twoSum",
			TestCases:  []protocol.TestCase{{Inputs: []interface{}{float64(1), float64(2)}, Expected: float64(3)}},
		}},
		protocol.MatchStart{SessionID: "sess-1", StartedAt: 1700000000000},
		protocol.Submit{Sender: "alice", SessionID: "sess-1", ElapsedMs: 12000},
		protocol.MatchResult{SessionID: "sess-1", Winner: "alice", Loser: "bob", WinnerTimeMs: 12000, LoserTimeMs: 15000},
		protocol.GiveUp{},
	}
	for _, ev := range events {
		decoded := roundTrip(t, ev)
		if !reflect.DeepEqual(decoded, ev) {
			t.Fatalf("round trip of %s: expected %+v, got %+v", ev.Kind(), ev, decoded)
		}
	}
}

func TestEncodeCarriesVersionAndKind(t *testing.T) {
	raw, err := protocol.EncodeChannelEvent(protocol.Chat{Sender: "alice", Text: "hi"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var env struct {
		V    int    `json:"v"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.V != protocol.Version {
		t.Fatalf("expected version %d, got %d", protocol.Version, env.V)
	}
	if env.Kind != "chat" {
		t.Fatalf("expected kind chat, got %s", env.Kind)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	decoded, err := protocol.DecodeChannelEvent([]byte(`{"v":1,"kind":"emoji_react","data":{"emoji":"x"}}`))
	if err != nil {
		t.Fatalf("unknown kind should not error, got %v", err)
	}
	unknown, ok := decoded.(protocol.Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", decoded)
	}
	if unknown.RawKind != "emoji_react" {
		t.Fatalf("expected raw kind emoji_react, got %s", unknown.RawKind)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"v":1,"kind":"chat","data":[1,2,3]}`),
	}
	for _, raw := range cases {
		if _, err := protocol.DecodeChannelEvent(raw); pkgerrors.GetCode(err) != pkgerrors.MalformedMessage {
			t.Fatalf("expected MalformedMessage for %q, got %v", raw, err)
		}
	}
}

func TestDecodeGiveUpIgnoresPayload(t *testing.T) {
	decoded, err := protocol.DecodeChannelEvent([]byte(`{"v":1,"kind":"give_up"}`))
	if err != nil {
		t.Fatalf("decode give_up: %v", err)
	}
	if _, ok := decoded.(protocol.GiveUp); !ok {
		t.Fatalf("expected GiveUp, got %T", decoded)
	}
}
