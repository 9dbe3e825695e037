package match_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codeduel/internal/match"
	"codeduel/internal/protocol"
	"codeduel/internal/sandbox"
	pkgerrors "codeduel/pkg/errors"
)

// fakeTransport records every message pushed over the data channel.
type fakeTransport struct {
	mu   sync.Mutex
	sent []protocol.ChannelEvent
	err  error
}

func (f *fakeTransport) SendMessage(data []byte) error {
	if f.err != nil {
		return f.err
	}
	ev, err := protocol.DecodeChannelEvent(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) events() []protocol.ChannelEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.ChannelEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) countKind(kind protocol.ChannelKind) int {
	n := 0
	for _, ev := range f.events() {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

func (f *fakeTransport) lastResult() (protocol.MatchResult, bool) {
	for _, ev := range f.events() {
		if res, ok := ev.(protocol.MatchResult); ok {
			return res, true
		}
	}
	return protocol.MatchResult{}, false
}

type fakeBank struct {
	problem protocol.Problem
	err     error
}

func (f *fakeBank) Question(ctx context.Context, sessionID string) (protocol.Problem, error) {
	return f.problem, f.err
}

type ratingCall struct {
	userID string
	win    bool
}

type fakeRating struct {
	calls chan ratingCall
}

func newFakeRating() *fakeRating {
	return &fakeRating{calls: make(chan ratingCall, 8)}
}

func (f *fakeRating) UpdateRating(ctx context.Context, userID, sessionID string, win bool) error {
	f.calls <- ratingCall{userID: userID, win: win}
	return nil
}

// passSandbox returns the expected value for every case.
type passSandbox struct{}

func (passSandbox) Run(ctx context.Context, source, funcName string, args []interface{}) sandbox.RunResult {
	if len(args) == 2 {
		a, _ := args[0].(float64)
		b, _ := args[1].(float64)
		return sandbox.RunResult{Output: a + b, Logs: []string{}}
	}
	return sandbox.RunResult{Output: nil, Logs: []string{}}
}

// failSandbox always returns the wrong value.
type failSandbox struct{}

func (failSandbox) Run(ctx context.Context, source, funcName string, args []interface{}) sandbox.RunResult {
	return sandbox.RunResult{Output: float64(-1), Logs: []string{}}
}

func testProblem() protocol.Problem {
	return protocol.Problem{
		Title:       "Add Two Numbers",
		TargetFunc:  "add",
		StarterCode: map[string]string{"fake": "function add(a, b) {}"},
		TestCases: []protocol.TestCase{
			{Inputs: []interface{}{float64(1), float64(2)}, Expected: float64(3)},
			{Inputs: []interface{}{float64(2), float64(3)}, Expected: float64(5)},
		},
	}
}

func newTestSession(t *testing.T, role protocol.Role, transport match.Transport, bank match.ProblemBank, rating match.RatingService, sb sandbox.Sandbox) *match.Session {
	t.Helper()
	registry := sandbox.NewRegistry()
	if sb != nil {
		registry.Register("fake", sb)
	}
	sess, err := match.NewSession(match.Config{
		SessionID:  "sess-1",
		LocalID:    "alice",
		OpponentID: "bob",
		Role:       role,
	}, transport, bank, rating, registry)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	match.SetFlushDelay(sess, 0)
	return sess
}

func encode(t *testing.T, ev protocol.ChannelEvent) []byte {
	t.Helper()
	raw, err := protocol.EncodeChannelEvent(ev)
	if err != nil {
		t.Fatalf("encode %s: %v", ev.Kind(), err)
	}
	return raw
}

func awaitLeave(t *testing.T, sess *match.Session) match.Outcome {
	t.Helper()
	select {
	case out := <-sess.Leave():
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finalize")
		return match.Outcome{}
	}
}

func TestNewSessionValidation(t *testing.T) {
	registry := sandbox.NewRegistry()
	cases := []match.Config{
		{LocalID: "a", OpponentID: "b", Role: protocol.RoleInitiator},
		{SessionID: "s", OpponentID: "b", Role: protocol.RoleInitiator},
		{SessionID: "s", LocalID: "a", Role: protocol.RoleInitiator},
		{SessionID: "s", LocalID: "a", OpponentID: "b", Role: "spectator"},
	}
	for _, cfg := range cases {
		if _, err := match.NewSession(cfg, nil, nil, nil, registry); err == nil {
			t.Fatalf("expected validation error for %+v", cfg)
		}
	}
}

func TestInitiatorChannelOpenDistributes(t *testing.T) {
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleInitiator, transport, &fakeBank{problem: testProblem()}, nil, passSandbox{})

	sess.OnChannelOpen(context.Background())

	if sess.Status() != match.StatusLive {
		t.Fatalf("expected live, got %s", sess.Status())
	}
	events := transport.events()
	if len(events) != 2 {
		t.Fatalf("expected match_start and question_data, got %v", events)
	}
	start, ok := events[0].(protocol.MatchStart)
	if !ok || start.SessionID != "sess-1" || start.StartedAt == 0 {
		t.Fatalf("expected match_start first, got %+v", events[0])
	}
	if q, ok := events[1].(protocol.QuestionData); !ok || q.Question.Title != "Add Two Numbers" {
		t.Fatalf("expected question_data second, got %+v", events[1])
	}
	if _, ok := sess.Problem(); !ok {
		t.Fatal("expected problem adopted locally")
	}
}

func TestInitiatorProblemFetchFailureAbandons(t *testing.T) {
	transport := &fakeTransport{}
	bank := &fakeBank{err: errors.New("backend unreachable")}
	sess := newTestSession(t, protocol.RoleInitiator, transport, bank, nil, passSandbox{})

	sess.OnChannelOpen(context.Background())

	if transport.countKind(protocol.KindGiveUp) != 1 {
		t.Fatalf("expected give_up broadcast, got %v", transport.events())
	}
	out := awaitLeave(t, sess)
	if out.Status != match.StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", out.Status)
	}
	if out.Result != nil {
		t.Fatalf("expected no result, got %+v", out.Result)
	}
}

func TestResponderChannelOpenWaits(t *testing.T) {
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleResponder, transport, &fakeBank{problem: testProblem()}, nil, passSandbox{})

	sess.OnChannelOpen(context.Background())

	if sess.Status() != match.StatusLive {
		t.Fatalf("expected live, got %s", sess.Status())
	}
	if len(transport.events()) != 0 {
		t.Fatalf("responder must not distribute anything, got %v", transport.events())
	}
}

func TestResponderAdoptsClockAndProblem(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleResponder, transport, nil, nil, passSandbox{})

	startedAt := time.Now().Add(-10 * time.Second).UnixMilli()
	sess.HandleChannelMessage(ctx, encode(t, protocol.MatchStart{SessionID: "sess-1", StartedAt: startedAt}))
	sess.HandleChannelMessage(ctx, encode(t, protocol.QuestionData{Question: testProblem()}))

	if sess.Status() != match.StatusLive {
		t.Fatalf("expected live, got %s", sess.Status())
	}
	if _, ok := sess.Problem(); !ok {
		t.Fatal("expected problem adopted")
	}
	remaining := sess.Remaining(time.Now())
	if remaining >= match.DefaultDuration || remaining < match.DefaultDuration-time.Minute {
		t.Fatalf("expected remaining just under the full duration, got %s", remaining)
	}
}

func TestRemainingBeforeClockStart(t *testing.T) {
	sess := newTestSession(t, protocol.RoleResponder, &fakeTransport{}, nil, nil, nil)
	if got := sess.Remaining(time.Now()); got != match.DefaultDuration {
		t.Fatalf("expected full duration before start, got %s", got)
	}
}

func TestInitiatorLocalSubmitWins(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	rating := newFakeRating()
	sess := newTestSession(t, protocol.RoleInitiator, transport, &fakeBank{problem: testProblem()}, rating, passSandbox{})
	sess.OnChannelOpen(ctx)

	report, err := sess.Submit(ctx, "fake")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !report.AllPassed() {
		t.Fatalf("expected clean pass, got %d/%d", report.Passed, report.Total)
	}

	out := awaitLeave(t, sess)
	if out.Status != match.StatusWon {
		t.Fatalf("expected won, got %s", out.Status)
	}
	res, ok := transport.lastResult()
	if !ok {
		t.Fatal("expected match_result transmitted")
	}
	if res.Winner != "alice" || res.Loser != "bob" {
		t.Fatalf("expected alice over bob, got %+v", res)
	}
	if transport.countKind(protocol.KindSubmit) != 1 {
		t.Fatal("expected exactly one submit event")
	}

	wins := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case call := <-rating.calls:
			wins[call.userID] = call.win
		case <-time.After(2 * time.Second):
			t.Fatal("expected two rating updates")
		}
	}
	if !wins["alice"] || wins["bob"] {
		t.Fatalf("expected alice win=true, bob win=false, got %v", wins)
	}
}

func TestSubmitGatedOnFullSuite(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleInitiator, transport, &fakeBank{problem: testProblem()}, nil, failSandbox{})
	sess.OnChannelOpen(ctx)

	report, err := sess.Submit(ctx, "fake")
	if pkgerrors.GetCode(err) != pkgerrors.TestsFailed {
		t.Fatalf("expected TestsFailed, got %v", err)
	}
	if report.Passed != 0 {
		t.Fatalf("expected no cases passing, got %d", report.Passed)
	}
	if transport.countKind(protocol.KindSubmit) != 0 {
		t.Fatal("failing submit must not transmit")
	}
	if sess.Status() != match.StatusLive {
		t.Fatalf("expected session still live, got %s", sess.Status())
	}
}

func TestSubmitRequiresProblem(t *testing.T) {
	sess := newTestSession(t, protocol.RoleResponder, &fakeTransport{}, nil, nil, passSandbox{})
	if _, err := sess.Submit(context.Background(), "fake"); pkgerrors.GetCode(err) != pkgerrors.NoProblemLoaded {
		t.Fatalf("expected NoProblemLoaded, got %v", err)
	}
}

func TestDuplicateSubmitRejected(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, protocol.RoleInitiator, &fakeTransport{}, &fakeBank{problem: testProblem()}, nil, passSandbox{})
	sess.OnChannelOpen(ctx)

	if _, err := sess.Submit(ctx, "fake"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	awaitLeave(t, sess)
	if _, err := sess.Submit(ctx, "fake"); pkgerrors.GetCode(err) != pkgerrors.DuplicateSubmit {
		t.Fatalf("expected DuplicateSubmit, got %v", err)
	}
}

func TestInitiatorArbitratesRemoteSubmit(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleInitiator, transport, &fakeBank{problem: testProblem()}, nil, passSandbox{})
	sess.OnChannelOpen(ctx)

	sess.HandleChannelMessage(ctx, encode(t, protocol.Submit{Sender: "bob", SessionID: "sess-1", ElapsedMs: 12000}))

	out := awaitLeave(t, sess)
	if out.Status != match.StatusLost {
		t.Fatalf("expected lost, got %s", out.Status)
	}
	res, ok := transport.lastResult()
	if !ok {
		t.Fatal("expected match_result transmitted")
	}
	if res.Winner != "bob" || res.WinnerTimeMs != 12000 || res.Loser != "alice" {
		t.Fatalf("expected bob winning in 12000ms, got %+v", res)
	}
}

func TestRemoteSubmitForeignSessionIgnored(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleInitiator, transport, &fakeBank{problem: testProblem()}, nil, passSandbox{})
	sess.OnChannelOpen(ctx)

	sess.HandleChannelMessage(ctx, encode(t, protocol.Submit{Sender: "bob", SessionID: "other", ElapsedMs: 12000}))

	if _, ok := transport.lastResult(); ok {
		t.Fatal("foreign-session submit must not arbitrate")
	}
	if sess.Status() != match.StatusLive {
		t.Fatalf("expected session still live, got %s", sess.Status())
	}
}

func TestResponderNeverArbitrates(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleResponder, transport, nil, nil, passSandbox{})
	sess.HandleChannelMessage(ctx, encode(t, protocol.MatchStart{SessionID: "sess-1", StartedAt: time.Now().UnixMilli()}))
	sess.HandleChannelMessage(ctx, encode(t, protocol.QuestionData{Question: testProblem()}))

	if _, err := sess.Submit(ctx, "fake"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if transport.countKind(protocol.KindSubmit) != 1 {
		t.Fatal("expected submit transmitted")
	}
	if _, ok := transport.lastResult(); ok {
		t.Fatal("responder must not declare a result")
	}
	// A peer submit must not trigger arbitration either.
	sess.HandleChannelMessage(ctx, encode(t, protocol.Submit{Sender: "bob", SessionID: "sess-1", ElapsedMs: 12000}))
	if _, ok := transport.lastResult(); ok {
		t.Fatal("responder must not arbitrate a remote submit")
	}
	if sess.Status() != match.StatusLive {
		t.Fatalf("expected live until match_result arrives, got %s", sess.Status())
	}
}

func TestResponderAdoptsDeclaredResult(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, protocol.RoleResponder, &fakeTransport{}, nil, nil, passSandbox{})

	declared := protocol.MatchResult{
		SessionID: "sess-1", Winner: "alice", Loser: "bob",
		WinnerTimeMs: 12000, LoserTimeMs: 15000,
	}
	sess.HandleChannelMessage(ctx, encode(t, declared))

	out := awaitLeave(t, sess)
	if out.Status != match.StatusWon {
		t.Fatalf("expected won, got %s", out.Status)
	}
	if out.Result == nil || *out.Result != declared {
		t.Fatalf("expected declared result adopted, got %+v", out.Result)
	}
	res, ok := sess.Result()
	if !ok || res.WinnerTimeMs != 12000 || res.LoserTimeMs != 15000 {
		t.Fatalf("expected stored result, got %+v", res)
	}
}

func TestConcurrentSubmitsSingleResult(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleInitiator, transport, &fakeBank{problem: testProblem()}, nil, passSandbox{})
	sess.OnChannelOpen(ctx)

	remote := encode(t, protocol.Submit{Sender: "bob", SessionID: "sess-1", ElapsedMs: 12000})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sess.HandleChannelMessage(ctx, remote)
	}()
	go func() {
		defer wg.Done()
		_, _ = sess.Submit(ctx, "fake")
	}()
	wg.Wait()

	out := awaitLeave(t, sess)
	if transport.countKind(protocol.KindMatchResult) != 1 {
		t.Fatalf("expected exactly one match_result, got %d", transport.countKind(protocol.KindMatchResult))
	}
	res, _ := transport.lastResult()
	if res.Winner != "alice" && res.Winner != "bob" {
		t.Fatalf("expected one of the participants to win, got %+v", res)
	}
	if (out.Status == match.StatusWon) != (res.Winner == "alice") {
		t.Fatalf("expected outcome %s to agree with declared winner %s", out.Status, res.Winner)
	}
}

func TestGiveUp(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleInitiator, transport, &fakeBank{problem: testProblem()}, nil, passSandbox{})
	sess.OnChannelOpen(ctx)

	sess.GiveUp(ctx)

	out := awaitLeave(t, sess)
	if out.Status != match.StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", out.Status)
	}
	if out.Result != nil {
		t.Fatalf("forfeit must not produce a result, got %+v", out.Result)
	}
	if transport.countKind(protocol.KindGiveUp) != 1 {
		t.Fatal("expected give_up transmitted")
	}
}

func TestPeerGiveUp(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleResponder, transport, nil, nil, nil)

	sess.HandleChannelMessage(ctx, encode(t, protocol.GiveUp{}))

	out := awaitLeave(t, sess)
	if out.Status != match.StatusAbandoned || out.Reason != "opponent gave up" {
		t.Fatalf("expected opponent-gave-up abandonment, got %+v", out)
	}
	if len(transport.events()) != 0 {
		t.Fatalf("peer forfeit must not transmit anything, got %v", transport.events())
	}
}

func TestFinalizeRunsClosersOnce(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, protocol.RoleInitiator, &fakeTransport{}, nil, nil, nil)

	var order []string
	var mu sync.Mutex
	record := func(name string, err error) func() error {
		return func() error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}
	sess.AddCloser(record("channel", errors.New("already closed")))
	sess.AddCloser(record("signaling", nil))

	sess.GiveUp(ctx)
	sess.GiveUp(ctx)
	sess.Abandon(ctx, errors.New("late"))

	awaitLeave(t, sess)
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "channel" || order[1] != "signaling" {
		t.Fatalf("expected each closer run once in order, got %v", order)
	}
	select {
	case out := <-sess.Leave():
		t.Fatalf("expected a single leave delivery, got another %+v", out)
	default:
	}
}

func TestChatTranscript(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	sess := newTestSession(t, protocol.RoleInitiator, transport, nil, nil, nil)

	sess.SendChat(ctx, "good luck")
	sess.HandleChannelMessage(ctx, encode(t, protocol.Chat{Sender: "bob", Text: "you too", SentAt: time.Now().UnixMilli()}))

	transcript := sess.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("expected two lines, got %v", transcript)
	}
	if transcript[0].Sender != "alice" || transcript[0].Text != "good luck" {
		t.Fatalf("expected local line first, got %+v", transcript[0])
	}
	if transcript[1].Sender != "bob" {
		t.Fatalf("expected peer line second, got %+v", transcript[1])
	}
	if transport.countKind(protocol.KindChat) != 1 {
		t.Fatal("expected only the local line transmitted")
	}
}

func TestMalformedChannelMessageDropped(t *testing.T) {
	sess := newTestSession(t, protocol.RoleInitiator, &fakeTransport{}, nil, nil, nil)
	sess.HandleChannelMessage(context.Background(), []byte("not json"))
	if sess.Status() != match.StatusPending {
		t.Fatalf("expected pending, got %s", sess.Status())
	}
}

func TestUnknownKindIgnored(t *testing.T) {
	sess := newTestSession(t, protocol.RoleInitiator, &fakeTransport{}, nil, nil, nil)
	sess.HandleChannelMessage(context.Background(), []byte(`{"v":9,"kind":"emoji_react","data":{}}`))
	if sess.Status() != match.StatusPending {
		t.Fatalf("expected pending, got %s", sess.Status())
	}
}

func TestSetCodeOverridesStarter(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, protocol.RoleResponder, &fakeTransport{}, nil, nil, passSandbox{})
	sess.HandleChannelMessage(ctx, encode(t, protocol.QuestionData{Question: testProblem()}))

	if got := sess.Code("fake"); got != "function add(a, b) {}" {
		t.Fatalf("expected starter code, got %q", got)
	}
	sess.SetCode("fake", "custom")
	if got := sess.Code("fake"); got != "custom" {
		t.Fatalf("expected override, got %q", got)
	}
}
