package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"codeduel/internal/backend"
	"codeduel/internal/match"
	"codeduel/internal/protocol"
	"codeduel/internal/rtc"
	"codeduel/internal/sandbox"
	"codeduel/internal/signaling"
	"codeduel/pkg/utils/contextkey"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/duel.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	token := flag.String("token", "", "Auth token for the signaling relay")
	userID := flag.String("user", "", "Local participant id")
	languageID := flag.String("lang", sandbox.LangJavaScript, "Initial language id")
	sessionID := flag.String("session", "", "Session id (bypasses relay matchmaking)")
	peerID := flag.String("peer", "", "Opponent id (bypasses relay matchmaking)")
	role := flag.String("role", "", "Match role: initiator or responder (bypasses relay matchmaking)")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if *token == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "Error: missing match data (-token and -user are required).")
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := contextkey.WithUser(context.Background(), *userID)

	fmt.Println("Connecting to signaling relay...")
	logger.Info(ctx, "connection state changed", zap.String("state", string(rtc.StateSignalingConnecting)))
	sigClient, err := signaling.Dial(ctx, appCfg.Relay.URL, *token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	logger.Info(ctx, "connection state changed", zap.String("state", string(rtc.StateSignalingOpen)))

	handoff, err := awaitHandoff(ctx, sigClient, *sessionID, *peerID, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = sigClient.Close()
		return
	}
	ctx = contextkey.WithSession(ctx, handoff.SessionID, *userID)
	ctx = contextkey.WithRole(ctx, string(handoff.Role))
	fmt.Printf("Matched against %s (session %s, role %s)\n", handoff.Opponent.ID, handoff.SessionID, handoff.Role)

	registry := sandbox.NewDefaultRegistry(appCfg.Sandbox.Timeouts)
	backendClient := backend.New(appCfg.Backend.BaseURL, appCfg.Backend.Timeout)

	sess, err := match.NewSession(match.Config{
		SessionID:  handoff.SessionID,
		LocalID:    *userID,
		OpponentID: handoff.Opponent.ID,
		Role:       handoff.Role,
		Duration:   appCfg.Match.Duration,
	}, nil, backendClient, backendClient, registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = sigClient.Close()
		return
	}

	manager, err := rtc.NewManager(rtc.Config{
		Role:        handoff.Role,
		OpponentID:  handoff.Opponent.ID,
		ICEServers:  appCfg.ICE.Servers,
		GracePeriod: appCfg.ICE.GracePeriod,
	}, sigClient, rtc.Events{
		OnChannelOpen: func() {
			fmt.Println("P2P connection established.")
			// The relay has served its purpose once the channel is open.
			_ = sigClient.Close()
			go sess.OnChannelOpen(ctx)
		},
		OnChannelMessage: func(data []byte) {
			sess.HandleChannelMessage(ctx, data)
		},
		OnStateChange: func(state rtc.State) {
			logger.Info(ctx, "connection state changed", zap.String("state", string(state)))
		},
		OnAbandon: func(reason error) {
			sess.Abandon(ctx, reason)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = sigClient.Close()
		return
	}
	sess.SetTransport(manager)

	// Teardown order: data channel and peer connection first, then the
	// signaling client if still open.
	sess.AddCloser(manager.Close)
	sess.AddCloser(sigClient.Close)

	if err := manager.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		sess.Abandon(ctx, err)
		<-sess.Leave()
		return
	}

	go runREPL(ctx, sess, *languageID)
	runEventLoop(ctx, sess, manager, sigClient)
}

// awaitHandoff resolves the matchmaking hand-off either from explicit flags
// or by waiting for the relay's match_found.
func awaitHandoff(ctx context.Context, sigClient *signaling.Client, sessionID, peerID, role string) (protocol.MatchFound, error) {
	if sessionID != "" || peerID != "" || role != "" {
		if sessionID == "" || peerID == "" || !protocol.Role(role).Valid() {
			return protocol.MatchFound{}, fmt.Errorf("-session, -peer and -role must all be provided together")
		}
		return protocol.MatchFound{
			SessionID: sessionID,
			Opponent:  protocol.Opponent{ID: peerID},
			Role:      protocol.Role(role),
		}, nil
	}

	fmt.Println("Waiting for an opponent...")
	select {
	case found := <-sigClient.Matches():
		if !found.Role.Valid() {
			return protocol.MatchFound{}, fmt.Errorf("relay sent an invalid role %q", found.Role)
		}
		return found, nil
	case err := <-sigClient.Errs():
		return protocol.MatchFound{}, err
	case <-ctx.Done():
		return protocol.MatchFound{}, ctx.Err()
	}
}

// runEventLoop pumps signaling traffic into the negotiation, drives the
// 1-second match clock, and blocks until the session signals leave.
func runEventLoop(ctx context.Context, sess *match.Session, manager *rtc.Manager, sigClient *signaling.Client) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigClient.Signals():
			if err := manager.HandleSignal(ctx, sig); err != nil {
				logger.Warn(ctx, "signal handling failed", zap.String("event", sig.Event), zap.Error(err))
			}

		case err := <-sigClient.Errs():
			// Losing the relay after the channel opened is harmless; before
			// that it ends the attempt.
			if sess.Status() == match.StatusPending {
				logger.Error(ctx, "signaling transport lost", zap.Error(err))
				sess.Abandon(ctx, err)
			}

		case now := <-ticker.C:
			if sess.Status() == match.StatusLive && sess.Remaining(now) == 0 {
				fmt.Println("Time is up.")
				sess.GiveUp(ctx)
			}

		case out := <-sess.Leave():
			printOutcome(out)
			return
		}
	}
}

func printOutcome(out match.Outcome) {
	switch out.Status {
	case match.StatusWon:
		fmt.Println("You won!")
	case match.StatusLost:
		fmt.Println("You lost.")
	default:
		fmt.Printf("Match over: %s (%s)\n", out.Status, out.Reason)
	}
	if out.Result != nil {
		fmt.Printf("  winner %s in %dms, loser %s in %dms\n",
			out.Result.Winner, out.Result.WinnerTimeMs, out.Result.Loser, out.Result.LoserTimeMs)
	}
	fmt.Println("Returning to matchmaking.")
}
