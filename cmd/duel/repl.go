package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"codeduel/internal/match"
	"codeduel/internal/sandbox"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// runREPL drives the interactive side of a match: chat, loading code,
// previewing against the sample case and submitting.
func runREPL(ctx context.Context, sess *match.Session, languageID string) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt: "duel> ",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("chat"),
			readline.PcItem("code"),
			readline.PcItem("lang",
				readline.PcItem(sandbox.LangJavaScript),
				readline.PcItem(sandbox.LangLua),
				readline.PcItem(sandbox.LangPython),
			),
			readline.PcItem("test"),
			readline.PcItem("submit"),
			readline.PcItem("giveup"),
			readline.PcItem("status"),
			readline.PcItem("problem"),
			readline.PcItem("transcript"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
		InterruptPrompt: "^C",
	})
	if err != nil {
		fmt.Printf("readline init failed: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		tokens, err := shlex.Split(line)
		if err != nil {
			fmt.Printf("parse command failed: %v\n", err)
			continue
		}

		switch tokens[0] {
		case "chat":
			if len(tokens) < 2 {
				fmt.Println("usage: chat <message>")
				continue
			}
			sess.SendChat(ctx, strings.TrimSpace(strings.TrimPrefix(line, "chat")))

		case "code", "edit":
			if len(tokens) != 2 {
				fmt.Println("usage: code <file>")
				continue
			}
			source, err := os.ReadFile(tokens[1])
			if err != nil {
				fmt.Printf("read source failed: %v\n", err)
				continue
			}
			sess.SetCode(languageID, string(source))
			fmt.Printf("loaded %d bytes for %s\n", len(source), languageID)

		case "lang":
			if len(tokens) != 2 {
				fmt.Println("usage: lang javascript|lua|python")
				continue
			}
			languageID = tokens[1]
			fmt.Printf("language set to %s\n", languageID)

		case "test":
			report, err := sess.RunPreview(ctx, languageID)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			printReport(report)

		case "submit":
			report, err := sess.Submit(ctx, languageID)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				printReport(report)
				continue
			}
			fmt.Printf("all %d tests passed, submission sent\n", report.Total)

		case "giveup":
			sess.GiveUp(ctx)
			return

		case "status":
			printStatus(sess)

		case "problem":
			printProblem(sess, languageID)

		case "transcript":
			for _, msg := range sess.Transcript() {
				at := time.UnixMilli(msg.SentAt).Format("15:04:05")
				fmt.Printf("[%s] %s: %s\n", at, msg.Sender, msg.Text)
			}

		case "help":
			printHelp()

		case "quit", "exit":
			sess.GiveUp(ctx)
			return

		default:
			fmt.Printf("unknown command: %s (try help)\n", tokens[0])
		}
	}
}

func printReport(report sandbox.Report) {
	fmt.Printf("%d/%d tests passed\n", report.Passed, report.Total)
	for _, c := range report.Cases {
		if c.Passed {
			fmt.Printf("  case %d: pass\n", c.Index+1)
			continue
		}
		fmt.Printf("  case %d: fail (expected %v, got %v)\n", c.Index+1, c.Expected, c.Actual)
		for _, log := range c.Logs {
			fmt.Printf("    | %s\n", log)
		}
	}
}

func printStatus(sess *match.Session) {
	fmt.Printf("status: %s, role: %s\n", sess.Status(), sess.Role())
	if sess.Status() == match.StatusLive {
		fmt.Printf("time remaining: %s\n", sess.Remaining(time.Now()).Round(time.Second))
	}
}

func printProblem(sess *match.Session, languageID string) {
	problem, ok := sess.Problem()
	if !ok {
		fmt.Println("no problem distributed yet")
		return
	}
	fmt.Printf("%s (difficulty %d)\n\n%s\n", problem.Title, problem.Difficulty, problem.Prompt)
	if starter, ok := problem.StarterCode[languageID]; ok {
		fmt.Printf("\nstarter code (%s):\n%s\n", languageID, starter)
	}
}

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  chat <message>     send a chat message to your opponent")
	fmt.Println("  code <file>        load a solution file for the current language")
	fmt.Println("  lang <id>          switch language (javascript, lua, python)")
	fmt.Println("  test               run your code against the sample case")
	fmt.Println("  submit             run the full suite and submit if it passes")
	fmt.Println("  problem            show the problem statement")
	fmt.Println("  status             show match status and remaining time")
	fmt.Println("  transcript         show the chat history")
	fmt.Println("  giveup / quit      concede and leave the match")
}
