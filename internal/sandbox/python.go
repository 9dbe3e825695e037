package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const defaultPythonTimeout = 5 * time.Second

// pythonHarness evaluates the submission in a clean namespace with stdout
// redirected, then emits a single JSON RunResult on the real stdout.
const pythonHarness = `
import contextlib, io, json, sys

payload = json.load(sys.stdin)
ns = {}
buf = io.StringIO()
try:
    with contextlib.redirect_stdout(buf):
        exec(payload["source"], ns)
        fn = ns.get(payload["func"])
        if not callable(fn):
            raise NameError('function "%s" not found' % payload["func"])
        result = fn(*payload["args"])
    out = {"output": result, "logs": buf.getvalue().splitlines()}
except Exception as exc:
    out = {"output": None, "logs": buf.getvalue().splitlines() + ["Error: %s" % exc]}
json.dump(out, sys.stdout)
`

// Python executes submissions in a child interpreter process. The process is
// the isolation boundary: it is killed at the timeout and never shares state
// with the host. The longer default budget covers interpreter bootstrap.
type Python struct {
	timeout time.Duration
	binary  string
}

// NewPython creates a Python sandbox. A non-positive timeout selects the
// default.
func NewPython(timeout time.Duration) *Python {
	if timeout <= 0 {
		timeout = defaultPythonTimeout
	}
	return &Python{timeout: timeout, binary: "python3"}
}

type pythonPayload struct {
	Source string        `json:"source"`
	Func   string        `json:"func"`
	Args   []interface{} `json:"args"`
}

// Run ships the source, function name and arguments to the harness over
// stdin and parses the RunResult JSON from its stdout.
func (p *Python) Run(ctx context.Context, source, funcName string, args []interface{}) RunResult {
	if args == nil {
		args = []interface{}{}
	}
	input, err := json.Marshal(pythonPayload{Source: source, Func: funcName, Args: args})
	if err != nil {
		return RunResult{Output: nil, Logs: []string{"Error: " + err.Error()}}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.binary, "-c", pythonHarness)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return RunResult{Output: nil, Logs: []string{fmt.Sprintf("Error: execution timed out after %s", p.timeout)}}
	}
	if runErr != nil {
		msg := stderr.String()
		if msg == "" {
			msg = runErr.Error()
		}
		return RunResult{Output: nil, Logs: []string{"Error: " + msg}}
	}

	var res RunResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return RunResult{Output: nil, Logs: []string{"Error: unreadable harness output: " + err.Error()}}
	}
	if res.Logs == nil {
		res.Logs = []string{}
	}
	return res
}
