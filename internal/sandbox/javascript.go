package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const defaultJSTimeout = time.Second

// JavaScript executes submissions in a throwaway goja VM per run. The VM is
// interrupted at the timeout and discarded afterwards, so no state leaks
// between runs or into the host.
type JavaScript struct {
	timeout time.Duration
}

// NewJavaScript creates a JavaScript sandbox. A non-positive timeout selects
// the default.
func NewJavaScript(timeout time.Duration) *JavaScript {
	if timeout <= 0 {
		timeout = defaultJSTimeout
	}
	return &JavaScript{timeout: timeout}
}

// Run evaluates the source, looks up the target function and invokes it with
// the given positional arguments. console.log output is captured into Logs.
func (j *JavaScript) Run(ctx context.Context, source, funcName string, args []interface{}) RunResult {
	logs := make([]string, 0, 4)
	vm := goja.New()

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		logs = append(logs, strings.Join(parts, " "))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	timer := time.AfterFunc(j.timeout, func() {
		vm.Interrupt("timeout")
	})
	defer timer.Stop()
	if done := ctx.Done(); done != nil {
		stop := context.AfterFunc(ctx, func() {
			vm.Interrupt("cancelled")
		})
		defer stop()
	}

	if _, err := vm.RunString(source); err != nil {
		return failure(logs, err, j.timeout)
	}

	fn, ok := goja.AssertFunction(vm.Get(funcName))
	if !ok {
		return RunResult{Output: nil, Logs: append(logs, fmt.Sprintf("Error: function %q not found", funcName))}
	}

	vmArgs := make([]goja.Value, 0, len(args))
	for _, arg := range args {
		vmArgs = append(vmArgs, vm.ToValue(arg))
	}

	value, err := fn(goja.Undefined(), vmArgs...)
	if err != nil {
		return failure(logs, err, j.timeout)
	}
	return RunResult{Output: value.Export(), Logs: logs}
}

func failure(logs []string, err error, timeout time.Duration) RunResult {
	if ie, ok := err.(*goja.InterruptedError); ok {
		if fmt.Sprint(ie.Value()) == "cancelled" {
			return RunResult{Output: nil, Logs: append(logs, "Error: execution cancelled")}
		}
		return RunResult{Output: nil, Logs: append(logs, fmt.Sprintf("Error: execution timed out after %s", timeout))}
	}
	return RunResult{Output: nil, Logs: append(logs, "Error: "+err.Error())}
}
