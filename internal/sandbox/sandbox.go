// Package sandbox executes participant-authored code in isolated, time-bounded
// per-language runtimes and evaluates it against problem test cases.
package sandbox

import (
	"context"
	"encoding/json"
	"reflect"
)

// RunResult is the structured outcome of one sandboxed execution: a result
// value plus captured log lines. It is always fully formed; failure modes
// (missing function, runtime error, timeout) leave Output nil and append an
// explanatory log line instead of propagating an error.
type RunResult struct {
	Output interface{} `json:"output"`
	Logs   []string    `json:"logs"`
}

// Sandbox runs one target function from the given source with positional
// arguments. Implementations own their isolation strategy and timeout and
// must tear the isolation context down whether the run finished, failed or
// timed out.
type Sandbox interface {
	Run(ctx context.Context, source, funcName string, args []interface{}) RunResult
}

// DeepEqual compares two values by structural equality after normalizing
// both through JSON, so sandbox-native numeric types (int64, float64,
// lua.LNumber exports) compare equal to JSON-decoded expectations.
func DeepEqual(a, b interface{}) bool {
	na, err := normalize(a)
	if err != nil {
		return false
	}
	nb, err := normalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
