package protocol

import (
	"sort"

	pkgerrors "codeduel/pkg/errors"
)

// Problem is the shared coding task. It is immutable once distributed: the
// initiator fetches it from the problem bank and ships it verbatim to the
// responder inside a QuestionData message.
type Problem struct {
	Title       string            `json:"title"`
	Prompt      string            `json:"prompt"`
	Difficulty  int               `json:"difficulty"`
	StarterCode map[string]string `json:"starter_code,omitempty"` // language id -> source
	TargetFunc  string            `json:"target_func"`
	// ParamOrder fixes the positional order of named test inputs. Problems
	// without it fall back to sorted key order, which is deterministic on
	// both peers but may not match the target function's signature.
	ParamOrder []string   `json:"param_order,omitempty"`
	TestCases  []TestCase `json:"test_cases"`
}

// TestCase holds one input/expected pair. Inputs may be a positional list
// or a named mapping; Expected is compared with deep structural equality.
type TestCase struct {
	Inputs   interface{} `json:"inputs"`
	Expected interface{} `json:"outputs"`
}

// Args normalizes the test inputs to a positional argument list using the
// problem's declared parameter order.
func (t TestCase) Args(paramOrder []string) ([]interface{}, error) {
	switch in := t.Inputs.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return in, nil
	case map[string]interface{}:
		keys := paramOrder
		if len(keys) == 0 {
			keys = make([]string, 0, len(in))
			for k := range in {
				keys = append(keys, k)
			}
			sort.Strings(keys)
		}
		args := make([]interface{}, 0, len(keys))
		for _, k := range keys {
			v, ok := in[k]
			if !ok {
				return nil, pkgerrors.Newf(pkgerrors.BadTestInputs, "test inputs missing parameter %q", k)
			}
			args = append(args, v)
		}
		return args, nil
	default:
		// A single bare value is treated as the sole argument.
		return []interface{}{in}, nil
	}
}

// Validate checks the minimum shape required to run a match on the problem.
func (p Problem) Validate() error {
	if p.TargetFunc == "" {
		return pkgerrors.New(pkgerrors.InvalidParams).WithMessage("problem has no target function")
	}
	if len(p.TestCases) == 0 {
		return pkgerrors.New(pkgerrors.InvalidParams).WithMessage("problem has no test cases")
	}
	return nil
}
