package sandbox

import (
	"context"

	"codeduel/internal/protocol"
)

// CaseResult is the outcome of one test case, with expected-vs-actual detail
// for user-visible failure reporting.
type CaseResult struct {
	Index    int
	Passed   bool
	Expected interface{}
	Actual   interface{}
	Logs     []string
}

// Report tallies an evaluation run.
type Report struct {
	Total  int
	Passed int
	Cases  []CaseResult
}

// AllPassed reports whether every evaluated case passed. Submission may only
// proceed when the full suite (not a preview subset) reports this true.
func (r Report) AllPassed() bool {
	return r.Total > 0 && r.Passed == r.Total
}

// Evaluate runs up to limit test cases of the problem against the source.
// A non-positive or oversized limit runs the full suite. Sandbox failures
// surface as failed cases, never as errors; only malformed test inputs abort.
func Evaluate(ctx context.Context, sb Sandbox, p protocol.Problem, source string, limit int) (Report, error) {
	cases := p.TestCases
	if limit > 0 && limit < len(cases) {
		cases = cases[:limit]
	}

	report := Report{Total: len(cases), Cases: make([]CaseResult, 0, len(cases))}
	for i, tc := range cases {
		args, err := tc.Args(p.ParamOrder)
		if err != nil {
			return report, err
		}
		res := sb.Run(ctx, source, p.TargetFunc, args)
		passed := DeepEqual(res.Output, tc.Expected)
		if passed {
			report.Passed++
		}
		report.Cases = append(report.Cases, CaseResult{
			Index:    i,
			Passed:   passed,
			Expected: tc.Expected,
			Actual:   res.Output,
			Logs:     res.Logs,
		})
	}
	return report, nil
}
