package query

import (
	"time"

	"speakquery/internal/querylang"
	"speakquery/internal/resolver"
)

// maxSubsearchDepth bounds nested subsearches and appendpipe bodies.
const maxSubsearchDepth = 8

// ExecutionContext is the per-query state threaded through a pipeline. It
// is never shared between queries.
type ExecutionContext struct {
	// Vars holds values bound by eval, readable by later expressions when
	// no column of the same name exists.
	Vars querylang.Vars
	// Now is the query start time; now() and relative dates use it.
	Now time.Time

	Warnings []*resolver.ResolutionWarning
	Failures []*DirectiveRuntimeError

	eval  *querylang.Evaluator
	depth int
}

func newExecutionContext(now time.Time) *ExecutionContext {
	ev := querylang.NewEvaluator()
	ev.SetClock(func() time.Time { return now })
	return &ExecutionContext{
		Vars: make(querylang.Vars),
		Now:  now,
		eval: ev,
	}
}

// child returns the context for a subsearch: fresh variables, same clock.
func (ec *ExecutionContext) child() (*ExecutionContext, error) {
	if ec.depth >= maxSubsearchDepth {
		return nil, ErrSubsearchDepth
	}
	c := newExecutionContext(ec.Now)
	c.depth = ec.depth + 1
	return c, nil
}

// absorb collects the warnings and failures of a finished subsearch.
func (ec *ExecutionContext) absorb(c *ExecutionContext) {
	ec.Warnings = append(ec.Warnings, c.Warnings...)
	ec.Failures = append(ec.Failures, c.Failures...)
}
