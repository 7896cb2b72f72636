// Package objective runs the external routing solver for one genome, seed and
// test case and reads back its integer cost.
package objective

import (
	"context"
	"errors"
	"fmt"

	"vrptune/internal/model"
)

// ErrObjectiveUnavailable means the solver did not produce a usable cost:
// empty or non-numeric output, or no answer within the timeout. Callers may
// retry the same evaluation.
var ErrObjectiveUnavailable = errors.New("objective unavailable")

// Evaluator scores one genome on one test case with one solver seed.
type Evaluator interface {
	Evaluate(ctx context.Context, genome model.Genome, seed int64, tc TestCase) (int64, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, genome model.Genome, seed int64, tc TestCase) (int64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, genome model.Genome, seed int64, tc TestCase) (int64, error) {
	return f(ctx, genome, seed, tc)
}

// UnavailableError carries the solver output that could not be used.
type UnavailableError struct {
	TestCase string
	Reason   string
	Stdout   string
	Stderr   string
}

func (e *UnavailableError) Error() string {
	out := e.Stdout
	if len(out) > 80 {
		out = out[:80] + "..."
	}
	return fmt.Sprintf("objective unavailable for %s: %s (stdout=%q)", e.TestCase, e.Reason, out)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrObjectiveUnavailable
}
