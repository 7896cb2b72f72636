// Package fitness turns solver costs into one fitness value per genome.
//
// A genome's fitness is the mean, over a sample of solver seeds, of its total
// cost over every test case. Averaging across seeds damps the solver's own
// randomness; summing across cases scores the whole corpus.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"vrptune/internal/config"
	"vrptune/internal/logging"
	"vrptune/internal/metrics"
	"vrptune/internal/model"
	"vrptune/internal/objective"
)

// ErrEvaluationFailed is fatal for a run: one (genome, seed, test case)
// evaluation could not be completed.
var ErrEvaluationFailed = errors.New("evaluation failed")

// EvaluationFailedError identifies the evaluation that failed.
type EvaluationFailedError struct {
	Genome   model.Genome
	Seed     int64
	TestCase string
	Attempts int
	Err      error
}

func (e *EvaluationFailedError) Error() string {
	return fmt.Sprintf("evaluation failed: genome=%s seed=%d test_case=%s attempts=%d: %v",
		e.Genome, e.Seed, e.TestCase, e.Attempts, e.Err)
}

func (e *EvaluationFailedError) Is(target error) bool {
	return target == ErrEvaluationFailed
}

func (e *EvaluationFailedError) Unwrap() error {
	return e.Err
}

type Config struct {
	Cases []objective.TestCase
	// Parallelism bounds concurrent evaluations. Values below 1 mean 1.
	Parallelism int
	// MaxAttempts is the total number of tries per evaluation when the
	// objective is unavailable. Values below 1 mean 1.
	MaxAttempts int
	// RetryBackoff is the first wait between tries; later waits grow
	// exponentially.
	RetryBackoff time.Duration
	// RetryWindow stops retrying once the tries of one evaluation have taken
	// this long. Zero leaves MaxAttempts as the only bound.
	RetryWindow time.Duration
	Logger      *slog.Logger
}

// Aggregator computes fitness through an objective.Evaluator. It holds no
// mutable state and is safe for concurrent use.
type Aggregator struct {
	eval   objective.Evaluator
	cfg    Config
	logger *slog.Logger
}

func NewAggregator(eval objective.Evaluator, cfg Config) (*Aggregator, error) {
	if eval == nil {
		return nil, fmt.Errorf("objective evaluator is required")
	}
	if len(cfg.Cases) == 0 {
		return nil, config.Errorf("corpus", "test corpus is empty")
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	cfg.Cases = append([]objective.TestCase(nil), cfg.Cases...)
	return &Aggregator{eval: eval, cfg: cfg, logger: logging.OrDiscard(cfg.Logger)}, nil
}

// Measurement is a fitness together with the per-seed totals it came from.
type Measurement struct {
	Seeds   []int64
	Totals  []int64
	Fitness int64
}

// Fitness returns the truncated mean over seeds of the summed test case
// costs of genome.
func (a *Aggregator) Fitness(ctx context.Context, genome model.Genome, seeds []int64) (int64, error) {
	m, err := a.Measure(ctx, genome, seeds)
	if err != nil {
		return 0, err
	}
	return m.Fitness, nil
}

// Measure evaluates every (seed, test case) pair for genome. Pairs run in
// parallel; the first failure cancels the rest.
func (a *Aggregator) Measure(ctx context.Context, genome model.Genome, seeds []int64) (Measurement, error) {
	if len(seeds) == 0 {
		return Measurement{}, fmt.Errorf("at least one seed is required")
	}
	genome = genome.Clone()
	cases := a.cfg.Cases
	costs := make([]int64, len(seeds)*len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Parallelism)
	for si, seed := range seeds {
		for ci, tc := range cases {
			g.Go(func() error {
				cost, err := a.evaluate(gctx, genome, seed, tc)
				if err != nil {
					return err
				}
				costs[si*len(cases)+ci] = cost
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Measurement{}, err
	}

	totals := make([]int64, len(seeds))
	for si := range seeds {
		for ci := range cases {
			totals[si] += costs[si*len(cases)+ci]
		}
	}
	return Measurement{
		Seeds:   append([]int64(nil), seeds...),
		Totals:  totals,
		Fitness: MeanTruncated(totals),
	}, nil
}

// MeanTruncated is the arithmetic mean truncated toward zero. Integer
// arithmetic keeps large costs exact.
func MeanTruncated(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return sum / int64(len(values))
}

func (a *Aggregator) evaluate(ctx context.Context, genome model.Genome, seed int64, tc objective.TestCase) (int64, error) {
	attempts := 0
	op := func() (int64, error) {
		attempts++
		cost, err := a.eval.Evaluate(ctx, genome, seed, tc)
		if err == nil {
			return cost, nil
		}
		if errors.Is(err, objective.ErrObjectiveUnavailable) {
			return 0, err
		}
		return 0, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		metrics.Retries.Inc()
		a.logger.Warn("retrying evaluation",
			slog.String("genome", genome.String()),
			slog.Int64("seed", seed),
			slog.String("test_case", tc.ID),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", a.cfg.MaxAttempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	cost, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(a.newBackOff()),
		backoff.WithMaxTries(uint(a.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(a.cfg.RetryWindow),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return cost, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return 0, &EvaluationFailedError{
		Genome:   genome.Clone(),
		Seed:     seed,
		TestCase: tc.ID,
		Attempts: attempts,
		Err:      err,
	}
}

func (a *Aggregator) newBackOff() backoff.BackOff {
	if a.cfg.RetryBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.RetryBackoff
	b.MaxInterval = 32 * a.cfg.RetryBackoff
	return b
}
