package objective

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"vrptune/internal/config"
	"vrptune/internal/logging"
	"vrptune/internal/metrics"
	"vrptune/internal/model"
)

const (
	defaultTimeout     = time.Minute
	defaultTempPattern = "vrptune-input-*.txt"
	// waitDelay bounds how long Wait keeps reading stdout after the solver
	// was killed, in case it left children holding the pipe.
	waitDelay = 2 * time.Second
)

type SolverConfig struct {
	Executable  string
	Timeout     time.Duration
	TempDir     string
	TempPattern string
	// LaunchRate caps solver starts per second across all callers. Zero
	// disables the limit.
	LaunchRate float64
	Logger     *slog.Logger
}

// Solver runs the external solver executable as an Evaluator. It is safe for
// concurrent use: every evaluation gets its own temporary input file.
type Solver struct {
	cfg     SolverConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewSolver(cfg SolverConfig) (*Solver, error) {
	if strings.TrimSpace(cfg.Executable) == "" {
		return nil, config.Errorf("solver.executable", "is required")
	}
	if _, err := exec.LookPath(cfg.Executable); err != nil {
		return nil, config.Errorf("solver.executable", "%v", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TempPattern == "" {
		cfg.TempPattern = defaultTempPattern
	}
	if !strings.Contains(cfg.TempPattern, "*") {
		return nil, config.Errorf("solver.temp_pattern", "%q must contain '*' so concurrent inputs get unique names", cfg.TempPattern)
	}
	if cfg.TempDir != "" {
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating temp dir: %w", err)
		}
	}

	s := &Solver{cfg: cfg, logger: logging.OrDiscard(cfg.Logger)}
	if cfg.LaunchRate > 0 {
		burst := int(cfg.LaunchRate)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.LaunchRate), burst)
	}
	return s, nil
}

func (s *Solver) Evaluate(ctx context.Context, genome model.Genome, seed int64, tc TestCase) (int64, error) {
	content, err := os.ReadFile(tc.Path)
	if err != nil {
		return 0, fmt.Errorf("reading test case %s: %w", tc.ID, err)
	}

	input, err := s.writeInput(genome, seed, content)
	if err != nil {
		return 0, err
	}
	defer input.release()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, s.cfg.Executable)
	cmd.Stdin = input.file
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	metrics.SolverDuration.Observe(elapsed.Seconds())

	if ctx.Err() != nil {
		metrics.SolverInvocations.WithLabelValues("cancelled").Inc()
		return 0, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		metrics.SolverInvocations.WithLabelValues("timeout").Inc()
		return 0, &UnavailableError{
			TestCase: tc.ID,
			Reason:   fmt.Sprintf("timed out after %s", s.cfg.Timeout),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			metrics.SolverInvocations.WithLabelValues("error").Inc()
			return 0, fmt.Errorf("running solver %s: %w", s.cfg.Executable, runErr)
		}
		// A crashed solver usually leaves nothing on stdout; the parse below
		// reports that as unavailable.
		s.logger.Debug("solver exited with error",
			slog.String("test_case", tc.ID),
			slog.Int("exit_code", exitErr.ExitCode()),
			slog.String("stderr", tail(stderr.String(), 200)),
		)
	}

	cost, reason := parseCost(stdout.String())
	if reason != "" {
		metrics.SolverInvocations.WithLabelValues("unavailable").Inc()
		return 0, &UnavailableError{
			TestCase: tc.ID,
			Reason:   reason,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}
	metrics.SolverInvocations.WithLabelValues("ok").Inc()
	s.logger.Debug("solver finished",
		slog.String("test_case", tc.ID),
		slog.String("genome", genome.String()),
		slog.Int64("seed", seed),
		slog.Int64("cost", cost),
		slog.Duration("duration", elapsed),
	)
	return cost, nil
}

// FormatInput renders the solver's standard input: genome values and the
// seed on the first line, then the raw test case.
func FormatInput(genome model.Genome, seed int64, content []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(content) + 8*(len(genome)+1))
	for _, v := range genome {
		buf.WriteString(strconv.Itoa(v))
		buf.WriteByte(' ')
	}
	buf.WriteString(strconv.FormatInt(seed, 10))
	buf.WriteByte('\n')
	buf.Write(content)
	return buf.Bytes()
}

type scopedInput struct {
	file *os.File
}

// release closes and removes the input file. Safe to call on every path.
func (in scopedInput) release() {
	name := in.file.Name()
	_ = in.file.Close()
	_ = os.Remove(name)
}

func (s *Solver) writeInput(genome model.Genome, seed int64, content []byte) (scopedInput, error) {
	f, err := os.CreateTemp(s.cfg.TempDir, s.cfg.TempPattern)
	if err != nil {
		return scopedInput{}, fmt.Errorf("creating solver input: %w", err)
	}
	in := scopedInput{file: f}
	if _, err := f.Write(FormatInput(genome, seed, content)); err != nil {
		in.release()
		return scopedInput{}, fmt.Errorf("writing solver input: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		in.release()
		return scopedInput{}, fmt.Errorf("rewinding solver input: %w", err)
	}
	return in, nil
}

// parseCost returns the cost or a non-empty reason it is unusable.
func parseCost(stdout string) (int64, string) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return 0, "empty output"
	}
	if fields := strings.Fields(trimmed); len(fields) != 1 {
		return 0, fmt.Sprintf("expected a single integer, got %d tokens", len(fields))
	}
	cost, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, "non-numeric output"
	}
	if cost < 0 {
		return 0, "negative cost"
	}
	return cost, ""
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
