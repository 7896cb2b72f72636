package objective

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrptune/internal/config"
	"vrptune/internal/metrics"
	"vrptune/internal/model"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub solvers need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "solver.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func writeCase(t *testing.T, content string) TestCase {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "case-1.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return TestCase{ID: "case-1.txt", Path: path}
}

func newTestSolver(t *testing.T, script string, timeout time.Duration) (*Solver, string) {
	t.Helper()
	tempDir := t.TempDir()
	solver, err := NewSolver(SolverConfig{
		Executable:  script,
		Timeout:     timeout,
		TempDir:     tempDir,
		TempPattern: "temp_input-*.txt",
	})
	require.NoError(t, err)
	return solver, tempDir
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary inputs left behind")
}

func TestSolverParsesCost(t *testing.T) {
	script := writeScript(t, `read a b c d seed
echo "  $((a + b + c + d + seed))  "`)
	solver, tempDir := newTestSolver(t, script, 5*time.Second)

	cost, err := solver.Evaluate(context.Background(), model.Genome{10, 6, 12, 3}, 42, writeCase(t, "depot 0 0\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(73), cost)
	requireEmptyDir(t, tempDir)
}

func TestSolverPassesTestCaseAfterHeader(t *testing.T) {
	script := writeScript(t, `read header
wc -l | tr -d ' '`)
	solver, _ := newTestSolver(t, script, 5*time.Second)

	cost, err := solver.Evaluate(context.Background(), model.Genome{1}, 7, writeCase(t, "a\nb\nc\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), cost)
}

func TestSolverUnusableOutputIsUnavailable(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		reason string
	}{
		{name: "empty", body: "exit 0", reason: "empty output"},
		{name: "crash", body: "echo boom >&2; exit 3", reason: "empty output"},
		{name: "non-numeric", body: "echo abc", reason: "non-numeric output"},
		{name: "two tokens", body: "echo 12 13", reason: "expected a single integer, got 2 tokens"},
		{name: "negative", body: "echo -5", reason: "negative cost"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			solver, tempDir := newTestSolver(t, writeScript(t, tc.body), 5*time.Second)
			_, err := solver.Evaluate(context.Background(), model.Genome{1, 2}, 1, writeCase(t, "x\n"))
			require.ErrorIs(t, err, ErrObjectiveUnavailable)
			var unavailable *UnavailableError
			require.True(t, errors.As(err, &unavailable))
			assert.Equal(t, tc.reason, unavailable.Reason)
			assert.Equal(t, "case-1.txt", unavailable.TestCase)
			requireEmptyDir(t, tempDir)
		})
	}
}

func TestSolverTimeoutIsUnavailable(t *testing.T) {
	solver, tempDir := newTestSolver(t, writeScript(t, "exec sleep 10"), 200*time.Millisecond)
	before := testutil.ToFloat64(metrics.SolverInvocations.WithLabelValues("timeout"))

	start := time.Now()
	_, err := solver.Evaluate(context.Background(), model.Genome{1}, 1, writeCase(t, "x\n"))
	require.ErrorIs(t, err, ErrObjectiveUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SolverInvocations.WithLabelValues("timeout")))
	requireEmptyDir(t, tempDir)
}

func TestSolverCancelledContextIsNotRetryable(t *testing.T) {
	solver, tempDir := newTestSolver(t, writeScript(t, "echo 1"), 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := solver.Evaluate(ctx, model.Genome{1}, 1, writeCase(t, "x\n"))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrObjectiveUnavailable)
	requireEmptyDir(t, tempDir)
}

func TestSolverConcurrentEvaluationsUseDistinctInputs(t *testing.T) {
	script := writeScript(t, `read a seed
sleep 0.05
echo $((a * 1000 + seed))`)
	solver, tempDir := newTestSolver(t, script, 5*time.Second)
	tc := writeCase(t, "x\n")

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	costs := make([]int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			costs[i], errs[i] = solver.Evaluate(context.Background(), model.Genome{i}, int64(i), tc)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], "worker %d", i)
		assert.Equal(t, int64(i*1000+i), costs[i], "worker %d read another worker's input", i)
	}
	requireEmptyDir(t, tempDir)
}

func TestNewSolverValidatesConfiguration(t *testing.T) {
	_, err := NewSolver(SolverConfig{Executable: filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, config.ErrConfiguration)

	_, err = NewSolver(SolverConfig{})
	require.ErrorIs(t, err, config.ErrConfiguration)

	_, err = NewSolver(SolverConfig{Executable: writeScript(t, "echo 1"), TempPattern: "fixed.txt"})
	require.ErrorIs(t, err, config.ErrConfiguration)
}

func TestFormatInput(t *testing.T) {
	got := FormatInput(model.Genome{10, 6, 12, 3}, 314, []byte("line one\nline two\n"))
	assert.Equal(t, "10 6 12 3 314\nline one\nline two\n", string(got))
}

func TestParseCost(t *testing.T) {
	cases := []struct {
		in     string
		cost   int64
		reason string
	}{
		{in: "1234\n", cost: 1234},
		{in: "  0 ", cost: 0},
		{in: "", reason: "empty output"},
		{in: "\n\t", reason: "empty output"},
		{in: "12.5", reason: "non-numeric output"},
		{in: "1\n2", reason: "expected a single integer, got 2 tokens"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q", tc.in), func(t *testing.T) {
			cost, reason := parseCost(tc.in)
			assert.Equal(t, tc.reason, reason)
			if tc.reason == "" {
				assert.Equal(t, tc.cost, cost)
			}
		})
	}
}
