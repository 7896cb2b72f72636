package main

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrptune/internal/config"
)

type cliEnv struct {
	base   string
	solver string
	args   []string
	output string
}

// newCLIEnv prepares a sum-of-parameters stub solver, a one-file corpus and
// a small grid config, and returns the flags pointing at them.
func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub solvers need a POSIX shell")
	}
	base := t.TempDir()
	solver := filepath.Join(base, "solver.sh")
	script := "#!/bin/sh\nread a b c d seed\necho \"$((a + b + c + d))\"\n"
	require.NoError(t, os.WriteFile(solver, []byte(script), 0o755))
	corpus := filepath.Join(base, "testset")
	require.NoError(t, os.MkdirAll(corpus, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "c1.txt"), []byte("depot 0 0\n"), 0o644))

	cfgPath := filepath.Join(base, "vrptune.yaml")
	cfgYAML := `grid:
  seeds: [1]
  axes:
    - {start: 10, stop: 12, step: 1}
    - {start: 1, stop: 2, step: 1}
    - {start: 5, stop: 6, step: 1}
    - {start: 2, stop: 4, step: 1}
  output: grid.csv
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))
	output := filepath.Join(base, "out")
	return cliEnv{
		base:   base,
		solver: solver,
		output: output,
		args: []string{
			"--config", cfgPath,
			"--solver", solver,
			"--corpus", corpus,
			"--temp-dir", filepath.Join(base, "tmp"),
			"--output-dir", output,
			"--log-level", "warn",
		},
	}
}

// run executes the command named by args[0] with the environment flags
// followed by the remaining args, so the latter win.
func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string(nil), args[:1]...)
	full = append(full, e.args...)
	full = append(full, args[1:]...)
	err := run(context.Background(), full, &stdout, &stderr)
	return stdout.String(), err
}

var bestFitnessRe = regexp.MustCompile(`best_fitness=(\d+)`)

func TestRunCommandAndQueries(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "run", "--run-id", "cli-run", "--seed", "3", "--patience", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "run_id=cli-run seed=3")
	match := bestFitnessRe.FindStringSubmatch(out)
	require.NotNil(t, match, "best fitness missing from %q", out)
	best, err := strconv.ParseInt(match[1], 10, 64)
	require.NoError(t, err)
	assert.LessOrEqual(t, best, int64(27))
	assert.FileExists(t, filepath.Join(env.output, "entities_file.csv"))
	assert.FileExists(t, filepath.Join(env.output, "runs", "cli-run", "summary.json"))

	out, err = env.run(t, "runs", "--index")
	require.NoError(t, err)
	assert.Contains(t, out, "run_id=cli-run")
	assert.Contains(t, out, "status=terminated")

	// The memory store does not outlive a process.
	out, err = env.run(t, "runs")
	require.NoError(t, err)
	assert.Equal(t, "no runs found", strings.TrimSpace(out))

	out, err = env.run(t, "best")
	require.NoError(t, err)
	assert.Contains(t, out, "fitness="+match[1])
}

func TestEvalCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "eval", "--genome", "9,6,8,4", "--seeds", "1,2")
	require.NoError(t, err)
	assert.Equal(t, "seed=1 total=27\nseed=2 total=27\ngenome=9,6,8,4 fitness=27\n", out)

	_, err = env.run(t, "eval", "--genome", "1,6,8,4")
	assert.ErrorIs(t, err, config.ErrConfiguration, "out of range genome")
	_, err = env.run(t, "eval", "--genome", "9,x,8,4")
	assert.Error(t, err)
	_, err = env.run(t, "eval", "--genome", "9,6,8,4", "--seeds", "1,b")
	assert.Error(t, err)
}

func TestGridCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "grid")
	require.NoError(t, err)
	assert.Contains(t, out, "points=4 best_genome=10,1,5,2 best_fitness=18")
	assert.Contains(t, out, "points_log="+filepath.Join(env.output, "finetuning_points.csv"))

	raw, err := os.ReadFile(filepath.Join(env.output, "grid.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"entities,mr_switch,mr_move,mr_create,result",
		"10,1,5,2,18",
		"10,1,5,3,19",
		"11,1,5,2,19",
		"11,1,5,3,20",
	}, strings.Split(strings.TrimSpace(string(raw)), "\n"))
}

func TestRunRejectsInvalidOverrides(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "run", "--population", "0")
	assert.ErrorIs(t, err, config.ErrConfiguration)
	_, err = env.run(t, "run", "--selection", "lottery")
	assert.ErrorIs(t, err, config.ErrConfiguration)
	_, err = env.run(t, "runs", "--limit", "0")
	assert.Error(t, err)
	_, err = env.run(t, "nope")
	assert.Error(t, err)
}

func TestLoggingSetupErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "eval", "--genome", "9,6,8,4", "--log-level", "loud")
	require.ErrorIs(t, err, config.ErrConfiguration)
	assert.Contains(t, err.Error(), "logging.level")

	// The solver script is a regular file, so no directory can be created under it.
	_, err = env.run(t, "eval", "--genome", "9,6,8,4", "--log-file", filepath.Join(env.solver, "logs", "vrptune.log"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, config.ErrConfiguration)
	var pathErr *fs.PathError
	assert.ErrorAs(t, err, &pathErr)
	assert.Contains(t, err.Error(), "log")

	logFile := filepath.Join(env.base, "logs", "vrptune.log")
	_, err = env.run(t, "eval", "--genome", "9,6,8,4", "--seeds", "1", "--log-file", logFile)
	require.NoError(t, err)
	assert.FileExists(t, logFile)
}
