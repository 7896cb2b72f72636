package stats

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrptune/internal/evo"
	"vrptune/internal/model"
)

func TestCSVRecorderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	resultsPath := filepath.Join(dir, "out", "entities_file.csv")
	bestPath := filepath.Join(dir, "out", "best_entities_file.csv")

	rec, err := OpenCSVRecorder(resultsPath, bestPath)
	require.NoError(t, err)

	ctx := context.Background()
	evaluations := []model.Evaluation{
		{Generation: 0, Genome: model.Genome{10, 6, 12, 3}, Fitness: 15230},
		{Generation: 0, Genome: model.Genome{9, 6, 8, 4}, Fitness: 14100},
		{Generation: 1, Genome: model.Genome{9, 6, 8, 4}, Fitness: 0},
	}
	for _, e := range evaluations {
		require.NoError(t, rec.RecordEvaluation(ctx, e))
	}
	require.NoError(t, rec.RecordBest(ctx, evaluations[1]))

	// Lines are durable before Close.
	raw, err := os.ReadFile(resultsPath)
	require.NoError(t, err)
	assert.Equal(t, "10,6,12,3,15230\n9,6,8,4,14100\n9,6,8,4,0\n", string(raw))
	require.NoError(t, rec.Close())

	results, err := ReadRecords(resultsPath)
	require.NoError(t, err)
	require.Len(t, results, len(evaluations))
	for i, e := range evaluations {
		assert.Equal(t, Record{Genome: e.Genome, Fitness: e.Fitness}, results[i])
	}

	best, err := ReadRecords(bestPath)
	require.NoError(t, err)
	assert.Equal(t, []Record{{Genome: model.Genome{9, 6, 8, 4}, Fitness: 14100}}, best)
}

func TestCSVRecorderAppendsToExistingLogs(t *testing.T) {
	dir := t.TempDir()
	resultsPath := filepath.Join(dir, "results.csv")
	bestPath := filepath.Join(dir, "best.csv")
	require.NoError(t, os.WriteFile(resultsPath, []byte("1, 2, 3, 4, 99\n"), 0o644))

	rec, err := OpenCSVRecorder(resultsPath, bestPath)
	require.NoError(t, err)
	require.NoError(t, rec.RecordEvaluation(context.Background(), model.Evaluation{Genome: model.Genome{5, 6, 7, 8}, Fitness: 42}))
	require.NoError(t, rec.Close())

	records, err := ReadRecords(resultsPath)
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{Genome: model.Genome{1, 2, 3, 4}, Fitness: 99},
		{Genome: model.Genome{5, 6, 7, 8}, Fitness: 42},
	}, records)
}

func TestParseRecord(t *testing.T) {
	cases := []struct {
		line string
		want Record
	}{
		{line: "10,6,12,3,1523", want: Record{Genome: model.Genome{10, 6, 12, 3}, Fitness: 1523}},
		{line: "10, 6, 12, 3, 1523", want: Record{Genome: model.Genome{10, 6, 12, 3}, Fitness: 1523}},
		{line: "7,0\n", want: Record{Genome: model.Genome{7}, Fitness: 0}},
	}
	for _, tc := range cases {
		got, err := ParseRecord(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}

	for _, bad := range []string{"", "42", "1,x,3", "1,2,3.5"} {
		_, err := ParseRecord(bad)
		assert.Error(t, err, bad)
	}
}

func TestReadRecordsMissingFile(t *testing.T) {
	_, err := ReadRecords(filepath.Join(t.TempDir(), "missing.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLowest(t *testing.T) {
	records := []Record{
		{Genome: model.Genome{1}, Fitness: 5},
		{Genome: model.Genome{2}, Fitness: 3},
		{Genome: model.Genome{3}, Fitness: 7},
		{Genome: model.Genome{4}, Fitness: 3},
	}
	assert.Equal(t, []Record{records[1], records[3]}, Lowest(records))
	assert.Empty(t, Lowest(nil))
}

type failingRecorder struct{ err error }

func (f failingRecorder) RecordEvaluation(context.Context, model.Evaluation) error { return f.err }
func (f failingRecorder) RecordBest(context.Context, model.Evaluation) error       { return f.err }

type countingRecorder struct{ evaluations, best int }

func (c *countingRecorder) RecordEvaluation(context.Context, model.Evaluation) error {
	c.evaluations++
	return nil
}

func (c *countingRecorder) RecordBest(context.Context, model.Evaluation) error {
	c.best++
	return nil
}

func TestMultiRecorderStopsAtFirstError(t *testing.T) {
	first, last := &countingRecorder{}, &countingRecorder{}
	boom := errors.New("disk full")
	multi := MultiRecorder{first, failingRecorder{err: boom}, last}

	err := multi.RecordEvaluation(context.Background(), model.Evaluation{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, first.evaluations)
	assert.Equal(t, 0, last.evaluations)

	ok := MultiRecorder{first, last}
	require.NoError(t, ok.RecordBest(context.Background(), model.Evaluation{}))
	assert.Equal(t, 1, first.best)
	assert.Equal(t, 1, last.best)

	var _ evo.Recorder = multi
	var _ evo.Recorder = (*CSVRecorder)(nil)
}
