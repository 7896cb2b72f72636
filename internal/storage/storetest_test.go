package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrptune/internal/model"
)

// exerciseStore runs the behaviour shared by every backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	older := model.Run{
		ID:           "run-a",
		CreatedAtUTC: "2026-01-01T00:00:00Z",
		Status:       model.RunStatusRunning,
		Params:       []model.ParamRange{{Name: "entities", Min: 2, Max: 30}},
		BestFitness:  0,
	}
	newer := model.Run{
		ID:           "run-b",
		CreatedAtUTC: "2026-02-01T00:00:00Z",
		Status:       model.RunStatusTerminated,
		Generations:  12,
		BestGenome:   model.Genome{9},
		BestFitness:  1400,
	}
	for _, run := range []model.Run{older, newer} {
		require.NoError(t, store.SaveRun(ctx, run), "save run %s", run.ID)
	}

	older.Status = model.RunStatusFailed
	older.Error = "evaluation failed"
	require.NoError(t, store.SaveRun(ctx, older))

	loaded, ok, err := store.GetRun(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RunStatusFailed, loaded.Status)
	assert.Equal(t, "evaluation failed", loaded.Error)
	assert.Equal(t, CurrentVersion(), loaded.VersionedRecord)
	require.Len(t, loaded.Params, 1)
	assert.Equal(t, "entities", loaded.Params[0].Name)

	_, ok, err = store.GetRun(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID, "newest first")
	assert.Equal(t, "run-a", runs[1].ID)
	assert.True(t, runs[0].BestGenome.Equal(model.Genome{9}), "best genome %v", runs[0].BestGenome)

	rec := Recorder{Store: store, RunID: "run-b"}
	evaluations := []model.Evaluation{
		{Generation: 0, Genome: model.Genome{10, 6, 12, 3}, Fitness: 1523},
		{Generation: 0, Genome: model.Genome{9, 6, 8, 4}, Fitness: 1400},
		{Generation: 1, Genome: model.Genome{9, 6, 8, 4}, Fitness: 1410},
	}
	for _, e := range evaluations {
		require.NoError(t, rec.RecordEvaluation(ctx, e))
	}
	require.NoError(t, rec.RecordBest(ctx, evaluations[1]))
	require.NoError(t, store.AppendEvaluation(ctx, "run-a", evaluations[0]))

	got, err := store.ListEvaluations(ctx, "run-b")
	require.NoError(t, err)
	require.Len(t, got, len(evaluations))
	for i := range evaluations {
		assert.Equal(t, evaluations[i].Generation, got[i].Generation, "evaluation %d", i)
		assert.Equal(t, evaluations[i].Fitness, got[i].Fitness, "evaluation %d", i)
		assert.True(t, got[i].Genome.Equal(evaluations[i].Genome), "evaluation %d genome %v", i, got[i].Genome)
	}

	best, err := store.ListBest(ctx, "run-b")
	require.NoError(t, err)
	require.Len(t, best, 1)
	assert.Equal(t, int64(1400), best[0].Fitness)

	none, err := store.ListBest(ctx, "run-a")
	require.NoError(t, err)
	assert.Empty(t, none)
}
