package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrptune/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	exerciseStore(t, store)
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	assert.Error(t, store.SaveRun(context.Background(), model.Run{ID: "r"}))
	assert.Error(t, store.AppendEvaluation(context.Background(), "r", model.Evaluation{}))
}

func TestMemoryStoreDoesNotAliasGenomes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Init(ctx))
	genome := model.Genome{1, 2, 3}
	require.NoError(t, store.AppendEvaluation(ctx, "r", model.Evaluation{Genome: genome, Fitness: 6}))
	genome[0] = 99

	got, err := store.ListEvaluations(ctx, "r")
	require.NoError(t, err)
	got[0].Genome[1] = 42
	again, err := store.ListEvaluations(ctx, "r")
	require.NoError(t, err)
	assert.True(t, again[0].Genome.Equal(model.Genome{1, 2, 3}), "stored genome was aliased: %v", again[0].Genome)
}
