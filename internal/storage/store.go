package storage

import (
	"context"

	"vrptune/internal/model"
)

// Store persists tuning runs together with their result and best logs.
// Evaluations are returned in append order.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, bool, error)
	// ListRuns returns every run, newest first.
	ListRuns(ctx context.Context) ([]model.Run, error)
	AppendEvaluation(ctx context.Context, runID string, e model.Evaluation) error
	ListEvaluations(ctx context.Context, runID string) ([]model.Evaluation, error)
	AppendBest(ctx context.Context, runID string, e model.Evaluation) error
	ListBest(ctx context.Context, runID string) ([]model.Evaluation, error)
}
