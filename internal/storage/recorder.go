package storage

import (
	"context"

	"vrptune/internal/model"
)

// Recorder writes the result and best logs of one run to a Store.
type Recorder struct {
	Store Store
	RunID string
}

func (r Recorder) RecordEvaluation(ctx context.Context, e model.Evaluation) error {
	return r.Store.AppendEvaluation(ctx, r.RunID, e)
}

func (r Recorder) RecordBest(ctx context.Context, e model.Evaluation) error {
	return r.Store.AppendBest(ctx, r.RunID, e)
}
