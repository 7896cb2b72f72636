package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"vrptune/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.Run
	evaluations map[string][]model.Evaluation
	best        map[string][]model.Evaluation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.Run)
	s.evaluations = make(map[string][]model.Evaluation)
	s.best = make(map[string][]model.Evaluation)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	run.VersionedRecord = CurrentVersion()
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.Run{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, cloneRun(run))
	}
	sortRunsNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) AppendEvaluation(_ context.Context, runID string, e model.Evaluation) error {
	return s.appendTo(false, runID, e)
}

func (s *MemoryStore) ListEvaluations(_ context.Context, runID string) ([]model.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEvaluations(s.evaluations[runID]), nil
}

func (s *MemoryStore) AppendBest(_ context.Context, runID string, e model.Evaluation) error {
	return s.appendTo(true, runID, e)
}

func (s *MemoryStore) ListBest(_ context.Context, runID string) ([]model.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEvaluations(s.best[runID]), nil
}

func (s *MemoryStore) appendTo(best bool, runID string, e model.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	e.Genome = e.Genome.Clone()
	if best {
		s.best[runID] = append(s.best[runID], e)
	} else {
		s.evaluations[runID] = append(s.evaluations[runID], e)
	}
	return nil
}

func cloneRun(r model.Run) model.Run {
	r.Params = append([]model.ParamRange(nil), r.Params...)
	r.BestGenome = r.BestGenome.Clone()
	return r
}

func cloneEvaluations(in []model.Evaluation) []model.Evaluation {
	out := make([]model.Evaluation, len(in))
	for i, e := range in {
		e.Genome = e.Genome.Clone()
		out[i] = e
	}
	return out
}

func sortRunsNewestFirst(runs []model.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
	})
}
