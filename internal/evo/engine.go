package evo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"vrptune/internal/config"
	"vrptune/internal/logging"
	"vrptune/internal/metrics"
	"vrptune/internal/model"
)

// MaxSeed is the largest solver seed drawn for an evaluation.
const MaxSeed = 1_000_000

// FitnessFunc scores one genome under a list of solver seeds.
type FitnessFunc interface {
	Fitness(ctx context.Context, genome model.Genome, seeds []int64) (int64, error)
}

// Recorder receives every evaluation as soon as it is known and every new
// all-time best.
type Recorder interface {
	RecordEvaluation(ctx context.Context, e model.Evaluation) error
	RecordBest(ctx context.Context, e model.Evaluation) error
}

type nopRecorder struct{}

func (nopRecorder) RecordEvaluation(context.Context, model.Evaluation) error { return nil }
func (nopRecorder) RecordBest(context.Context, model.Evaluation) error       { return nil }

type Phase string

const (
	PhaseRunning    Phase = "running"
	PhaseTerminated Phase = "terminated"
)

// State is the mutable progress of an engine. BestFitness is math.MaxInt64
// and BestGenome nil until the first generation is scored.
type State struct {
	Phase                       Phase
	Generation                  int
	BestGenome                  model.Genome
	BestFitness                 int64
	GenerationsSinceImprovement int
}

// Config is fixed for the lifetime of an engine.
type Config struct {
	Ranges             []model.ParamRange
	PopulationSize     int
	MutationRate       float64
	SeedsPerEvaluation int
	// Patience is the number of consecutive generations without a strictly
	// better best after which the run terminates.
	Patience int
	// Seed drives every random choice of the engine: solver seeds, parent
	// selection and mutation.
	Seed      int64
	Selector  Selector
	Crossover Crossover
	Mutator   Mutator
	Logger    *slog.Logger
	// OnGeneration, when set, is called after each generation is scored.
	OnGeneration func(model.GenerationDiagnostics)
}

type Result struct {
	BestGenome  model.Genome
	BestFitness int64
	Generations int
	History     []model.GenerationDiagnostics
}

// Engine runs the generational loop. It is not safe for concurrent use;
// parallelism lives inside the fitness function.
type Engine struct {
	cfg        Config
	fitness    FitnessFunc
	recorder   Recorder
	rng        *rand.Rand
	logger     *slog.Logger
	population Population
	state      State
	history    []model.GenerationDiagnostics
}

func NewEngine(cfg Config, fitness FitnessFunc, recorder Recorder, initial Population) (*Engine, error) {
	if fitness == nil {
		return nil, fmt.Errorf("fitness function is required")
	}
	if err := validateRanges(cfg.Ranges); err != nil {
		return nil, err
	}
	if cfg.PopulationSize <= 0 {
		return nil, config.Errorf("evolution.population_size", "must be > 0")
	}
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 {
		return nil, config.Errorf("evolution.mutation_rate", "must be in [0, 1], got %g", cfg.MutationRate)
	}
	if cfg.SeedsPerEvaluation <= 0 {
		return nil, config.Errorf("evolution.seeds_per_evaluation", "must be > 0")
	}
	if cfg.Patience <= 0 {
		return nil, config.Errorf("evolution.patience", "must be > 0")
	}
	if len(initial) == 0 {
		return nil, config.Errorf("evolution.initial_population", "population is empty")
	}
	if len(initial) != cfg.PopulationSize {
		return nil, config.Errorf("evolution.initial_population", "has %d genomes, population size is %d", len(initial), cfg.PopulationSize)
	}
	for i, g := range initial {
		if err := ValidateGenome(g, cfg.Ranges); err != nil {
			return nil, config.Errorf(fmt.Sprintf("evolution.initial_population[%d]", i), "%v", err)
		}
	}
	if cfg.Selector == nil {
		cfg.Selector = FitnessProportionateSelector{}
	}
	if cfg.Crossover == nil {
		cfg.Crossover = MidpointCrossover{}
	}
	if cfg.Mutator == nil {
		cfg.Mutator = UniformResetMutator{Rate: cfg.MutationRate}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	cfg.Ranges = append([]model.ParamRange(nil), cfg.Ranges...)

	return &Engine{
		cfg:        cfg,
		fitness:    fitness,
		recorder:   recorder,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		logger:     logging.OrDiscard(cfg.Logger),
		population: initial.Clone(),
		state: State{
			Phase:       PhaseRunning,
			BestFitness: math.MaxInt64,
		},
	}, nil
}

// State returns a copy of the current progress.
func (e *Engine) State() State {
	s := e.state
	s.BestGenome = s.BestGenome.Clone()
	return s
}

// Population returns a copy of the population awaiting evaluation.
func (e *Engine) Population() Population {
	return e.population.Clone()
}

// Run steps until the engine terminates or a step fails. On failure the
// partial result is returned with the error.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	e.logger.Info("evolution started",
		slog.Int("population", e.cfg.PopulationSize),
		slog.Int("patience", e.cfg.Patience),
		slog.Float64("mutation_rate", e.cfg.MutationRate),
		slog.Int("seeds_per_evaluation", e.cfg.SeedsPerEvaluation),
		slog.String("selection", e.cfg.Selector.Name()),
	)
	for {
		done, err := e.Step(ctx)
		if err != nil {
			e.logger.Error("evolution aborted",
				slog.Int("generation", e.state.Generation),
				slog.String("error", err.Error()),
			)
			return e.result(), err
		}
		if done {
			break
		}
	}
	e.logger.Info("evolution terminated",
		slog.Int("generations", e.state.Generation),
		slog.String("best_genome", e.state.BestGenome.String()),
		slog.Int64("best_fitness", e.state.BestFitness),
	)
	return e.result(), nil
}

func (e *Engine) result() Result {
	return Result{
		BestGenome:  e.state.BestGenome.Clone(),
		BestFitness: e.state.BestFitness,
		Generations: e.state.Generation,
		History:     append([]model.GenerationDiagnostics(nil), e.history...),
	}
}

// Step evaluates the current population, updates the best and breeds the
// next generation. done is true once the engine has terminated.
func (e *Engine) Step(ctx context.Context) (bool, error) {
	if e.state.Phase == PhaseTerminated {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	generation := e.state.Generation
	seeds := e.drawSeeds()
	scored := make([]ScoredGenome, len(e.population))
	fitnesses := make([]int64, len(e.population))
	for i, genome := range e.population {
		fitness, err := e.fitness.Fitness(ctx, genome, seeds)
		if err != nil {
			return false, fmt.Errorf("generation %d genome %d (%s): %w", generation, i, genome, err)
		}
		scored[i] = ScoredGenome{Genome: genome, Fitness: fitness}
		fitnesses[i] = fitness
		metrics.GenomesEvaluated.Inc()
		e.logger.Debug("genome evaluated",
			slog.Int("generation", generation),
			slog.String("genome", genome.String()),
			slog.Int64("fitness", fitness),
		)
		if err := e.recorder.RecordEvaluation(ctx, model.Evaluation{
			Generation: generation,
			Genome:     genome.Clone(),
			Fitness:    fitness,
		}); err != nil {
			return false, fmt.Errorf("recording evaluation: %w", err)
		}
	}

	bestIdx, bestGenome, bestFitness, err := e.population.Best(fitnesses)
	if err != nil {
		return false, err
	}
	improved := bestFitness < e.state.BestFitness
	if improved {
		e.state.BestGenome = bestGenome.Clone()
		e.state.BestFitness = bestFitness
		e.state.GenerationsSinceImprovement = 0
		metrics.BestFitness.Set(float64(bestFitness))
		e.logger.Info("new best",
			slog.Int("generation", generation),
			slog.String("genome", bestGenome.String()),
			slog.Int64("fitness", bestFitness),
		)
		if err := e.recorder.RecordBest(ctx, model.Evaluation{
			Generation: generation,
			Genome:     bestGenome.Clone(),
			Fitness:    bestFitness,
		}); err != nil {
			return false, fmt.Errorf("recording best: %w", err)
		}
	} else {
		e.state.GenerationsSinceImprovement++
	}

	diag := summarizeGeneration(generation, scored, bestIdx, improved, e.state.GenerationsSinceImprovement)
	e.history = append(e.history, diag)
	e.logger.Info("generation complete",
		slog.Int("generation", generation),
		slog.Int64("generation_best", diag.BestFitness),
		slog.Float64("mean", diag.MeanFitness),
		slog.Int64("all_time_best", e.state.BestFitness),
		slog.Int("since_improvement", e.state.GenerationsSinceImprovement),
	)
	if e.cfg.OnGeneration != nil {
		e.cfg.OnGeneration(diag)
	}

	next, err := e.nextGeneration(scored, bestIdx)
	if err != nil {
		return false, fmt.Errorf("generation %d: %w", generation, err)
	}
	e.population = next
	e.state.Generation++
	metrics.Generations.Inc()

	if e.state.GenerationsSinceImprovement >= e.cfg.Patience {
		e.state.Phase = PhaseTerminated
		return true, nil
	}
	return false, nil
}

func (e *Engine) drawSeeds() []int64 {
	seeds := make([]int64, e.cfg.SeedsPerEvaluation)
	for i := range seeds {
		seeds[i] = e.rng.Int63n(MaxSeed + 1)
	}
	return seeds
}

// nextGeneration keeps the generation best at index 0 and fills the rest
// with mutated children of selected parent pairs.
func (e *Engine) nextGeneration(scored []ScoredGenome, bestIdx int) (Population, error) {
	next := make(Population, 0, e.cfg.PopulationSize)
	next = append(next, scored[bestIdx].Genome.Clone())
	for len(next) < e.cfg.PopulationSize {
		i, err := e.cfg.Selector.PickParent(e.rng, scored)
		if err != nil {
			return nil, fmt.Errorf("selecting parent: %w", err)
		}
		j, err := e.cfg.Selector.PickParent(e.rng, scored)
		if err != nil {
			return nil, fmt.Errorf("selecting parent: %w", err)
		}
		child, err := e.cfg.Crossover.Cross(e.rng, scored[i].Genome, scored[j].Genome)
		if err != nil {
			return nil, fmt.Errorf("%s crossover: %w", e.cfg.Crossover.Name(), err)
		}
		child = e.cfg.Mutator.Mutate(e.rng, child, e.cfg.Ranges)
		if err := ValidateGenome(child, e.cfg.Ranges); err != nil {
			return nil, fmt.Errorf("child out of range after %s/%s: %w", e.cfg.Crossover.Name(), e.cfg.Mutator.Name(), err)
		}
		next = append(next, child)
	}
	return next, nil
}

func summarizeGeneration(generation int, scored []ScoredGenome, bestIdx int, improved bool, since int) model.GenerationDiagnostics {
	values := make([]float64, len(scored))
	distinct := make(map[string]struct{}, len(scored))
	for i, s := range scored {
		values[i] = float64(s.Fitness)
		distinct[s.Genome.String()] = struct{}{}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	return model.GenerationDiagnostics{
		Generation:     generation,
		BestFitness:    scored[bestIdx].Fitness,
		WorstFitness:   int64(floats.Max(values)),
		MeanFitness:    mean,
		StdFitness:     std,
		DistinctGenome: len(distinct),
		Improved:       improved,
		SinceImproved:  since,
		BestGenome:     scored[bestIdx].Genome.String(),
	}
}
