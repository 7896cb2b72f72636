// Package vrptune is the programmatic entry point of the tuner: GA runs,
// single genome evaluations, grid searches and queries over past runs.
package vrptune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"vrptune/internal/config"
	"vrptune/internal/evo"
	"vrptune/internal/fitness"
	"vrptune/internal/logging"
	"vrptune/internal/model"
	"vrptune/internal/objective"
	"vrptune/internal/stats"
	"vrptune/internal/storage"
)

type Options struct {
	// Config must pass config.Validate; New checks it.
	Config config.Config
	Logger *slog.Logger
	// Evaluator replaces the solver subprocess when set.
	Evaluator objective.Evaluator
}

type Client struct {
	cfg       config.Config
	store     storage.Store
	logger    *slog.Logger
	evaluator objective.Evaluator

	initMu      sync.Mutex
	initialized bool
}

type RunRequest struct {
	// RunID is generated when empty.
	RunID string
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Seed         uint64
	BestGenome   model.Genome
	BestFitness  int64
	Generations  int
	History      []model.GenerationDiagnostics
}

type EvaluateRequest struct {
	Genome model.Genome
	// Seeds default to the grid seeds of the configuration.
	Seeds []int64
}

type EvaluateSummary struct {
	Genome  model.Genome
	Seeds   []int64
	Totals  []int64
	Fitness int64
}

type GridRequest struct {
	// Output overrides the configured report path.
	Output string
}

type GridSummary struct {
	ReportPath string
	// PointsPath is the unsorted per-point log, empty when disabled.
	PointsPath string
	Results    []stats.Record
	Best       stats.Record
}

type RunsRequest struct {
	Limit int
	// FromIndex lists the on-disk run index instead of the store.
	FromIndex bool
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Status       model.RunStatus
	Generations  int
	BestGenome   model.Genome
	BestFitness  int64
}

type BestRequest struct {
	// RunID reads the best log of a stored run. Otherwise Path, or the
	// configured result log when Path is empty, is scanned for the lowest
	// fitness.
	RunID string
	Path  string
}

func New(opts Options) (*Client, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.NewStore(opts.Config.Output)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:       opts.Config,
		store:     store,
		logger:    logging.OrDiscard(opts.Logger),
		evaluator: opts.Evaluator,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init prepares the store. Operations that need it call Init themselves.
func (c *Client) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	c.initialized = true
	return nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config {
	return c.cfg
}

// Run executes one GA run until it terminates, fails or ctx is cancelled.
// The run summary, store records and artifacts are written in every case;
// the returned error explains why a run did not terminate normally.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	cfg := c.cfg
	seed := uint64(time.Now().UnixNano())
	if cfg.Evolution.Seed != nil {
		seed = *cfg.Evolution.Seed
	}
	cfg.Evolution.Seed = &seed
	logger := c.logger.With(slog.String("run_id", runID))

	aggregator, err := c.aggregator(logger)
	if err != nil {
		return RunSummary{}, err
	}
	initial, err := initialPopulation(cfg, int64(seed))
	if err != nil {
		return RunSummary{}, err
	}
	selector, err := evo.SelectorFromConfig(cfg.Evolution.Selection, cfg.Evolution.TournamentSize)
	if err != nil {
		return RunSummary{}, config.Errorf("evolution.selection", "%v", err)
	}

	csvRecorder, err := stats.OpenCSVRecorder(c.outputPath(cfg.Output.ResultsFile), c.outputPath(cfg.Output.BestFile))
	if err != nil {
		return RunSummary{}, err
	}
	defer csvRecorder.Close()

	engine, err := evo.NewEngine(evo.Config{
		Ranges:             cfg.Parameters,
		PopulationSize:     cfg.Evolution.PopulationSize,
		MutationRate:       cfg.Evolution.MutationRate,
		SeedsPerEvaluation: cfg.Evolution.SeedsPerEvaluation,
		Patience:           cfg.Evolution.Patience,
		Seed:               int64(seed),
		Selector:           selector,
		Logger:             logger,
	}, aggregator, stats.MultiRecorder{csvRecorder, storage.Recorder{Store: c.store, RunID: runID}}, initial)
	if err != nil {
		return RunSummary{}, err
	}

	createdAt := time.Now().UTC()
	run := model.Run{
		ID:           runID,
		CreatedAtUTC: createdAt.Format(time.RFC3339Nano),
		Status:       model.RunStatusRunning,
		Params:       cfg.Parameters,
		BestFitness:  -1,
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return RunSummary{}, fmt.Errorf("saving run: %w", err)
	}
	logger.Info("run started", slog.Uint64("seed", seed), slog.String("solver", cfg.Solver.Executable))

	result, runErr := engine.Run(ctx)

	run.FinishedAtUTC = time.Now().UTC().Format(time.RFC3339Nano)
	run.Generations = result.Generations
	if result.BestGenome != nil {
		run.BestGenome = result.BestGenome
		run.BestFitness = result.BestFitness
	}
	run.Status = model.RunStatusTerminated
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	}

	// Bookkeeping must land even when ctx was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	if err := c.store.SaveRun(persistCtx, run); err != nil {
		return RunSummary{}, errors.Join(runErr, fmt.Errorf("saving run: %w", err))
	}

	summary := RunSummary{
		RunID:       runID,
		Seed:        seed,
		BestGenome:  result.BestGenome,
		BestFitness: result.BestFitness,
		Generations: result.Generations,
		History:     result.History,
	}
	if cfg.Output.ArtifactsDir != "" {
		artifacts := stats.RunArtifacts{Config: cfg, Summary: run, History: result.History}
		baseDir := c.outputPath(cfg.Output.ArtifactsDir)
		runDir, err := stats.WriteRunArtifacts(baseDir, artifacts)
		if err != nil {
			return summary, errors.Join(runErr, fmt.Errorf("writing run artifacts: %w", err))
		}
		if err := stats.AppendRunIndex(baseDir, artifacts.IndexEntry()); err != nil {
			return summary, errors.Join(runErr, fmt.Errorf("updating run index: %w", err))
		}
		summary.ArtifactsDir = filepath.Clean(runDir)
	}
	if runErr != nil {
		return summary, fmt.Errorf("run %s: %w", runID, runErr)
	}
	return summary, nil
}

// Evaluate measures the fitness of one genome.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	if err := evo.ValidateGenome(req.Genome, c.cfg.Parameters); err != nil {
		return EvaluateSummary{}, config.Errorf("genome", "%v", err)
	}
	seeds := req.Seeds
	if len(seeds) == 0 {
		seeds = c.cfg.Grid.Seeds
	}
	if len(seeds) == 0 {
		return EvaluateSummary{}, config.Errorf("seeds", "at least one seed is required")
	}
	aggregator, err := c.aggregator(c.logger)
	if err != nil {
		return EvaluateSummary{}, err
	}
	m, err := aggregator.Measure(ctx, req.Genome, seeds)
	if err != nil {
		return EvaluateSummary{}, err
	}
	return EvaluateSummary{Genome: req.Genome.Clone(), Seeds: m.Seeds, Totals: m.Totals, Fitness: m.Fitness}, nil
}

// Grid evaluates every genome of the configured grid with the fixed grid
// seeds and writes a report sorted by fitness. Each point is also appended to
// the points log as soon as it is scored; on failure the summary holds the
// points completed so far.
func (c *Client) Grid(ctx context.Context, req GridRequest) (GridSummary, error) {
	axes := c.cfg.Grid.Axes
	if len(axes) == 0 {
		return GridSummary{}, config.Errorf("grid.axes", "no grid configured")
	}
	if len(axes) != len(c.cfg.Parameters) {
		return GridSummary{}, config.Errorf("grid.axes", "has %d axes, want %d", len(axes), len(c.cfg.Parameters))
	}
	if len(c.cfg.Grid.Seeds) == 0 {
		return GridSummary{}, config.Errorf("grid.seeds", "at least one seed is required")
	}
	genomes := GridGenomes(axes)
	if len(genomes) == 0 {
		return GridSummary{}, config.Errorf("grid.axes", "grid is empty")
	}
	aggregator, err := c.aggregator(c.logger)
	if err != nil {
		return GridSummary{}, err
	}

	names := make([]string, len(c.cfg.Parameters))
	for i, p := range c.cfg.Parameters {
		names[i] = p.Name
	}

	var (
		points     *stats.GridLog
		pointsPath string
	)
	if c.cfg.Grid.PointsFile != "" {
		pointsPath = c.outputPath(c.cfg.Grid.PointsFile)
		points, err = stats.CreateGridLog(pointsPath, names)
		if err != nil {
			return GridSummary{}, fmt.Errorf("creating grid points log: %w", err)
		}
		defer points.Close()
		pointsPath = filepath.Clean(pointsPath)
	}

	results := make([]stats.Record, 0, len(genomes))
	var best stats.Record
	for i, genome := range genomes {
		f, err := aggregator.Fitness(ctx, genome, c.cfg.Grid.Seeds)
		if err != nil {
			return GridSummary{PointsPath: pointsPath, Results: results, Best: best},
				fmt.Errorf("grid genome %s after %d of %d points: %w", genome, len(results), len(genomes), err)
		}
		rec := stats.Record{Genome: genome, Fitness: f}
		if points != nil {
			if err := points.Append(rec); err != nil {
				return GridSummary{PointsPath: pointsPath, Results: results, Best: best}, fmt.Errorf("logging grid point: %w", err)
			}
		}
		results = append(results, rec)
		if i == 0 || f < best.Fitness {
			best = rec
		}
		c.logger.Info("grid point evaluated",
			slog.Int("index", i+1),
			slog.Int("total", len(genomes)),
			slog.String("genome", genome.String()),
			slog.Int64("fitness", f),
		)
	}

	path := req.Output
	if path == "" {
		path = c.outputPath(c.cfg.Grid.Output)
	}
	if err := stats.WriteGridReport(path, names, results); err != nil {
		return GridSummary{}, fmt.Errorf("writing grid report: %w", err)
	}
	c.logger.Info("grid search finished", slog.String("best_genome", best.Genome.String()), slog.Int64("best_fitness", best.Fitness))
	return GridSummary{ReportPath: filepath.Clean(path), PointsPath: pointsPath, Results: results, Best: best}, nil
}

// GridGenomes enumerates the cartesian product of the axes, last axis
// varying fastest.
func GridGenomes(axes []config.GridAxis) []model.Genome {
	out := []model.Genome{{}}
	for _, axis := range axes {
		values := axis.Values()
		next := make([]model.Genome, 0, len(out)*len(values))
		for _, prefix := range out {
			for _, v := range values {
				g := append(prefix.Clone(), v)
				next = append(next, g)
			}
		}
		out = next
	}
	return out
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	var out []RunItem
	if req.FromIndex {
		if c.cfg.Output.ArtifactsDir == "" {
			return nil, config.Errorf("output.artifacts_dir", "no run index without an artifacts directory")
		}
		entries, err := stats.ListRunIndex(c.outputPath(c.cfg.Output.ArtifactsDir))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			genome, _ := model.ParseGenome(e.BestGenome)
			out = append(out, RunItem{
				RunID:        e.RunID,
				CreatedAtUTC: e.CreatedAtUTC,
				Status:       e.Status,
				Generations:  e.Generations,
				BestGenome:   genome,
				BestFitness:  e.BestFitness,
			})
		}
	} else {
		if err := c.Init(ctx); err != nil {
			return nil, err
		}
		runs, err := c.store.ListRuns(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range runs {
			out = append(out, RunItem{
				RunID:        r.ID,
				CreatedAtUTC: r.CreatedAtUTC,
				Status:       r.Status,
				Generations:  r.Generations,
				BestGenome:   r.BestGenome,
				BestFitness:  r.BestFitness,
			})
		}
	}
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// Best returns the best record(s): the last best-log entry of a stored run,
// or every lowest-fitness line of a result log.
func (c *Client) Best(ctx context.Context, req BestRequest) ([]stats.Record, error) {
	if req.RunID != "" {
		if err := c.Init(ctx); err != nil {
			return nil, err
		}
		best, err := c.store.ListBest(ctx, req.RunID)
		if err != nil {
			return nil, err
		}
		if len(best) == 0 {
			return nil, fmt.Errorf("run %s has no best log entries", req.RunID)
		}
		last := best[len(best)-1]
		return []stats.Record{{Genome: last.Genome, Fitness: last.Fitness}}, nil
	}

	path := req.Path
	if path == "" {
		path = c.outputPath(c.cfg.Output.ResultsFile)
	}
	records, err := stats.ReadRecords(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s has no records", path)
	}
	return stats.Lowest(records), nil
}

func (c *Client) aggregator(logger *slog.Logger) (*fitness.Aggregator, error) {
	cases, err := objective.LoadCorpus(c.cfg.Corpus.Dir, c.cfg.Corpus.Pattern)
	if err != nil {
		return nil, err
	}
	eval := c.evaluator
	if eval == nil {
		solver, err := objective.NewSolver(objective.SolverConfig{
			Executable:  c.cfg.Solver.Executable,
			Timeout:     c.cfg.Solver.Timeout,
			TempDir:     c.cfg.Solver.TempDir,
			TempPattern: c.cfg.Solver.TempPattern,
			LaunchRate:  c.cfg.Solver.LaunchRate,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		eval = solver
	}
	return fitness.NewAggregator(eval, fitness.Config{
		Cases:        cases,
		Parallelism:  c.cfg.Evolution.Parallelism,
		MaxAttempts:  c.cfg.Solver.MaxAttempts,
		RetryBackoff: c.cfg.Solver.RetryBackoff,
		RetryWindow:  c.cfg.Solver.RetryWindow,
		Logger:       logger,
	})
}

func initialPopulation(cfg config.Config, seed int64) (evo.Population, error) {
	switch cfg.Evolution.InitialPopulation {
	case "", "curated":
		return evo.SeedCurated(cfg.CuratedGenomes(), cfg.Parameters, cfg.Evolution.PopulationSize)
	case "random":
		// Offset so the initial draw does not replay the engine's stream.
		rng := rand.New(rand.NewSource(seed ^ 0x5eed))
		return evo.SeedRandom(rng, cfg.Evolution.PopulationSize, cfg.Parameters)
	default:
		return nil, config.Errorf("evolution.initial_population", "unsupported mode %q", cfg.Evolution.InitialPopulation)
	}
}

// outputPath resolves relative output names against the output directory.
func (c *Client) outputPath(name string) string {
	if name == "" || filepath.IsAbs(name) || c.cfg.Output.Dir == "" {
		return name
	}
	return filepath.Join(c.cfg.Output.Dir, name)
}
