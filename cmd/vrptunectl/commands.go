package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vrptune/internal/config"
	"vrptune/internal/logging"
	"vrptune/internal/metrics"
	"vrptune/internal/model"
	"vrptune/pkg/vrptune"
)

// globalFlags override the configuration file for every command. A flag
// only takes effect when it was set on the command line.
type globalFlags struct {
	configPath  string
	logLevel    string
	logJSON     bool
	logFile     string
	metricsAddr string

	solver      string
	timeout     time.Duration
	maxAttempts int
	launchRate  float64
	tempDir     string
	corpusDir   string
	pattern     string
	parallelism int
	outputDir   string
	store       string
	dbPath      string
}

type runFlags struct {
	runID        string
	population   int
	patience     int
	mutation     float64
	seedsPerEval int
	seed         uint64
	selection    string
	initial      string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "vrptunectl",
		Short:         "Tune vehicle routing solver parameters with a genetic algorithm",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML config file layered over the defaults")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.BoolVar(&g.logJSON, "log-json", false, "log JSON to stderr")
	pf.StringVar(&g.logFile, "log-file", "", "also append JSON logs to this file")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address")
	pf.StringVar(&g.solver, "solver", "", "solver executable")
	pf.DurationVar(&g.timeout, "timeout", 0, "per-invocation solver timeout")
	pf.IntVar(&g.maxAttempts, "max-attempts", 0, "tries per evaluation when the solver is unavailable")
	pf.Float64Var(&g.launchRate, "launch-rate", 0, "max solver launches per second, 0 for unlimited")
	pf.StringVar(&g.tempDir, "temp-dir", "", "directory for solver input files")
	pf.StringVar(&g.corpusDir, "corpus", "", "test case directory")
	pf.StringVar(&g.pattern, "pattern", "", "glob selecting test case files")
	pf.IntVar(&g.parallelism, "parallelism", 0, "concurrent solver invocations per genome")
	pf.StringVar(&g.outputDir, "output-dir", "", "directory for logs, reports and run artifacts")
	pf.StringVar(&g.store, "store", "", "run store backend: memory|sqlite")
	pf.StringVar(&g.dbPath, "db-path", "", "sqlite database path")

	root.AddCommand(
		newRunCmd(g),
		newEvalCmd(g),
		newGridCmd(g),
		newRunsCmd(g),
		newBestCmd(g),
	)
	return root
}

func newRunCmd(g *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the genetic algorithm until the best fitness stops improving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, g, rf.apply(cmd), func(ctx context.Context, client *vrptune.Client, out io.Writer) error {
				summary, err := client.Run(ctx, vrptune.RunRequest{RunID: rf.runID})
				if summary.RunID != "" && summary.BestGenome != nil {
					fmt.Fprintf(out, "run_id=%s seed=%d generations=%d best_genome=%s best_fitness=%d\n",
						summary.RunID, summary.Seed, summary.Generations, summary.BestGenome, summary.BestFitness)
					if summary.ArtifactsDir != "" {
						fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
					}
				}
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&rf.runID, "run-id", "", "run id, generated when empty")
	f.IntVar(&rf.population, "population", 0, "population size")
	f.IntVar(&rf.patience, "patience", 0, "generations without improvement before stopping")
	f.Float64Var(&rf.mutation, "mutation", 0, "per-parameter mutation probability")
	f.IntVar(&rf.seedsPerEval, "seeds-per-eval", 0, "random solver seeds per genome evaluation")
	f.Uint64Var(&rf.seed, "seed", 0, "random seed for a reproducible run")
	f.StringVar(&rf.selection, "selection", "", "parent selection: fitness_proportionate|tournament")
	f.StringVar(&rf.initial, "initial", "", "initial population: curated|random")
	return cmd
}

func (rf *runFlags) apply(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("population") {
			cfg.Evolution.PopulationSize = rf.population
		}
		if flags.Changed("patience") {
			cfg.Evolution.Patience = rf.patience
		}
		if flags.Changed("mutation") {
			cfg.Evolution.MutationRate = rf.mutation
		}
		if flags.Changed("seeds-per-eval") {
			cfg.Evolution.SeedsPerEvaluation = rf.seedsPerEval
		}
		if flags.Changed("seed") {
			seed := rf.seed
			cfg.Evolution.Seed = &seed
		}
		if flags.Changed("selection") {
			cfg.Evolution.Selection = rf.selection
		}
		if flags.Changed("initial") {
			cfg.Evolution.InitialPopulation = rf.initial
		}
	}
}

func newEvalCmd(g *globalFlags) *cobra.Command {
	var rawGenome, rawSeeds string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate the fitness of one genome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			genome, err := model.ParseGenome(rawGenome)
			if err != nil {
				return fmt.Errorf("parse --genome: %w", err)
			}
			seeds, err := parseSeeds(rawSeeds)
			if err != nil {
				return err
			}
			return withClient(cmd, g, nil, func(ctx context.Context, client *vrptune.Client, out io.Writer) error {
				summary, err := client.Evaluate(ctx, vrptune.EvaluateRequest{Genome: genome, Seeds: seeds})
				if err != nil {
					return err
				}
				for i, seed := range summary.Seeds {
					fmt.Fprintf(out, "seed=%d total=%d\n", seed, summary.Totals[i])
				}
				fmt.Fprintf(out, "genome=%s fitness=%d\n", summary.Genome, summary.Fitness)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rawGenome, "genome", "", "comma separated parameter values, e.g. 10,6,12,3")
	cmd.Flags().StringVar(&rawSeeds, "seeds", "", "comma separated solver seeds, defaults to the grid seeds")
	_ = cmd.MarkFlagRequired("genome")
	return cmd
}

func newGridCmd(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Evaluate every genome of the configured grid and write a sorted report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, g, nil, func(ctx context.Context, client *vrptune.Client, out io.Writer) error {
				summary, err := client.Grid(ctx, vrptune.GridRequest{Output: output})
				if err != nil {
					if summary.PointsPath != "" && len(summary.Results) > 0 {
						fmt.Fprintf(out, "points_log=%s points=%d\n", summary.PointsPath, len(summary.Results))
					}
					return err
				}
				fmt.Fprintf(out, "report=%s points=%d best_genome=%s best_fitness=%d\n",
					summary.ReportPath, len(summary.Results), summary.Best.Genome, summary.Best.Fitness)
				if summary.PointsPath != "" {
					fmt.Fprintf(out, "points_log=%s\n", summary.PointsPath)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "report path, defaults to grid.output")
	return cmd
}

func newRunsCmd(g *globalFlags) *cobra.Command {
	var (
		limit     int
		fromIndex bool
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			return withClient(cmd, g, nil, func(ctx context.Context, client *vrptune.Client, out io.Writer) error {
				items, err := client.Runs(ctx, vrptune.RunsRequest{Limit: limit, FromIndex: fromIndex})
				if err != nil {
					return err
				}
				if jsonOut {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(items)
				}
				if len(items) == 0 {
					fmt.Fprintln(out, "no runs found")
					return nil
				}
				for _, item := range items {
					fmt.Fprintf(out, "run_id=%s created_at=%s status=%s generations=%d best_genome=%s best_fitness=%d\n",
						item.RunID, item.CreatedAtUTC, item.Status, item.Generations, item.BestGenome, item.BestFitness)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&fromIndex, "index", false, "read the run index under the artifacts directory instead of the store")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs list as JSON")
	return cmd
}

func newBestCmd(g *globalFlags) *cobra.Command {
	var runID, path string
	cmd := &cobra.Command{
		Use:   "best",
		Short: "Print the lowest-fitness record of a result log or run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, g, nil, func(ctx context.Context, client *vrptune.Client, out io.Writer) error {
				records, err := client.Best(ctx, vrptune.BestRequest{RunID: runID, Path: path})
				if err != nil {
					return err
				}
				for _, r := range records {
					fmt.Fprintf(out, "genome=%s fitness=%d\n", r.Genome, r.Fitness)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "stored run id")
	cmd.Flags().StringVar(&path, "path", "", "result log to scan, defaults to the configured results file")
	cmd.MarkFlagsMutuallyExclusive("run", "path")
	return cmd
}

// withClient loads the configuration, applies flag overrides, and runs fn
// with a client, logger and optional metrics listener bound to cmd.
func withClient(cmd *cobra.Command, g *globalFlags, override func(*config.Config), fn func(context.Context, *vrptune.Client, io.Writer) error) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	g.apply(cmd, &cfg)
	if override != nil {
		override(&cfg)
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return config.Errorf("logging.level", "%v", err)
	}
	logger, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		JSON:   cfg.Logging.JSON,
		File:   g.logFile,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer func() {
		_ = closeLog()
	}()

	client, err := vrptune.New(vrptune.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if cfg.Metrics.Addr != "" {
		metrics.RegisterDefault()
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error("metrics listener stopped", slog.String("addr", cfg.Metrics.Addr), slog.String("error", err.Error()))
			}
		}()
	}
	return fn(ctx, client, cmd.OutOrStdout())
}

func (g *globalFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = g.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Logging.JSON = g.logJSON
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = g.metricsAddr
	}
	if flags.Changed("solver") {
		cfg.Solver.Executable = g.solver
	}
	if flags.Changed("timeout") {
		cfg.Solver.Timeout = g.timeout
	}
	if flags.Changed("max-attempts") {
		cfg.Solver.MaxAttempts = g.maxAttempts
	}
	if flags.Changed("launch-rate") {
		cfg.Solver.LaunchRate = g.launchRate
	}
	if flags.Changed("temp-dir") {
		cfg.Solver.TempDir = g.tempDir
	}
	if flags.Changed("corpus") {
		cfg.Corpus.Dir = g.corpusDir
	}
	if flags.Changed("pattern") {
		cfg.Corpus.Pattern = g.pattern
	}
	if flags.Changed("parallelism") {
		cfg.Evolution.Parallelism = g.parallelism
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir = g.outputDir
	}
	if flags.Changed("store") {
		cfg.Output.Store = g.store
	}
	if flags.Changed("db-path") {
		cfg.Output.DBPath = g.dbPath
	}
}

func parseSeeds(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seed, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse --seeds value %q: %w", part, err)
		}
		out = append(out, seed)
	}
	return out, nil
}
