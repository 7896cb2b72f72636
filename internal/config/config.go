// Package config loads and validates tuner configuration.
//
// A configuration is built from the embedded defaults, overlaid with an
// optional YAML file, then validated. Callers apply flag overrides between
// Load and Validate.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"vrptune/internal/model"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrConfiguration marks every startup configuration failure.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports why a configuration cannot start a run.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Errorf builds a ConfigurationError for a field.
func Errorf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type Config struct {
	Solver     SolverConfig       `yaml:"solver" validate:"required"`
	Corpus     CorpusConfig       `yaml:"corpus" validate:"required"`
	Parameters []model.ParamRange `yaml:"parameters" validate:"required,min=1,dive"`
	Evolution  EvolutionConfig    `yaml:"evolution" validate:"required"`
	Grid       GridConfig         `yaml:"grid"`
	Output     OutputConfig       `yaml:"output" validate:"required"`
	Logging    LoggingConfig      `yaml:"logging"`
	Metrics    MetricsConfig      `yaml:"metrics"`
}

type SolverConfig struct {
	Executable   string        `yaml:"executable" validate:"required"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxAttempts  int           `yaml:"max_attempts" validate:"gte=1,lte=100"`
	RetryBackoff time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	RetryWindow  time.Duration `yaml:"retry_window" validate:"gte=0"`
	LaunchRate   float64       `yaml:"launch_rate" validate:"gte=0"`
	TempDir      string        `yaml:"temp_dir"`
	TempPattern  string        `yaml:"temp_pattern" validate:"required,contains=*"`
}

type CorpusConfig struct {
	Dir     string `yaml:"dir" validate:"required"`
	Pattern string `yaml:"pattern" validate:"required"`
}

type EvolutionConfig struct {
	PopulationSize     int     `yaml:"population_size" validate:"gte=1"`
	MutationRate       float64 `yaml:"mutation_rate" validate:"gte=0,lte=1"`
	SeedsPerEvaluation int     `yaml:"seeds_per_evaluation" validate:"gte=1"`
	Patience           int     `yaml:"patience" validate:"gte=1"`
	Selection          string  `yaml:"selection" validate:"oneof=fitness_proportionate tournament"`
	TournamentSize     int     `yaml:"tournament_size" validate:"gte=1"`
	InitialPopulation  string  `yaml:"initial_population" validate:"oneof=curated random"`
	Curated            [][]int `yaml:"curated,flow"`
	Seed               *uint64 `yaml:"seed,omitempty"`
	Parallelism        int     `yaml:"parallelism" validate:"gte=1"`
}

type GridConfig struct {
	Seeds  []int64    `yaml:"seeds,flow"`
	Axes   []GridAxis `yaml:"axes" validate:"dive"`
	Output string     `yaml:"output"`
	// PointsFile logs every grid point as it is scored. Empty disables it.
	PointsFile string `yaml:"points_file"`
}

// GridAxis enumerates start, start+step, ... while below stop.
type GridAxis struct {
	Start int `yaml:"start"`
	Stop  int `yaml:"stop" validate:"gtfield=Start"`
	Step  int `yaml:"step" validate:"gte=1"`
}

func (a GridAxis) Values() []int {
	var out []int
	for v := a.Start; v < a.Stop; v += a.Step {
		out = append(out, v)
	}
	return out
}

type OutputConfig struct {
	Dir          string `yaml:"dir"`
	ResultsFile  string `yaml:"results_file" validate:"required"`
	BestFile     string `yaml:"best_file" validate:"required"`
	ArtifactsDir string `yaml:"artifacts_dir"`
	Store        string `yaml:"store" validate:"oneof=memory sqlite"`
	DBPath       string `yaml:"db_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the embedded defaults.
func Default() (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	return cfg, nil
}

// Load overlays the YAML file at path on the defaults. An empty path returns
// the defaults. The result is not validated.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	// Lists replace the defaults wholesale; scalar fields only change when
	// present in the file.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigurationError{Field: path, Reason: err.Error()}
	}
	return cfg, nil
}

// WriteYAML saves cfg so a run can be reproduced.
func (c Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field consistency.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			reasons := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				reasons = append(reasons, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return &ConfigurationError{Field: fieldErrs[0].Namespace(), Reason: strings.Join(reasons, "; ")}
		}
		return &ConfigurationError{Reason: err.Error()}
	}

	names := make(map[string]struct{}, len(c.Parameters))
	for i, p := range c.Parameters {
		if _, dup := names[p.Name]; dup {
			return Errorf(fmt.Sprintf("parameters[%d].name", i), "duplicate parameter %q", p.Name)
		}
		names[p.Name] = struct{}{}
	}

	if c.Evolution.InitialPopulation == "curated" {
		if len(c.Evolution.Curated) != c.Evolution.PopulationSize {
			return Errorf("evolution.curated", "has %d genomes, population size is %d", len(c.Evolution.Curated), c.Evolution.PopulationSize)
		}
		for i, genome := range c.Evolution.Curated {
			if len(genome) != len(c.Parameters) {
				return Errorf(fmt.Sprintf("evolution.curated[%d]", i), "has %d values, want %d", len(genome), len(c.Parameters))
			}
			for j, v := range genome {
				if !c.Parameters[j].Contains(v) {
					return Errorf(fmt.Sprintf("evolution.curated[%d][%d]", i, j), "value %d outside [%d, %d]", v, c.Parameters[j].Min, c.Parameters[j].Max)
				}
			}
		}
	}

	if c.Output.Store == "sqlite" && c.Output.DBPath == "" {
		return Errorf("output.db_path", "required for the sqlite store")
	}
	return nil
}

// CuratedGenomes converts the curated list to genomes.
func (c Config) CuratedGenomes() []model.Genome {
	out := make([]model.Genome, len(c.Evolution.Curated))
	for i, values := range c.Evolution.Curated {
		out[i] = model.Genome(values).Clone()
	}
	return out
}
