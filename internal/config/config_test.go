package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrptune/internal/model"
)

func TestDefaultsMatchReferenceSetup(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []model.ParamRange{
		{Name: "entities", Min: 2, Max: 30},
		{Name: "mr_switch", Min: 1, Max: 50},
		{Name: "mr_move", Min: 1, Max: 50},
		{Name: "mr_create", Min: 1, Max: 10},
	}, cfg.Parameters)
	assert.Equal(t, 10, cfg.Evolution.PopulationSize)
	assert.Equal(t, 0.33, cfg.Evolution.MutationRate)
	assert.Equal(t, 1, cfg.Evolution.SeedsPerEvaluation)
	assert.Equal(t, 10, cfg.Evolution.Patience)
	assert.Equal(t, "curated", cfg.Evolution.InitialPopulation)
	assert.Nil(t, cfg.Evolution.Seed)
	assert.Equal(t, time.Minute, cfg.Solver.Timeout)
	assert.Equal(t, []int64{42, 101, 314}, cfg.Grid.Seeds)

	curated := cfg.CuratedGenomes()
	require.Len(t, curated, 10)
	assert.Equal(t, model.Genome{10, 6, 12, 3}, curated[0])
	assert.Equal(t, model.Genome{9, 6, 31, 4}, curated[9])
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrptune.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
solver:
  executable: /opt/solver
  timeout: 5s
evolution:
  population_size: 4
  initial_population: random
  seed: 17
parameters:
  - {name: entities, min: 2, max: 8}
  - {name: mr_switch, min: 1, max: 5}
grid:
  axes:
    - {start: 2, stop: 8, step: 2}
    - {start: 1, stop: 5, step: 1}
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/opt/solver", cfg.Solver.Executable)
	assert.Equal(t, 5*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, 3, cfg.Solver.MaxAttempts, "untouched fields keep their defaults")
	assert.Equal(t, 4, cfg.Evolution.PopulationSize)
	require.NotNil(t, cfg.Evolution.Seed)
	assert.Equal(t, uint64(17), *cfg.Evolution.Seed)
	assert.Len(t, cfg.Parameters, 2)
	assert.Equal(t, []int{2, 4, 6}, cfg.Grid.Axes[0].Values())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("evolution: [1, 2"), 0o644))
	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	seed := uint64(99)
	cfg.Evolution.Seed = &seed
	cfg.Solver.Timeout = 90 * time.Second

	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidateRejectsInvalidConfiguration(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "no executable", mutate: func(c *Config) { c.Solver.Executable = "" }},
		{name: "zero timeout", mutate: func(c *Config) { c.Solver.Timeout = 0 }},
		{name: "zero population", mutate: func(c *Config) { c.Evolution.PopulationSize = 0 }},
		{name: "mutation above one", mutate: func(c *Config) { c.Evolution.MutationRate = 1.2 }},
		{name: "zero patience", mutate: func(c *Config) { c.Evolution.Patience = 0 }},
		{name: "unknown selection", mutate: func(c *Config) { c.Evolution.Selection = "rank" }},
		{name: "inverted range", mutate: func(c *Config) { c.Parameters[0].Min = 40 }},
		{name: "no parameters", mutate: func(c *Config) { c.Parameters = nil }},
		{name: "temp pattern without wildcard", mutate: func(c *Config) { c.Solver.TempPattern = "temp_input.txt" }},
		{name: "duplicate parameter", mutate: func(c *Config) { c.Parameters[1].Name = "entities" }, field: "parameters[1].name"},
		{name: "curated size", mutate: func(c *Config) { c.Evolution.Curated = c.Evolution.Curated[:3] }, field: "evolution.curated"},
		{name: "curated out of range", mutate: func(c *Config) { c.Evolution.Curated[2][0] = 31 }, field: "evolution.curated[2][0]"},
		{name: "grid axis step", mutate: func(c *Config) { c.Grid.Axes[1].Step = 0 }},
		{name: "sqlite without path", mutate: func(c *Config) { c.Output.Store = "sqlite"; c.Output.DBPath = "" }, field: "output.db_path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			tc.mutate(&cfg)

			err = cfg.Validate()
			require.ErrorIs(t, err, ErrConfiguration)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			if tc.field != "" {
				assert.Equal(t, tc.field, cfgErr.Field)
			}
		})
	}
}

func TestRandomPopulationIgnoresCuratedList(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Evolution.InitialPopulation = "random"
	cfg.Evolution.PopulationSize = 25
	require.NoError(t, cfg.Validate())
}

func TestGridAxesDoNotConstrainOtherParameterSets(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Parameters = []model.ParamRange{
		{Name: "entities", Min: 2, Max: 30},
		{Name: "mr_switch", Min: 1, Max: 50},
	}
	cfg.Evolution.InitialPopulation = "random"
	require.Len(t, cfg.Grid.Axes, 4)
	require.NoError(t, cfg.Validate())
}
