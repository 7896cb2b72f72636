package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"

	"vrptune/internal/config"
	"vrptune/internal/model"
)

const (
	runIndexFile    = "run_index.json"
	configFile      = "config.yaml"
	generationsFile = "generations.csv"
	summaryFile     = "summary.json"
)

// RunArtifacts is everything written to a run directory.
type RunArtifacts struct {
	Config  config.Config
	Summary model.Run
	History []model.GenerationDiagnostics
}

type RunIndexEntry struct {
	RunID          string          `json:"run_id"`
	Status         model.RunStatus `json:"status"`
	PopulationSize int             `json:"population_size"`
	Patience       int             `json:"patience"`
	Seed           *uint64         `json:"seed,omitempty"`
	Generations    int             `json:"generations"`
	BestGenome     string          `json:"best_genome"`
	BestFitness    int64           `json:"best_fitness"`
	CreatedAtUTC   string          `json:"created_at_utc"`
}

// IndexEntry condenses the artifacts to one run index line.
func (a RunArtifacts) IndexEntry() RunIndexEntry {
	return RunIndexEntry{
		RunID:          a.Summary.ID,
		Status:         a.Summary.Status,
		PopulationSize: a.Config.Evolution.PopulationSize,
		Patience:       a.Config.Evolution.Patience,
		Seed:           a.Config.Evolution.Seed,
		Generations:    a.Summary.Generations,
		BestGenome:     a.Summary.BestGenome.String(),
		BestFitness:    a.Summary.BestFitness,
		CreatedAtUTC:   a.Summary.CreatedAtUTC,
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	runID := strings.TrimSpace(artifacts.Summary.ID)
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := artifacts.Config.WriteYAML(filepath.Join(runDir, configFile)); err != nil {
		return "", err
	}
	if err := writeGenerations(filepath.Join(runDir, generationsFile), artifacts.History); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	return runDir, nil
}

func writeGenerations(path string, history []model.GenerationDiagnostics) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if history == nil {
		history = []model.GenerationDiagnostics{}
	}
	if err := gocsv.Marshal(history, f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadGenerations loads generations.csv of a run. The bool is false when the
// run has no artifacts.
func ReadGenerations(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	f, err := os.Open(filepath.Join(baseDir, runID, generationsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var history []model.GenerationDiagnostics
	if err := gocsv.UnmarshalFile(f, &history); err != nil {
		return nil, false, err
	}
	return history, true, nil
}

func ReadRunSummary(baseDir, runID string) (model.Run, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, summaryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Run{}, false, nil
		}
		return model.Run{}, false, err
	}
	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return model.Run{}, false, err
	}
	return run, true, nil
}

// ReadRunConfig loads the config snapshot of a run, so the run can be
// repeated with exactly the same settings.
func ReadRunConfig(baseDir, runID string) (config.Config, bool, error) {
	path := filepath.Join(baseDir, runID, configFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.Config{}, false, nil
		}
		return config.Config{}, false, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, false, err
	}
	return cfg, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the indexed runs, newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
