package model

import (
	"fmt"
	"strconv"
	"strings"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Genome is one solver parameter vector, one integer per tunable parameter.
type Genome []int

// Clone returns an independent copy.
func (g Genome) Clone() Genome {
	if g == nil {
		return nil
	}
	out := make(Genome, len(g))
	copy(out, g)
	return out
}

func (g Genome) Equal(other Genome) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if g[i] != other[i] {
			return false
		}
	}
	return true
}

// Sum is mostly useful to deterministic test objectives.
func (g Genome) Sum() int64 {
	var total int64
	for _, v := range g {
		total += int64(v)
	}
	return total
}

// Strings renders each value in base 10.
func (g Genome) Strings() []string {
	out := make([]string, len(g))
	for i, v := range g {
		out[i] = strconv.Itoa(v)
	}
	return out
}

func (g Genome) String() string {
	return strings.Join(g.Strings(), ",")
}

// ParseGenome reads a comma or whitespace separated list of integers.
func ParseGenome(raw string) (Genome, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty genome")
	}
	out := make(Genome, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("parse genome value %q: %w", field, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParamRange is the inclusive valid range of one genome position.
type ParamRange struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Min  int    `json:"min" yaml:"min"`
	Max  int    `json:"max" yaml:"max" validate:"gtefield=Min"`
}

func (r ParamRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Evaluation is one genome with the fitness it scored in a generation.
type Evaluation struct {
	Generation int    `json:"generation"`
	Genome     Genome `json:"genome"`
	Fitness    int64  `json:"fitness"`
}

type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusTerminated RunStatus = "terminated"
	RunStatusFailed     RunStatus = "failed"
)

// Run is the persisted summary of one tuning run.
type Run struct {
	VersionedRecord
	ID            string       `json:"id"`
	CreatedAtUTC  string       `json:"created_at_utc"`
	FinishedAtUTC string       `json:"finished_at_utc,omitempty"`
	Status        RunStatus    `json:"status"`
	Params        []ParamRange `json:"params"`
	Generations   int          `json:"generations"`
	BestGenome    Genome       `json:"best_genome,omitempty"`
	BestFitness   int64        `json:"best_fitness"`
	Error         string       `json:"error,omitempty"`
}

// GenerationDiagnostics summarizes the fitness distribution of one generation.
type GenerationDiagnostics struct {
	Generation     int     `json:"generation" csv:"generation"`
	BestFitness    int64   `json:"best_fitness" csv:"best_fitness"`
	WorstFitness   int64   `json:"worst_fitness" csv:"worst_fitness"`
	MeanFitness    float64 `json:"mean_fitness" csv:"mean_fitness"`
	StdFitness     float64 `json:"std_fitness" csv:"std_fitness"`
	DistinctGenome int     `json:"distinct_genomes" csv:"distinct_genomes"`
	Improved       bool    `json:"improved" csv:"improved"`
	SinceImproved  int     `json:"since_improved" csv:"since_improved"`
	BestGenome     string  `json:"best_genome" csv:"best_genome"`
}
