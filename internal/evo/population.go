package evo

import (
	"fmt"
	"math/rand"

	"vrptune/internal/config"
	"vrptune/internal/model"
)

// Population is the ordered set of genomes of one generation. Duplicates are
// allowed.
type Population []model.Genome

// Clone deep-copies every genome.
func (p Population) Clone() Population {
	out := make(Population, len(p))
	for i, g := range p {
		out[i] = g.Clone()
	}
	return out
}

// Best returns the index of the lowest fitness. Ties go to the earliest
// genome so runs stay reproducible for a fixed evaluation order.
func (p Population) Best(fitnesses []int64) (int, model.Genome, int64, error) {
	if len(p) == 0 {
		return 0, nil, 0, fmt.Errorf("population is empty")
	}
	if len(fitnesses) != len(p) {
		return 0, nil, 0, fmt.Errorf("fitness count mismatch: got=%d want=%d", len(fitnesses), len(p))
	}
	best := 0
	for i := 1; i < len(fitnesses); i++ {
		if fitnesses[i] < fitnesses[best] {
			best = i
		}
	}
	return best, p[best], fitnesses[best], nil
}

// SeedCurated validates a fixed list of genomes and returns a copy of it.
func SeedCurated(genomes []model.Genome, ranges []model.ParamRange, size int) (Population, error) {
	if len(genomes) == 0 {
		return nil, config.Errorf("evolution.curated", "population is empty")
	}
	if len(genomes) != size {
		return nil, config.Errorf("evolution.curated", "has %d genomes, population size is %d", len(genomes), size)
	}
	pop := make(Population, len(genomes))
	for i, g := range genomes {
		if err := ValidateGenome(g, ranges); err != nil {
			return nil, config.Errorf(fmt.Sprintf("evolution.curated[%d]", i), "%v", err)
		}
		pop[i] = g.Clone()
	}
	return pop, nil
}

// SeedRandom draws size genomes uniformly from ranges.
func SeedRandom(rng *rand.Rand, size int, ranges []model.ParamRange) (Population, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if size <= 0 {
		return nil, config.Errorf("evolution.population_size", "must be > 0")
	}
	if err := validateRanges(ranges); err != nil {
		return nil, err
	}
	pop := make(Population, size)
	for i := range pop {
		pop[i] = RandomGenome(rng, ranges)
	}
	return pop, nil
}

// RandomGenome draws every position uniformly from its inclusive range.
func RandomGenome(rng *rand.Rand, ranges []model.ParamRange) model.Genome {
	g := make(model.Genome, len(ranges))
	for i, r := range ranges {
		g[i] = drawInRange(rng, r)
	}
	return g
}

func drawInRange(rng *rand.Rand, r model.ParamRange) int {
	return r.Min + rng.Intn(r.Max-r.Min+1)
}

// ValidateGenome reports the first position outside its range.
func ValidateGenome(g model.Genome, ranges []model.ParamRange) error {
	if len(g) != len(ranges) {
		return fmt.Errorf("genome %s has %d values, want %d", g, len(g), len(ranges))
	}
	for i, v := range g {
		if !ranges[i].Contains(v) {
			return fmt.Errorf("genome %s: %s=%d outside [%d, %d]", g, ranges[i].Name, v, ranges[i].Min, ranges[i].Max)
		}
	}
	return nil
}

func validateRanges(ranges []model.ParamRange) error {
	if len(ranges) == 0 {
		return config.Errorf("parameters", "at least one parameter range is required")
	}
	for i, r := range ranges {
		if r.Min > r.Max {
			return config.Errorf(fmt.Sprintf("parameters[%d]", i), "min %d > max %d", r.Min, r.Max)
		}
	}
	return nil
}
