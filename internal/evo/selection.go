package evo

import (
	"fmt"
	"math/rand"
	"sort"

	"vrptune/internal/model"
)

// ScoredGenome is a genome with the fitness it received this generation.
// Lower fitness is better.
type ScoredGenome struct {
	Genome  model.Genome
	Fitness int64
}

// Selector chooses a parent among the scored genomes of a generation and
// returns its index. Sampling is with replacement.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, scored []ScoredGenome) (int, error)
}

// FitnessProportionateSelector is roulette-wheel selection for a cost. Genome
// g weighs (max fitness - fitness(g)), so the worst genome of the generation
// is never picked while a better one exists. When every fitness is equal all
// weights are zero and the pick is uniform.
type FitnessProportionateSelector struct{}

func (FitnessProportionateSelector) Name() string {
	return "fitness_proportionate"
}

func (FitnessProportionateSelector) PickParent(rng *rand.Rand, scored []ScoredGenome) (int, error) {
	if rng == nil {
		return 0, fmt.Errorf("random source is required")
	}
	if len(scored) == 0 {
		return 0, fmt.Errorf("cannot select from an empty generation")
	}

	maxFitness := scored[0].Fitness
	for _, s := range scored[1:] {
		if s.Fitness > maxFitness {
			maxFitness = s.Fitness
		}
	}

	cumulative := make([]int64, len(scored))
	var total int64
	for i, s := range scored {
		total += maxFitness - s.Fitness
		cumulative[i] = total
	}
	if total == 0 {
		return rng.Intn(len(scored)), nil
	}

	pick := rng.Int63n(total)
	// First index whose cumulative weight passes pick; zero-weight entries
	// never satisfy this.
	return sort.Search(len(cumulative), func(i int) bool { return cumulative[i] > pick }), nil
}

// TournamentSelector samples Size genomes uniformly and keeps the lowest
// fitness.
type TournamentSelector struct {
	Size int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, scored []ScoredGenome) (int, error) {
	if rng == nil {
		return 0, fmt.Errorf("random source is required")
	}
	if len(scored) == 0 {
		return 0, fmt.Errorf("cannot select from an empty generation")
	}
	size := s.Size
	if size <= 0 {
		size = 3
	}
	best := rng.Intn(len(scored))
	for i := 1; i < size; i++ {
		candidate := rng.Intn(len(scored))
		if scored[candidate].Fitness < scored[best].Fitness {
			best = candidate
		}
	}
	return best, nil
}

// SelectorFromConfig resolves a selector by name.
func SelectorFromConfig(name string, tournamentSize int) (Selector, error) {
	switch name {
	case "", "fitness_proportionate", "roulette":
		return FitnessProportionateSelector{}, nil
	case "tournament":
		return TournamentSelector{Size: tournamentSize}, nil
	default:
		return nil, fmt.Errorf("unsupported selection: %s", name)
	}
}
