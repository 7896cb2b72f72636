package evo

import (
	"fmt"
	"math/rand"

	"vrptune/internal/model"
)

// Crossover combines two parents into one child.
type Crossover interface {
	Name() string
	Cross(rng *rand.Rand, a, b model.Genome) (model.Genome, error)
}

// Mutator returns a perturbed copy of a child; the argument is not modified.
type Mutator interface {
	Name() string
	Mutate(rng *rand.Rand, g model.Genome, ranges []model.ParamRange) model.Genome
}

// MidpointCrossover takes the floor of the mean of both parents at every
// position. For a, b in [lo, hi], lo <= floor((a+b)/2) <= hi, so the child
// needs no clamping.
type MidpointCrossover struct{}

func (MidpointCrossover) Name() string {
	return "midpoint"
}

func (MidpointCrossover) Cross(_ *rand.Rand, a, b model.Genome) (model.Genome, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("parent length mismatch: %d != %d", len(a), len(b))
	}
	child := make(model.Genome, len(a))
	for i := range a {
		child[i] = floorHalf(a[i] + b[i])
	}
	return child, nil
}

// floorHalf divides by two rounding toward negative infinity; Go's integer
// division truncates toward zero.
func floorHalf(sum int) int {
	q := sum / 2
	if sum%2 != 0 && sum < 0 {
		q--
	}
	return q
}

// UniformResetMutator redraws each position from its range with probability
// Rate, independently per position.
type UniformResetMutator struct {
	Rate float64
}

func (UniformResetMutator) Name() string {
	return "uniform_reset"
}

func (m UniformResetMutator) Mutate(rng *rand.Rand, g model.Genome, ranges []model.ParamRange) model.Genome {
	out := g.Clone()
	if m.Rate <= 0 {
		return out
	}
	for i := range out {
		if rng.Float64() < m.Rate {
			out[i] = drawInRange(rng, ranges[i])
		}
	}
	return out
}
