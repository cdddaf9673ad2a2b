package equilibrium

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/randutil"
	"github.com/lox/egta/internal/strategy"
)

// FictitiousPlaySolver approximates an equilibrium in-process by letting each
// role repeatedly best-respond to the other's empirical play counts. Ties go
// to the lowest index and the optional exploration draws come from a seeded
// stream, so equal (game, seed) inputs give equal equilibria.
type FictitiousPlaySolver struct {
	Iterations int
	// Mixing is the probability of playing uniformly at random instead of
	// best-responding.
	Mixing float64
	Seed   int64
	Logger zerolog.Logger
}

func (s *FictitiousPlaySolver) Solve(ctx context.Context, g *empirical.Game) (strategy.Equilibrium, error) {
	if err := checkSolvable(g); err != nil {
		return strategy.Equilibrium{}, err
	}
	if eq, ok := trivial(g); ok {
		return eq, nil
	}
	ud, err := g.PayoffMatrix(strategy.Defender)
	if err != nil {
		return strategy.Equilibrium{}, err
	}
	ua, err := g.PayoffMatrix(strategy.Attacker)
	if err != nil {
		return strategy.Equilibrium{}, err
	}

	iters := s.Iterations
	if iters <= 0 {
		iters = 100000
	}
	rng := randutil.Stream(s.Seed, "fictitious-play")
	rows, cols := len(ud), len(ud[0])
	defCounts := make([]float64, rows)
	attCounts := make([]float64, cols)
	// running payoff of each pure strategy against the opponent's counts
	defValue := make([]float64, rows)
	attValue := make([]float64, cols)

	for i := 1; i <= iters; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return strategy.Equilibrium{}, err
			}
		}
		di := argMax(defValue)
		if s.Mixing > 0 && rng.Float64() < s.Mixing {
			di = rng.IntN(rows)
		}
		ai := argMax(attValue)
		if s.Mixing > 0 && rng.Float64() < s.Mixing {
			ai = rng.IntN(cols)
		}
		defCounts[di]++
		attCounts[ai]++
		for r := range defValue {
			defValue[r] += ud[r][ai]
		}
		for c := range attValue {
			attValue[c] += ua[di][c]
		}
		if i%(iters/10+1) == 0 {
			s.Logger.Debug().Int("iteration", i).Floats64("defender", defCounts).Floats64("attacker", attCounts).Msg("Fictitious play progress")
		}
	}

	return Normalize(g.Strategies(strategy.Defender), g.Strategies(strategy.Attacker), frequencies(defCounts), frequencies(attCounts))
}

func frequencies(counts []float64) []float64 {
	var total float64
	for _, c := range counts {
		total += c
	}
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = c / total
	}
	return out
}

func argMax(vs []float64) int {
	best := math.Inf(-1)
	idx := 0
	for i, v := range vs {
		if v > best {
			best = v
			idx = i
		}
	}
	return idx
}
