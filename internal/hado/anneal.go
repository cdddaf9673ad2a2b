package hado

import (
	"context"
	"fmt"
	"math"
	rand "math/rand/v2"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lox/egta/internal/strategy"
)

// Objective estimates the payoff of a heuristic against the fixed opponent mixture.
type Objective func(ctx context.Context, s strategy.Strategy) (float64, error)

// Annealer runs simulated annealing over a family's parameter cube.
type Annealer struct {
	Family           Family
	Objective        Objective
	MaxSteps         int
	NeighborVariance float64
	MaxTemperature   float64
	MinTemperature   float64
	Logger           zerolog.Logger
}

// Result is the best point found by one annealing run.
type Result struct {
	Theta        []float64
	Strategy     strategy.Strategy
	Value        float64
	Steps        int
	EarlyStopped bool
	// Trace is the value of the current point after every step.
	Trace []float64
}

// Temperature is T(i) = MaxTemperature·(1 − i/MaxSteps), never below MinTemperature.
func (a *Annealer) Temperature(i int) float64 {
	t := a.MaxTemperature * (1 - float64(i)/float64(a.MaxSteps))
	return math.Max(t, a.MinTemperature)
}

func (a *Annealer) validate() error {
	if err := a.Family.Validate(); err != nil {
		return err
	}
	switch {
	case a.Objective == nil:
		return fmt.Errorf("annealer has no objective")
	case a.MaxSteps <= 0:
		return fmt.Errorf("max_steps must be positive")
	case a.NeighborVariance <= 0:
		return fmt.Errorf("neighbor_variance must be positive")
	case a.MinTemperature <= 0 || a.MaxTemperature < a.MinTemperature:
		return fmt.Errorf("temperatures need 0 < min_temperature <= max_temperature")
	}
	return nil
}

// Run anneals from a uniformly random start. It stops early once the best
// value reaches stopAt; pass +Inf to always run MaxSteps steps.
func (a *Annealer) Run(ctx context.Context, rng *rand.Rand, stopAt float64) (Result, error) {
	if err := a.validate(); err != nil {
		return Result{}, err
	}

	theta := make([]float64, a.Family.Dim())
	for i := range theta {
		theta[i] = rng.Float64()
	}
	value, err := a.evaluate(ctx, theta)
	if err != nil {
		return Result{}, err
	}
	best := Result{Theta: theta, Value: value}
	trace := make([]float64, 0, a.MaxSteps)

	steps := 0
	for ; steps < a.MaxSteps; steps++ {
		if best.Value >= stopAt {
			best.EarlyStopped = true
			break
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		cand := a.propose(theta, rng)
		v, err := a.evaluate(ctx, cand)
		if err != nil {
			return Result{}, err
		}
		if v > value || rng.Float64() < math.Exp(-(value-v)/a.Temperature(steps)) {
			theta, value = cand, v
		}
		if value > best.Value {
			best.Theta, best.Value = theta, value
		}
		trace = append(trace, value)
	}

	best.Steps = steps
	best.Trace = trace
	best.Strategy = a.Family.Heuristic(best.Theta)
	a.Logger.Debug().
		Str("best", best.Strategy.Name).
		Float64("value", best.Value).
		Int("steps", steps).
		Bool("early_stop", best.EarlyStopped).
		Msg("Annealing run finished")
	return best, nil
}

func (a *Annealer) evaluate(ctx context.Context, theta []float64) (float64, error) {
	s := a.Family.Heuristic(theta)
	v, err := a.Objective(ctx, s)
	if err != nil {
		return 0, fmt.Errorf("evaluating %s: %w", s.Name, err)
	}
	return v, nil
}

func (a *Annealer) propose(theta []float64, rng *rand.Rand) []float64 {
	out := make([]float64, len(theta))
	for i, mu := range theta {
		out[i] = BetaNeighbor(mu, a.NeighborVariance, rng)
	}
	return out
}

// BetaNeighbor draws from the Beta distribution with the given mean and
// variance. The mean is kept inside [1e-3, 1−1e-3] and the variance below
// μ(1−μ) so the shape parameters stay positive. Draws landing exactly on 0
// or 1 are rejected.
func BetaNeighbor(mean, variance float64, rng *rand.Rand) float64 {
	mu := math.Min(math.Max(mean, 1e-3), 1-1e-3)
	v := math.Min(variance, 0.999*mu*(1-mu))
	c := mu*(1-mu)/v - 1
	b := distuv.Beta{Alpha: mu * c, Beta: (1 - mu) * c, Src: rng}
	for range 100 {
		if x := b.Rand(); x > 0 && x < 1 {
			return x
		}
	}
	return mu
}
