package evaluator

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/egta/internal/randutil"
	"github.com/lox/egta/internal/simulator"
	"github.com/lox/egta/internal/strategy"
)

// Resolver looks up registered strategies by name.
type Resolver interface {
	Resolve(role strategy.Role, name string) (strategy.Strategy, error)
}

// Estimate is the aggregated payoff of one strategy against a mixture.
type Estimate struct {
	Mean     float64
	Variance float64
	StdErr   float64
	N        int
	// PerOpponent holds the batch sampled against each opponent drawn.
	PerOpponent map[string]simulator.Payoff
}

// Evaluator samples payoffs of pure strategies against opponent mixtures.
type Evaluator struct {
	Sampler    simulator.Sampler
	Strategies Resolver
	Seed       int64
	Logger     zerolog.Logger
}

// New returns an evaluator drawing opponents from strategies.
func New(sampler simulator.Sampler, strategies Resolver, seed int64, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		Sampler:    sampler,
		Strategies: strategies,
		Seed:       seed,
		Logger:     logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate estimates the payoff to p's role of playing p against opp over n
// episodes. labels select the random stream used for the allocation, so the
// same labels always split the budget the same way.
func (e *Evaluator) Evaluate(ctx context.Context, p strategy.Strategy, opp strategy.Mixture, n int, labels ...string) (Estimate, error) {
	rng := randutil.Stream(e.Seed, append([]string{"evaluate", p.Name}, labels...)...)
	alloc, err := Allocate(opp, n, rng)
	if err != nil {
		return Estimate{}, err
	}

	oppRole := p.Role.Other()
	means := make([]float64, len(alloc))
	variances := make([]float64, len(alloc))
	counts := make([]int, len(alloc))
	per := make(map[string]simulator.Payoff, len(alloc))
	for i, a := range alloc {
		o, err := e.Strategies.Resolve(oppRole, a.Name)
		if err != nil {
			return Estimate{}, err
		}
		def, att := p, o
		if p.Role == strategy.Attacker {
			def, att = o, p
		}
		res, err := e.Sampler.Sample(ctx, def, att, a.Count)
		if err != nil {
			return Estimate{}, fmt.Errorf("evaluating %s against %s: %w", p.Name, a.Name, err)
		}
		per[a.Name] = res
		means[i] = res.Mean(p.Role)
		sd := res.SD(p.Role)
		variances[i] = sd * sd
		counts[i] = a.Count
	}

	est := Aggregate(means, variances, counts)
	est.PerOpponent = per
	e.Logger.Debug().
		Str("strategy", p.Name).
		Int("opponents", len(alloc)).
		Int("episodes", n).
		Float64("mean", est.Mean).
		Float64("stderr", est.StdErr).
		Msg("Evaluated strategy against mixture")
	return est, nil
}

// Aggregate combines per-opponent batch means and variances, each batch
// weighted by its share of the episodes. The variance is the mean
// within-batch variance plus the variance of the batch means.
func Aggregate(means, variances []float64, counts []int) Estimate {
	n := 0
	for _, c := range counts {
		n += c
	}
	if n == 0 {
		return Estimate{}
	}
	weights := make([]float64, len(counts))
	for i, c := range counts {
		weights[i] = float64(c) / float64(n)
	}
	mean, between := stat.PopMeanVariance(means, weights)
	variance := stat.Mean(variances, weights) + between
	return Estimate{
		Mean:     mean,
		Variance: variance,
		StdErr:   math.Sqrt(variance) / math.Sqrt(float64(n)),
		N:        n,
	}
}
