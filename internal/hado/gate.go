package hado

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/lox/egta/internal/randutil"
	"github.com/lox/egta/internal/strategy"
)

// Config holds the HADO settings of a run.
type Config struct {
	MaxP                 float64  `hcl:"max_p,optional"`
	ErrorTolerance       float64  `hcl:"error_tolerance,optional"`
	MaxSteps             int      `hcl:"max_steps,optional"`
	SamplesPerParam      int      `hcl:"samples_per_param,optional"`
	NeighborVariance     float64  `hcl:"neighbor_variance,optional"`
	AnnealGroundTruthMax int      `hcl:"anneal_ground_truth_max,optional"`
	AnnealGroundTruthMin int      `hcl:"anneal_ground_truth_min,optional"`
	EarlyStopLevel       float64  `hcl:"early_stop_level,optional"`
	EpsilonTolerance     float64  `hcl:"epsilon_tolerance,optional"`
	MaxTemperature       float64  `hcl:"max_temperature,optional"`
	MinTemperature       float64  `hcl:"min_temperature,optional"`
	Families             []Family `hcl:"family,block"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.MaxP == 0 {
		c.MaxP = 0.05
	}
	if c.ErrorTolerance == 0 {
		c.ErrorTolerance = 0.1
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 100
	}
	if c.SamplesPerParam == 0 {
		c.SamplesPerParam = 100
	}
	if c.NeighborVariance == 0 {
		c.NeighborVariance = 0.01
	}
	if c.AnnealGroundTruthMin == 0 {
		c.AnnealGroundTruthMin = 20
	}
	if c.AnnealGroundTruthMax == 0 {
		c.AnnealGroundTruthMax = 200
	}
	if c.MaxTemperature == 0 {
		c.MaxTemperature = 1
	}
	if c.MinTemperature == 0 {
		c.MinTemperature = 1e-3
	}
	return c
}

// Validate checks ranges and families.
func (c Config) Validate() error {
	switch {
	case c.MaxP <= 0 || c.MaxP >= 1:
		return fmt.Errorf("hado.max_p must be in (0,1)")
	case c.ErrorTolerance <= 0 || c.ErrorTolerance >= 1:
		return fmt.Errorf("hado.error_tolerance must be in (0,1)")
	case c.SamplesPerParam <= 0:
		return fmt.Errorf("hado.samples_per_param must be positive")
	case c.EarlyStopLevel < 0 || c.EpsilonTolerance < 0:
		return fmt.Errorf("hado.early_stop_level and hado.epsilon_tolerance must be non-negative")
	case c.AnnealGroundTruthMin <= 0 || c.AnnealGroundTruthMax < c.AnnealGroundTruthMin:
		return fmt.Errorf("hado ground truth needs 0 < anneal_ground_truth_min <= anneal_ground_truth_max")
	case c.MaxSteps <= 0:
		return fmt.Errorf("hado.max_steps must be positive")
	case c.NeighborVariance <= 0 || c.NeighborVariance >= 0.25:
		return fmt.Errorf("hado.neighbor_variance must be in (0,0.25)")
	case c.MinTemperature <= 0 || c.MaxTemperature < c.MinTemperature:
		return fmt.Errorf("hado temperatures need 0 < min_temperature <= max_temperature")
	}
	seen := map[string]bool{}
	for _, f := range c.Families {
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.Role] {
			return fmt.Errorf("more than one hado family for %s", f.Role)
		}
		seen[f.Role] = true
	}
	return nil
}

// FamilyFor returns the family searched for role.
func (c Config) FamilyFor(role strategy.Role) (Family, bool) {
	for _, f := range c.Families {
		if f.Role == string(role) {
			return f, true
		}
	}
	return Family{}, false
}

// RoundAlpha splits the experiment-wide error budget evenly across rounds.
func (c Config) RoundAlpha(maxRounds int) float64 {
	return c.ErrorTolerance / float64(maxRounds)
}

// Annealer builds the annealer of family f over objective.
func (c Config) Annealer(f Family, objective Objective, logger zerolog.Logger) *Annealer {
	return &Annealer{
		Family:           f,
		Objective:        objective,
		MaxSteps:         c.MaxSteps,
		NeighborVariance: c.NeighborVariance,
		MaxTemperature:   c.MaxTemperature,
		MinTemperature:   c.MinTemperature,
		Logger:           logger,
	}
}

// Gate runs up to Attempts annealing searches and stops at the first one
// whose best heuristic is an ε-beneficial deviation.
type Gate struct {
	Annealer *Annealer
	Attempts int
	Alpha    float64
	Epsilon  float64
	// EarlyStop is added to the equilibrium payoff to form each run's stop level.
	EarlyStop float64
	// Confirm, when set, re-estimates a candidate before the deviation test.
	Confirm Objective
	Seed    int64
	Logger  zerolog.Logger
}

// Decision is the outcome of a gate.
type Decision struct {
	Beneficial bool
	Attempts   int
	// Best is the winning run when Beneficial, otherwise the best run seen.
	Best  Result
	Value float64
	// Upper bounds the beneficial-response probability when no run succeeded.
	Upper float64
}

// Run tests whether any annealing run beats eqPayoff by more than Epsilon.
// labels seed the runs, one stream per attempt.
func (g *Gate) Run(ctx context.Context, eqPayoff float64, labels ...string) (Decision, error) {
	if g.Attempts <= 0 {
		return Decision{}, fmt.Errorf("gate needs a positive attempt count")
	}
	stopAt := eqPayoff + g.EarlyStop
	if g.EarlyStop <= 0 {
		stopAt = math.Inf(1)
	}

	dec := Decision{Value: math.Inf(-1)}
	for i := 1; i <= g.Attempts; i++ {
		rng := randutil.Stream(g.Seed, append(append([]string{"anneal"}, labels...), strconv.Itoa(i))...)
		res, err := g.Annealer.Run(ctx, rng, stopAt)
		if err != nil {
			return Decision{}, fmt.Errorf("annealing attempt %d: %w", i, err)
		}
		value := res.Value
		if g.Confirm != nil {
			if value, err = g.Confirm(ctx, res.Strategy); err != nil {
				return Decision{}, fmt.Errorf("confirming %s: %w", res.Strategy.Name, err)
			}
		}
		dec.Attempts = i
		if value > dec.Value {
			dec.Best, dec.Value = res, value
		}
		if Beneficial(value, eqPayoff, g.Epsilon) {
			dec.Beneficial = true
			dec.Best, dec.Value = res, value
			g.Logger.Info().
				Str("heuristic", res.Strategy.Name).
				Float64("value", value).
				Float64("eq_payoff", eqPayoff).
				Int("attempt", i).
				Msg("Annealing found beneficial deviation")
			return dec, nil
		}
	}
	dec.Upper = CPUpper(0, dec.Attempts, 2*g.Alpha)
	g.Logger.Info().
		Int("attempts", dec.Attempts).
		Float64("upper", dec.Upper).
		Msg("Equilibrium confirmed")
	return dec, nil
}

// Beneficial is the ε-deviation rule.
func Beneficial(value, eqPayoff, epsilon float64) bool {
	return value > eqPayoff+epsilon
}

// GroundTruth is the empirical frequency with which annealing returns a
// beneficial response.
type GroundTruth struct {
	Runs       int
	Beneficial int
	Fraction   float64
	Lower      float64
	Upper      float64
	Values     []float64
}

// EstimateGroundTruth runs the annealer independently at least minRuns and at
// most maxRuns times, stopping once the level-alpha Clopper-Pearson interval
// of the beneficial fraction lies entirely on one side of maxP.
func EstimateGroundTruth(ctx context.Context, a *Annealer, eqPayoff, epsilon float64, minRuns, maxRuns int, maxP, alpha float64, seed int64) (GroundTruth, error) {
	if minRuns <= 0 || maxRuns < minRuns {
		return GroundTruth{}, fmt.Errorf("ground truth needs 0 < min runs <= max runs")
	}
	var gt GroundTruth
	for i := 1; i <= maxRuns; i++ {
		res, err := a.Run(ctx, randutil.Stream(seed, "ground-truth", strconv.Itoa(i)), math.Inf(1))
		if err != nil {
			return GroundTruth{}, fmt.Errorf("ground truth run %d: %w", i, err)
		}
		gt.Runs = i
		gt.Values = append(gt.Values, res.Value)
		if Beneficial(res.Value, eqPayoff, epsilon) {
			gt.Beneficial++
		}
		gt.Lower = CPLower(gt.Beneficial, gt.Runs, alpha)
		gt.Upper = CPUpper(gt.Beneficial, gt.Runs, alpha)
		if i >= minRuns && (gt.Upper <= maxP || gt.Lower > maxP) {
			break
		}
	}
	gt.Fraction = float64(gt.Beneficial) / float64(gt.Runs)
	return gt, nil
}
