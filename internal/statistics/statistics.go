// Package statistics accumulates episode payoffs and summarizes them.
package statistics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Accumulator tracks count, sum and sum of squares of a payoff stream.
type Accumulator struct {
	N     int
	Sum   float64
	SumSq float64
}

// Add incorporates one observation. Non-finite values are rejected so that a
// single NaN cannot silently poison the mean.
func (a *Accumulator) Add(x float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fmt.Errorf("non-finite observation %v", x)
	}
	a.N++
	a.Sum += x
	a.SumSq += x * x
	return nil
}

// Mean returns the arithmetic mean, or 0 when empty.
func (a *Accumulator) Mean() float64 {
	if a.N == 0 {
		return 0
	}
	return a.Sum / float64(a.N)
}

// Variance returns the population variance (divide by N). Episode batches are
// later mixed with the law of total variance, which needs this form.
func (a *Accumulator) Variance() float64 {
	if a.N < 2 {
		return 0
	}
	mean := a.Mean()
	v := a.SumSq/float64(a.N) - mean*mean
	if v < 0 {
		// rounding
		return 0
	}
	return v
}

// StdDev returns the population standard deviation.
func (a *Accumulator) StdDev() float64 {
	return math.Sqrt(a.Variance())
}

// StdError returns the standard error of the mean.
func (a *Accumulator) StdError() float64 {
	if a.N == 0 {
		return 0
	}
	return a.StdDev() / math.Sqrt(float64(a.N))
}

// Pair accumulates the defender and attacker payoffs of the same episodes.
type Pair struct {
	Def Accumulator
	Att Accumulator
}

// Add records one episode.
func (p *Pair) Add(def, att float64) error {
	if err := p.Def.Add(def); err != nil {
		return fmt.Errorf("defender reward: %w", err)
	}
	if err := p.Att.Add(att); err != nil {
		return fmt.Errorf("attacker reward: %w", err)
	}
	return nil
}

// ConfidenceInterval95 returns a two-sided 95% interval for a mean with the
// given standard deviation and sample size, using the t-distribution.
func ConfidenceInterval95(mean, stdDev float64, n int) (float64, float64) {
	if n <= 1 {
		return math.Inf(-1), math.Inf(1)
	}
	se := stdDev / math.Sqrt(float64(n))
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
	margin := t.Quantile(0.975) * se
	return mean - margin, mean + margin
}
