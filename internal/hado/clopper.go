package hado

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"
)

// CPUpper is the upper end of the two-sided level-alpha Clopper-Pearson
// interval for k successes in n trials.
func CPUpper(k, n int, alpha float64) float64 {
	if k >= n {
		return 1
	}
	b := distuv.Beta{Alpha: float64(k + 1), Beta: float64(n - k)}
	return b.Quantile(1 - alpha/2)
}

// CPLower is the lower end of the same interval.
func CPLower(k, n int, alpha float64) float64 {
	if k <= 0 {
		return 0
	}
	b := distuv.Beta{Alpha: float64(k), Beta: float64(n - k + 1)}
	return b.Quantile(alpha / 2)
}

// GetN returns how many annealing runs must all fail before an equilibrium
// counts as confirmed. The bound uses the doubled level, which makes it
// one-sided at level α: CPUpper(0, n, 2α) = 1 − α^(1/n). The count is the
// smallest n with CPUpper(0, n, 2α) ≤ pStar plus one, a fixed convention that
// yields GetN(0.05, 0.01) = 91. Every one of the attempts is an annealing run.
func GetN(pStar, alpha float64) (int, error) {
	if pStar <= 0 || pStar >= 1 {
		return 0, fmt.Errorf("max_p must be in (0,1), got %v", pStar)
	}
	if alpha <= 0 || alpha >= 0.5 {
		return 0, fmt.Errorf("per-round error budget must be in (0,0.5), got %v", alpha)
	}
	ok := func(n int) bool { return CPUpper(0, n, 2*alpha) <= pStar }

	hi := 1
	for !ok(hi) {
		hi *= 2
	}
	lo := hi / 2 // ok(lo) is false, or lo is 0
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if ok(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi + 1, nil
}
