// Package evaluator estimates the payoff of a pure strategy against an
// opponent mixture by splitting an episode budget across the mixture's
// support and aggregating the batches with the law of total variance.
package evaluator

import (
	"fmt"
	"math"
	rand "math/rand/v2"

	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/strategy"
)

// Allocation is the number of episodes played against one opponent.
type Allocation struct {
	Name  string
	Count int
}

// Allocate splits n episodes across the support of m. Expected counts are
// rounded up and then adjusted one episode at a time on uniformly chosen
// opponents until they sum to n, keeping every count positive. When the
// support is larger than n the counts are drawn i.i.d. from m instead and
// opponents that received no draw are omitted.
func Allocate(m strategy.Mixture, n int, rng *rand.Rand) ([]Allocation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("episode budget must be positive, got %d", n)
	}
	support := m.Support()
	if len(support) == 0 {
		return nil, fault.New(fault.ErrDegenerateGame, "evaluator", "", "opponent mixture has empty support")
	}
	if len(support) > n {
		return multinomial(m, support, n, rng), nil
	}

	counts := make([]int, len(support))
	total := 0
	for i, name := range support {
		c := int(math.Ceil(m[name]*float64(n) - 1e-9))
		counts[i] = max(c, 1)
		total += counts[i]
	}
	for total > n {
		i := pick(counts, rng, func(c int) bool { return c > 1 })
		counts[i]--
		total--
	}
	for total < n {
		counts[rng.IntN(len(counts))]++
		total++
	}

	out := make([]Allocation, len(support))
	for i, name := range support {
		out[i] = Allocation{Name: name, Count: counts[i]}
	}
	return out, nil
}

// pick returns a uniformly chosen index whose count satisfies ok.
func pick(counts []int, rng *rand.Rand, ok func(int) bool) int {
	candidates := make([]int, 0, len(counts))
	for i, c := range counts {
		if ok(c) {
			candidates = append(candidates, i)
		}
	}
	return candidates[rng.IntN(len(candidates))]
}

func multinomial(m strategy.Mixture, support []string, n int, rng *rand.Rand) []Allocation {
	cum := make([]float64, len(support))
	var total float64
	for i, name := range support {
		total += m[name]
		cum[i] = total
	}
	counts := make([]int, len(support))
	for range n {
		u := rng.Float64() * total
		i := 0
		for i < len(cum)-1 && u >= cum[i] {
			i++
		}
		counts[i]++
	}

	var out []Allocation
	for i, name := range support {
		if counts[i] > 0 {
			out = append(out, Allocation{Name: name, Count: counts[i]})
		}
	}
	return out
}
