// Package hado searches continuous heuristic-parameter spaces for beneficial
// deviations by simulated annealing, and decides whether an equilibrium has
// been confirmed with a Clopper-Pearson bound on the probability that the
// search misses a beneficial response.
package hado

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lox/egta/internal/strategy"
)

// Param is one coordinate of a family's parameter vector and its native range.
type Param struct {
	Key string  `hcl:"key,label"`
	Min float64 `hcl:"min"`
	Max float64 `hcl:"max"`
}

// Family is a parameterized heuristic. Search runs over θ ∈ [0,1]^k, mapped
// affinely onto each parameter's range.
type Family struct {
	Name   string  `hcl:"name,label"`
	Role   string  `hcl:"role"`
	Params []Param `hcl:"param,block"`
}

// Validate checks the family can name heuristics.
func (f Family) Validate() error {
	if f.Name == "" || strings.ContainsAny(f.Name, ":=, \t") {
		return fmt.Errorf("invalid family name %q", f.Name)
	}
	if _, err := strategy.ParseRole(f.Role); err != nil {
		return fmt.Errorf("family %s: %w", f.Name, err)
	}
	if len(f.Params) == 0 {
		return fmt.Errorf("family %s has no parameters", f.Name)
	}
	seen := map[string]bool{}
	for _, p := range f.Params {
		if p.Key == "" || strings.ContainsAny(p.Key, ":=, \t") {
			return fmt.Errorf("family %s: invalid parameter key %q", f.Name, p.Key)
		}
		if seen[p.Key] {
			return fmt.Errorf("family %s: duplicate parameter %s", f.Name, p.Key)
		}
		seen[p.Key] = true
		if !(p.Min < p.Max) {
			return fmt.Errorf("family %s: parameter %s needs min < max", f.Name, p.Key)
		}
	}
	return nil
}

// Dim is the length of θ.
func (f Family) Dim() int {
	return len(f.Params)
}

// Native maps θ onto the parameters' ranges.
func (f Family) Native(theta []float64) []float64 {
	out := make([]float64, len(f.Params))
	for i, p := range f.Params {
		out[i] = p.Min + theta[i]*(p.Max-p.Min)
	}
	return out
}

// HeuristicName returns "<family>:<k1>=<v1>,<k2>=<v2>" with native values at four decimals.
func (f Family) HeuristicName(theta []float64) string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte(':')
	for i, v := range f.Native(theta) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Params[i].Key)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(v, 'f', 4, 64))
	}
	return b.String()
}

// Heuristic returns the pure strategy of θ.
func (f Family) Heuristic(theta []float64) strategy.Strategy {
	return strategy.NewHeuristic(strategy.Role(f.Role), f.HeuristicName(theta))
}
