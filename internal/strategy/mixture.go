package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/lox/egta/internal/fault"
)

const (
	// Precision is the number of decimals kept when a mixture is serialized.
	Precision = 4
	// Tolerance bounds |sum - 1| for a valid mixture.
	Tolerance = 1e-4

	units = 10000 // 10^Precision
)

// Mixture maps pure-strategy names to probabilities.
type Mixture map[string]float64

// Pure returns the mixture putting all mass on name.
func Pure(name string) Mixture {
	return Mixture{name: 1}
}

// Uniform spreads mass evenly over names.
func Uniform(names []string) Mixture {
	m := make(Mixture, len(names))
	for _, n := range names {
		m[n] = 1 / float64(len(names))
	}
	return m
}

// Sum returns the total probability mass.
func (m Mixture) Sum() float64 {
	var s float64
	for _, p := range m {
		s += p
	}
	return s
}

// Validate enforces 0 <= p <= 1 and |sum - 1| <= Tolerance.
func (m Mixture) Validate() error {
	if len(m) == 0 {
		return fault.New(fault.ErrInvariant, "mixture", "", "empty mixture")
	}
	for name, p := range m {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fault.New(fault.ErrInvariant, "mixture", name, "probability %v outside [0,1]", p)
		}
	}
	if s := m.Sum(); math.Abs(s-1) > Tolerance {
		return fault.New(fault.ErrInvariant, "mixture", "", "probabilities sum to %v", s)
	}
	return nil
}

// Support returns the names with positive probability, sorted.
func (m Mixture) Support() []string {
	var names []string
	for n, p := range m {
		if p > 0 {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Names returns every name in the mixture, sorted.
func (m Mixture) Names() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy of m.
func (m Mixture) Clone() Mixture {
	out := make(Mixture, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Restrict returns m over exactly names, with missing names at zero.
func (m Mixture) Restrict(names []string) Mixture {
	out := make(Mixture, len(names))
	for _, n := range names {
		out[n] = m[n]
	}
	return out
}

// Normalize clamps every weight into [0,1], rescales to unit mass, rounds to
// Precision decimals and repairs the rounding residual one unit at a time on
// the largest buckets. The repair is deterministic: ties break by name.
func Normalize(raw Mixture) (Mixture, error) {
	clamped := make(Mixture, len(raw))
	var total float64
	for name, p := range raw {
		if math.IsNaN(p) || p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		clamped[name] = p
		total += p
	}
	if total <= 0 {
		return nil, fault.New(fault.ErrDegenerateGame, "mixture", "", "mixture over %d strategies has no mass", len(raw))
	}

	names := clamped.Names()
	counts := make(map[string]int, len(names))
	sum := 0
	for _, n := range names {
		counts[n] = int(math.Round(clamped[n] / total * units))
		sum += counts[n]
	}

	// Largest first; names break ties so the result does not depend on map order.
	order := append([]string(nil), names...)
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	for i := 0; sum != units; i = (i + 1) % len(order) {
		n := order[i]
		switch {
		case sum < units:
			counts[n]++
			sum++
		case counts[n] > 0:
			counts[n]--
			sum--
		}
	}

	out := make(Mixture, len(names))
	for _, n := range names {
		out[n] = float64(counts[n]) / units
	}
	return out, nil
}

// Truncate zeroes weights below floor and renormalizes.
func Truncate(m Mixture, floor float64) (Mixture, error) {
	cut := make(Mixture, len(m))
	for n, p := range m {
		if p < floor {
			p = 0
		}
		cut[n] = p
	}
	return Normalize(cut)
}

// Blend forms the geometric mixture of past equilibria,
// sum_t d^(T-t) sigma_t / sum_t d^(T-t), then truncates weights below floor.
// history is ordered oldest first.
func Blend(history []Mixture, discount, floor float64) (Mixture, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("blend: no equilibria")
	}
	if discount <= 0 || discount > 1 {
		return nil, fmt.Errorf("blend: discount %v outside (0,1]", discount)
	}
	last := len(history) - 1
	out := Mixture{}
	var norm float64
	for t, sigma := range history {
		w := math.Pow(discount, float64(last-t))
		norm += w
		for n, p := range sigma {
			out[n] += w * p
		}
	}
	for n := range out {
		out[n] /= norm
	}
	return Truncate(out, floor)
}
