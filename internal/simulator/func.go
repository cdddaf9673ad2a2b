package simulator

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/randutil"
	"github.com/lox/egta/internal/statistics"
	"github.com/lox/egta/internal/strategy"
)

// PayoffFunc returns the expected defender and attacker payoff of a pair.
type PayoffFunc func(def, att strategy.Strategy) (float64, float64, error)

// FuncSampler samples episodes in-process as expected payoff plus Gaussian
// noise of standard deviation Noise. Every call draws from its own seeded
// stream so repeated runs see the same episodes.
type FuncSampler struct {
	Payoff PayoffFunc
	Noise  float64
	Seed   int64

	mu    sync.Mutex
	calls map[string]int
	count int
}

// NewFuncSampler returns a sampler over fn.
func NewFuncSampler(fn PayoffFunc, noise float64, seed int64) *FuncSampler {
	return &FuncSampler{Payoff: fn, Noise: noise, Seed: seed}
}

// TableSampler replays the payoff table of g; pairs missing from the table fail.
func TableSampler(g *empirical.Game, noise float64, seed int64) *FuncSampler {
	return NewFuncSampler(func(def, att strategy.Strategy) (float64, float64, error) {
		obs, ok := g.Lookup(def.Name, att.Name)
		if !ok {
			return 0, 0, fault.New(fault.ErrSimulatorUnavailable, "sampler", empirical.Pair{Def: def.Name, Att: att.Name}.String(), "pair not in table")
		}
		return obs.DefPayoff, obs.AttPayoff, nil
	}, noise, seed)
}

func (s *FuncSampler) Sample(ctx context.Context, def, att strategy.Strategy, n int) (Payoff, error) {
	if err := ctx.Err(); err != nil {
		return Payoff{}, err
	}
	if n <= 0 {
		return Payoff{}, fmt.Errorf("sample size must be positive, got %d", n)
	}
	dm, am, err := s.Payoff(def, att)
	if err != nil {
		return Payoff{}, err
	}

	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	key := def.Name + "\x00" + att.Name
	call := s.calls[key]
	s.calls[key]++
	s.count++
	s.mu.Unlock()

	rng := randutil.Stream(s.Seed, def.Name, att.Name, strconv.Itoa(call))
	var stats statistics.Pair
	for range n {
		d, a := dm, am
		if s.Noise > 0 {
			d += s.Noise * rng.NormFloat64()
			a += s.Noise * rng.NormFloat64()
		}
		if err := stats.Add(d, a); err != nil {
			return Payoff{}, fault.Wrap(fault.ErrEpisodeNaN, "sampler", empirical.Pair{Def: def.Name, Att: att.Name}.String(), err)
		}
	}
	return FromStats(&stats), nil
}

// Calls returns how many batches were sampled.
func (s *FuncSampler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
