package psro

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/evaluator"
	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/simulator"
	"github.com/lox/egta/internal/strategy"
)

// Columns samples the profiles of newly accepted strategies.
type Columns struct {
	// Samplers holds the sampler of each role's evaluation lane; a new
	// strategy's column is sampled on its own role's lane.
	Samplers map[strategy.Role]simulator.Sampler
	// Count is the number of episodes per new pair.
	Count  int
	Logger zerolog.Logger
}

// Generate returns a copy of g extended by the accepted strategies, each
// paired with every opposing strategy including the other new one, and the
// strategies actually added. g itself is never modified: a failed sample
// discards the whole extension. A strategy already in the game is logged and
// skipped.
func (c *Columns) Generate(ctx context.Context, g *empirical.Game, known evaluator.Resolver, accepted []strategy.Strategy) (*empirical.Game, []strategy.Strategy, error) {
	if c.Count <= 0 {
		return nil, nil, fmt.Errorf("column sample count must be positive, got %d", c.Count)
	}
	base, err := g.BaseSimCount()
	if err != nil {
		return nil, nil, err
	}

	out := g.Clone()
	fresh := map[strategy.Role]map[string]strategy.Strategy{}
	var added []strategy.Strategy
	for _, s := range accepted {
		if err := out.AddStrategy(s.Role, s.Name); err != nil {
			if fault.Fatal(err) {
				return nil, nil, err
			}
			c.Logger.Warn().Err(err).Str("strategy", s.Name).Msg("Skipping strategy already in the game")
			continue
		}
		if fresh[s.Role] == nil {
			fresh[s.Role] = map[string]strategy.Strategy{}
		}
		fresh[s.Role][s.Name] = s
		added = append(added, s)
	}

	resolve := func(role strategy.Role, name string) (strategy.Strategy, error) {
		if s, ok := fresh[role][name]; ok {
			return s, nil
		}
		return known.Resolve(role, name)
	}

	for _, s := range added {
		sampler := c.Samplers[s.Role]
		if sampler == nil {
			return nil, nil, fmt.Errorf("no sampler for %s columns", s.Role)
		}
		for _, name := range out.Strategies(s.Role.Other()) {
			o, err := resolve(s.Role.Other(), name)
			if err != nil {
				return nil, nil, err
			}
			def, att := s, o
			if s.Role == strategy.Attacker {
				def, att = o, s
			}
			// new-vs-new pairs are sampled once
			if _, ok := out.Lookup(def.Name, att.Name); ok {
				continue
			}

			res, err := sampler.Sample(ctx, def, att, c.Count)
			if err != nil {
				return nil, nil, fmt.Errorf("column of %s: %w", s.Name, err)
			}
			obs := empirical.Observation{
				DefPayoff: res.DefMean,
				AttPayoff: res.AttMean,
				DefSD:     res.DefSD,
				AttSD:     res.AttSD,
				Count:     float64(c.Count) / base,
			}
			if err := out.AddObservation(def.Name, att.Name, obs); err != nil {
				return nil, nil, err
			}
			c.Logger.Debug().
				Str("def", def.Name).
				Str("att", att.Name).
				Float64("def_payoff", res.DefMean).
				Float64("att_payoff", res.AttMean).
				Msg("Sampled new profile")
		}
	}

	if missing := out.Missing(); len(missing) > 0 {
		return nil, nil, fault.New(fault.ErrInvariant, "columns", missing[0].String(), "%d pairs left unsampled", len(missing))
	}
	return out, added, nil
}
