// Package equilibrium computes mixed-strategy equilibria of an empirical game.
package equilibrium

import (
	"context"

	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/strategy"
)

// Solver returns an equilibrium of a complete empirical game.
type Solver interface {
	Solve(ctx context.Context, g *empirical.Game) (strategy.Equilibrium, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, g *empirical.Game) (strategy.Equilibrium, error)

func (f SolverFunc) Solve(ctx context.Context, g *empirical.Game) (strategy.Equilibrium, error) {
	return f(ctx, g)
}

// trivial returns the all-mass equilibrium when each role has one strategy.
func trivial(g *empirical.Game) (strategy.Equilibrium, bool) {
	defs, atts := g.Strategies(strategy.Defender), g.Strategies(strategy.Attacker)
	if len(defs) != 1 || len(atts) != 1 {
		return strategy.Equilibrium{}, false
	}
	return strategy.Equilibrium{Defender: strategy.Pure(defs[0]), Attacker: strategy.Pure(atts[0])}, true
}

func checkSolvable(g *empirical.Game) error {
	for _, r := range strategy.Roles {
		if len(g.Strategies(r)) == 0 {
			return fault.New(fault.ErrDegenerateGame, "solver", string(r), "role has no strategies")
		}
	}
	if missing := g.Missing(); len(missing) > 0 {
		return fault.New(fault.ErrInvariant, "solver", missing[0].String(), "%d pairs have no profile", len(missing))
	}
	return nil
}

// Normalize turns raw solver weights into a valid equilibrium. A role whose
// weights carry no mass makes the game degenerate.
func Normalize(defNames, attNames []string, def, att []float64) (strategy.Equilibrium, error) {
	build := func(role strategy.Role, names []string, probs []float64) (strategy.Mixture, error) {
		raw := make(strategy.Mixture, len(names))
		for i, n := range names {
			raw[n] = probs[i]
		}
		m, err := strategy.Normalize(raw)
		if err != nil {
			return nil, fault.New(fault.ErrDegenerateGame, "solver", string(role), "mixture has empty support")
		}
		return m, nil
	}
	d, err := build(strategy.Defender, defNames, def)
	if err != nil {
		return strategy.Equilibrium{}, err
	}
	a, err := build(strategy.Attacker, attNames, att)
	if err != nil {
		return strategy.Equilibrium{}, err
	}
	eq := strategy.Equilibrium{Defender: d, Attacker: a}
	return eq, eq.Validate()
}
