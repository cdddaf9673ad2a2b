package equilibrium

import (
	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/strategy"
)

// support returns the names m plays with positive probability, in the
// game's strategy order. Summing in this order keeps payoffs bit-identical
// across runs.
func support(g *empirical.Game, role strategy.Role, m strategy.Mixture) ([]string, error) {
	var names []string
	for _, name := range g.Strategies(role) {
		if m[name] > 0 {
			names = append(names, name)
		}
	}
	if len(names) != len(m.Support()) {
		for _, name := range m.Support() {
			if !g.HasStrategy(role, name) {
				return nil, fault.New(fault.ErrInvariant, "equilibrium", name, "%s strategy not in game", role)
			}
		}
	}
	return names, nil
}

// EquilibriumPayoff returns sum_d sum_a sigma_d(d) sigma_a(a) u_role(d, a)
// from the payoff table.
func EquilibriumPayoff(g *empirical.Game, eq strategy.Equilibrium, role strategy.Role) (float64, error) {
	defs, err := support(g, strategy.Defender, eq.Defender)
	if err != nil {
		return 0, err
	}
	atts, err := support(g, strategy.Attacker, eq.Attacker)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, d := range defs {
		for _, a := range atts {
			obs, ok := g.Lookup(d, a)
			if !ok {
				return 0, fault.New(fault.ErrInvariant, "equilibrium", empirical.Pair{Def: d, Att: a}.String(), "missing profile")
			}
			total += eq.Defender[d] * eq.Attacker[a] * obs.Payoff(role)
		}
	}
	return total, nil
}

// StrategyPayoffs returns the table payoff of each of role's pure strategies
// against the opponent's equilibrium mixture.
func StrategyPayoffs(g *empirical.Game, eq strategy.Equilibrium, role strategy.Role) (map[string]float64, error) {
	opp := eq.For(role.Other())
	others, err := support(g, role.Other(), opp)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, name := range g.Strategies(role) {
		var v float64
		for _, o := range others {
			def, att := name, o
			if role == strategy.Attacker {
				def, att = o, name
			}
			obs, ok := g.Lookup(def, att)
			if !ok {
				return nil, fault.New(fault.ErrInvariant, "equilibrium", empirical.Pair{Def: def, Att: att}.String(), "missing profile")
			}
			v += opp[o] * obs.Payoff(role)
		}
		out[name] = v
	}
	return out, nil
}

// Regret returns the largest gain any pure strategy of role has over the
// role's equilibrium payoff. Zero means no profitable deviation in the table.
func Regret(g *empirical.Game, eq strategy.Equilibrium, role strategy.Role) (float64, error) {
	value, err := EquilibriumPayoff(g, eq, role)
	if err != nil {
		return 0, err
	}
	payoffs, err := StrategyPayoffs(g, eq, role)
	if err != nil {
		return 0, err
	}
	var regret float64
	for _, v := range payoffs {
		regret = max(regret, v-value)
	}
	return regret, nil
}
