// Package simulator samples episode payoffs between a defender and an
// attacker strategy, either from a simulator subprocess or from a payoff
// function.
package simulator

import (
	"context"
	"fmt"

	"github.com/lox/egta/internal/statistics"
	"github.com/lox/egta/internal/strategy"
)

// Sampler returns payoff statistics over n independent episodes.
type Sampler interface {
	Sample(ctx context.Context, def, att strategy.Strategy, n int) (Payoff, error)
}

// Payoff is the per-role sample mean and standard deviation of one batch.
type Payoff struct {
	N       int
	DefMean float64
	AttMean float64
	DefSD   float64
	AttSD   float64
}

// Mean returns the mean payoff of role.
func (p Payoff) Mean(role strategy.Role) float64 {
	if role == strategy.Defender {
		return p.DefMean
	}
	return p.AttMean
}

// SD returns the standard deviation of role's payoff.
func (p Payoff) SD(role strategy.Role) float64 {
	if role == strategy.Defender {
		return p.DefSD
	}
	return p.AttSD
}

// FromStats summarizes accumulated episode rewards.
func FromStats(s *statistics.Pair) Payoff {
	return Payoff{
		N:       s.Def.N,
		DefMean: s.Def.Mean(),
		AttMean: s.Att.Mean(),
		DefSD:   s.Def.StdDev(),
		AttSD:   s.Att.StdDev(),
	}
}

// Mode selects which sides of an episode are driven by learned policies.
type Mode string

const (
	NoNet   Mode = "no-net"
	DefNet  Mode = "def-net"
	AttNet  Mode = "att-net"
	BothNet Mode = "both-net"
)

// ModeFor dispatches on the kinds of the two strategies.
func ModeFor(def, att strategy.Strategy) Mode {
	switch {
	case def.IsPolicy() && att.IsPolicy():
		return BothNet
	case def.IsPolicy():
		return DefNet
	case att.IsPolicy():
		return AttNet
	default:
		return NoNet
	}
}

// EnvNames maps each mode to the simulator environment that serves it.
type EnvNames struct {
	NoNet   string
	DefNet  string
	AttNet  string
	BothNet string
}

// For returns the environment of mode.
func (e EnvNames) For(m Mode) (string, error) {
	var env string
	switch m {
	case NoNet:
		env = e.NoNet
	case DefNet:
		env = e.DefNet
	case AttNet:
		env = e.AttNet
	case BothNet:
		env = e.BothNet
	}
	if env == "" {
		return "", fmt.Errorf("no environment configured for mode %s", m)
	}
	return env, nil
}
