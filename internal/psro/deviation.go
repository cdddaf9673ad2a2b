package psro

import (
	"github.com/lox/egta/internal/hado"
	"github.com/lox/egta/internal/strategy"
)

// Deviation is the tested best response of one role in one round.
type Deviation struct {
	Role      strategy.Role
	Candidate strategy.Strategy
	Value     float64
	StdErr    float64
	EqPayoff  float64
	Epsilon   float64
	// Attempts and Upper are set when the candidate came from the annealing gate.
	Attempts   int
	Upper      float64
	Beneficial bool
}

// Test applies the ε rule: the candidate deviates when its payoff beats the
// equilibrium payoff by more than epsilon.
func Test(role strategy.Role, candidate strategy.Strategy, value, eqPayoff, epsilon float64) Deviation {
	return Deviation{
		Role:       role,
		Candidate:  candidate,
		Value:      value,
		EqPayoff:   eqPayoff,
		Epsilon:    epsilon,
		Beneficial: hado.Beneficial(value, eqPayoff, epsilon),
	}
}

// Gain is the payoff improvement over the equilibrium.
func (d Deviation) Gain() float64 {
	return d.Value - d.EqPayoff
}
