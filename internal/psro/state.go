// Package psro runs the double-oracle loop: solve the empirical game, train
// or search a best response per role, test the responses as deviations and
// append the accepted ones as new columns.
package psro

// State is a step of the driver's state machine.
type State string

const (
	Init             State = "INIT"
	SolveEq          State = "SOLVE_EQ"
	EvalEqPayoffs    State = "EVAL_EQ_PAYOFFS"
	TrainBoth        State = "TRAIN_BOTH"
	TestDeviations   State = "TEST_DEVIATIONS"
	GenNewColumns    State = "GEN_NEW_COLUMNS"
	AppendAndPersist State = "APPEND_AND_PERSIST"

	Converged State = "CONVERGED"
	MaxRounds State = "MAX_ROUNDS"
	Fatal     State = "FATAL"
)

// Terminal reports whether the driver stops in s.
func (s State) Terminal() bool {
	switch s {
	case Converged, MaxRounds, Fatal:
		return true
	}
	return false
}

// Success reports whether s ends the run without error.
func (s State) Success() bool {
	return s == Converged || s == MaxRounds
}
