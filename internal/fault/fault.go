// Package fault defines the error kinds raised by the EGTA driver and its
// collaborators, and a diagnostic error type that names the failing component
// and the offending identifier in a single line.
package fault

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrInvariant            = errors.New("invariant violation")
	ErrSolverTimeout        = errors.New("solver timeout")
	ErrSolverParse          = errors.New("solver parse")
	ErrDegenerateGame       = errors.New("degenerate game")
	ErrSimulatorUnavailable = errors.New("simulator unavailable")
	ErrEpisodeNaN           = errors.New("episode returned non-finite reward")
	ErrEpisodeFailure       = errors.New("episode failure")
	ErrTrainerFailure       = errors.New("trainer failure")
	ErrMissingArtifact      = errors.New("missing artifact")
	ErrAlreadyAdded         = errors.New("already added")
)

// Error carries a kind plus enough context to print one diagnostic line.
type Error struct {
	Kind      error
	Component string
	Ident     string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Component + ": " + e.Kind.Error()
	if e.Ident != "" {
		msg += ": " + e.Ident
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error with a formatted detail message.
func New(kind error, component, ident, format string, args ...any) *Error {
	var detail error
	if format != "" {
		detail = fmt.Errorf(format, args...)
	}
	return &Error{Kind: kind, Component: component, Ident: ident, Err: detail}
}

// Wrap attaches a kind and context to an underlying error.
func Wrap(kind error, component, ident string, err error) *Error {
	return &Error{Kind: kind, Component: component, Ident: ident, Err: err}
}

// Fatal reports whether err must stop the run. Only AlreadyAdded is recoverable.
func Fatal(err error) bool {
	return err != nil && !errors.Is(err, ErrAlreadyAdded)
}
