package strategy

import (
	"fmt"

	"github.com/lox/egta/internal/fault"
)

// Equilibrium is the pair of mixtures computed for one epoch.
type Equilibrium struct {
	Defender Mixture
	Attacker Mixture
}

// For returns the mixture of role.
func (e Equilibrium) For(role Role) Mixture {
	if role == Defender {
		return e.Defender
	}
	return e.Attacker
}

// Validate checks both mixtures.
func (e Equilibrium) Validate() error {
	if err := e.Defender.Validate(); err != nil {
		return fmt.Errorf("defender: %w", err)
	}
	if err := e.Attacker.Validate(); err != nil {
		return fmt.Errorf("attacker: %w", err)
	}
	return nil
}

// Registry tracks the pure strategies of each role in insertion order, the
// strategies accepted as deviations and the equilibrium of every epoch. It is
// owned by a single driver and not safe for concurrent use.
type Registry struct {
	strategies map[Role][]Strategy
	index      map[Role]map[string]int
	accepted   map[Role][]string
	equilibria []Equilibrium
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		strategies: map[Role][]Strategy{},
		index:      map[Role]map[string]int{},
		accepted:   map[Role][]string{},
	}
	for _, role := range Roles {
		r.index[role] = map[string]int{}
	}
	return r
}

// Add registers s. A name already present under the role is AlreadyAdded; a
// learned policy whose epoch does not follow the role's last one is an
// invariant violation.
func (r *Registry) Add(s Strategy) error {
	if _, ok := r.index[s.Role]; !ok {
		return fault.New(fault.ErrInvariant, "registry", s.Name, "unknown role %q", s.Role)
	}
	if _, ok := r.index[s.Role][s.Name]; ok {
		return fault.New(fault.ErrAlreadyAdded, "registry", s.Name, "")
	}
	if s.IsPolicy() {
		if want := r.LastEpoch(s.Role) + 1; s.Epoch != want {
			return fault.New(fault.ErrInvariant, "registry", s.Name, "policy epoch %d, expected %d", s.Epoch, want)
		}
	}
	r.insert(s)
	return nil
}

// Restore registers s from a saved game. Merged games carry policies of
// several runs, so the epoch sequence is not checked.
func (r *Registry) Restore(s Strategy) error {
	if _, ok := r.index[s.Role]; !ok {
		return fault.New(fault.ErrInvariant, "registry", s.Name, "unknown role %q", s.Role)
	}
	if _, ok := r.index[s.Role][s.Name]; ok {
		return fault.New(fault.ErrAlreadyAdded, "registry", s.Name, "")
	}
	r.insert(s)
	return nil
}

func (r *Registry) insert(s Strategy) {
	r.index[s.Role][s.Name] = len(r.strategies[s.Role])
	r.strategies[s.Role] = append(r.strategies[s.Role], s)
}

// Accept registers s and records it in the role's accepted list.
func (r *Registry) Accept(s Strategy) error {
	if err := r.Add(s); err != nil {
		return err
	}
	r.accepted[s.Role] = append(r.accepted[s.Role], s.Name)
	return nil
}

// MarkAccepted records an already registered strategy as accepted, used when
// rebuilding a registry from a saved game.
func (r *Registry) MarkAccepted(role Role, name string) {
	r.accepted[role] = append(r.accepted[role], name)
}

// Strategies returns a copy of the role's strategies in insertion order.
func (r *Registry) Strategies(role Role) []Strategy {
	return append([]Strategy(nil), r.strategies[role]...)
}

// Names returns the role's strategy names in insertion order.
func (r *Registry) Names(role Role) []string {
	names := make([]string, len(r.strategies[role]))
	for i, s := range r.strategies[role] {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of strategies of role.
func (r *Registry) Len(role Role) int {
	return len(r.strategies[role])
}

// Get looks up a strategy by name.
func (r *Registry) Get(role Role, name string) (Strategy, bool) {
	i, ok := r.index[role][name]
	if !ok {
		return Strategy{}, false
	}
	return r.strategies[role][i], true
}

// Resolve is Get with an invariant violation for unknown names.
func (r *Registry) Resolve(role Role, name string) (Strategy, error) {
	s, ok := r.Get(role, name)
	if !ok {
		return Strategy{}, fault.New(fault.ErrInvariant, "registry", name, "unknown %s strategy", role)
	}
	return s, nil
}

// LastEpoch returns the highest epoch among the role's learned policies, or 0.
func (r *Registry) LastEpoch(role Role) int {
	last := 0
	for _, s := range r.strategies[role] {
		if s.IsPolicy() {
			last = max(last, s.Epoch)
		}
	}
	return last
}

// Accepted returns the names accepted as deviations for role, oldest first.
func (r *Registry) Accepted(role Role) []string {
	return append([]string(nil), r.accepted[role]...)
}

// RecordEquilibrium appends the next epoch's equilibrium and returns its epoch.
func (r *Registry) RecordEquilibrium(eq Equilibrium) int {
	r.equilibria = append(r.equilibria, eq)
	return len(r.equilibria) - 1
}

// Epochs returns the number of recorded equilibria.
func (r *Registry) Epochs() int {
	return len(r.equilibria)
}

// History returns the role's mixtures of every recorded epoch, oldest first.
func (r *Registry) History(role Role) []Mixture {
	out := make([]Mixture, len(r.equilibria))
	for i, eq := range r.equilibria {
		out[i] = eq.For(role)
	}
	return out
}
