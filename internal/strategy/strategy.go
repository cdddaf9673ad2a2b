// Package strategy models pure and mixed strategies of the two-player
// dependency-graph security game and the per-run registry that owns them.
package strategy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lox/egta/internal/fault"
)

// Role is one side of the game.
type Role string

const (
	Defender Role = "defender"
	Attacker Role = "attacker"
)

// Roles lists both roles in file order.
var Roles = []Role{Defender, Attacker}

// Other returns the opposing role.
func (r Role) Other() Role {
	if r == Defender {
		return Attacker
	}
	return Defender
}

// Letter is the single-character tag used in policy names.
func (r Role) Letter() string {
	if r == Defender {
		return "d"
	}
	return "a"
}

// ParseRole accepts "defender" or "attacker".
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case Defender, Attacker:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Kind distinguishes heuristic strategies from trained policies.
type Kind int

const (
	Heuristic Kind = iota
	LearnedPolicy
)

func (k Kind) String() string {
	if k == LearnedPolicy {
		return "learned"
	}
	return "heuristic"
}

// Strategy is a pure strategy. For learned policies Epoch, RetrainIndex, Run
// and Scope are set once at creation.
type Strategy struct {
	Name         string
	Kind         Kind
	Role         Role
	Run          string
	Epoch        int
	RetrainIndex int
	Scope        string
}

func (s Strategy) String() string {
	return s.Name
}

// IsPolicy reports whether s is a learned policy.
func (s Strategy) IsPolicy() bool {
	return s.Kind == LearnedPolicy
}

const policySuffix = ".pkl"

var policyPattern = regexp.MustCompile(`^(.+)_([da])_epoch([0-9]+)(?:_r([0-9]+))?\.pkl$`)

// PolicyName returns the canonical artifact name for a learned policy.
func PolicyName(run string, role Role, epoch, retrain int) string {
	name := fmt.Sprintf("%s_%s_epoch%d", run, role.Letter(), epoch)
	if retrain > 0 {
		name += fmt.Sprintf("_r%d", retrain)
	}
	return name + policySuffix
}

// ScopeFor returns the parameter namespace a policy is loaded under. The run
// is part of it so policies of merged games never share a namespace.
func ScopeFor(run string, role Role, epoch, retrain int) string {
	scope := fmt.Sprintf("%s_%s_e%d", run, role, epoch)
	if retrain > 0 {
		scope += fmt.Sprintf("_r%d", retrain)
	}
	return scope
}

// NewPolicy creates the record of a learned policy.
func NewPolicy(run string, role Role, epoch, retrain int) Strategy {
	return Strategy{
		Name:         PolicyName(run, role, epoch, retrain),
		Kind:         LearnedPolicy,
		Role:         role,
		Run:          run,
		Epoch:        epoch,
		RetrainIndex: retrain,
		Scope:        ScopeFor(run, role, epoch, retrain),
	}
}

// NewHeuristic creates the record of a heuristic strategy.
func NewHeuristic(role Role, name string) Strategy {
	return Strategy{Name: name, Kind: Heuristic, Role: role}
}

// Parse recovers a Strategy from a name stored in a game file. It is the only
// place names are inspected; the legacy policy naming forms are rejected.
func Parse(role Role, name string) (Strategy, error) {
	if name == "" || strings.TrimSpace(name) != name {
		return Strategy{}, fault.New(fault.ErrInvariant, "strategy", name, "empty or padded strategy name")
	}
	for _, r := range name {
		if r < 0x21 || r > 0x7e {
			return Strategy{}, fault.New(fault.ErrInvariant, "strategy", name, "strategy names must be printable ASCII")
		}
	}

	m := policyPattern.FindStringSubmatch(name)
	if m == nil {
		if strings.HasSuffix(name, policySuffix) {
			return Strategy{}, fault.New(fault.ErrInvariant, "strategy", name, "policy name is not in <run>_<d|a>_epoch<K>[_r<I>].pkl form")
		}
		return NewHeuristic(role, name), nil
	}

	if m[2] != role.Letter() {
		return Strategy{}, fault.New(fault.ErrInvariant, "strategy", name, "policy listed under role %s", role)
	}
	epoch, err := strconv.Atoi(m[3])
	if err != nil || epoch < 1 {
		return Strategy{}, fault.New(fault.ErrInvariant, "strategy", name, "policy epoch must be >= 1")
	}
	retrain := 0
	if m[4] != "" {
		retrain, err = strconv.Atoi(m[4])
		if err != nil || retrain < 1 {
			return Strategy{}, fault.New(fault.ErrInvariant, "strategy", name, "retrain index must be >= 1")
		}
	}
	return NewPolicy(m[1], role, epoch, retrain), nil
}
