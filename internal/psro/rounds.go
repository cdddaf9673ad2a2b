package psro

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/fileutil"
	"github.com/lox/egta/internal/strategy"
)

// LedgerFile is the round ledger of a run directory.
const LedgerFile = "rounds.json"

// GamePath is the game file holding the game after epoch rounds.
func GamePath(runDir string, epoch int) string {
	return filepath.Join(runDir, fmt.Sprintf("game_epoch%d.json", epoch))
}

// RoleRecord is one role's side of a persisted round.
type RoleRecord struct {
	Candidate  string  `json:"candidate"`
	Kind       string  `json:"kind"`
	EqPayoff   float64 `json:"eq_payoff"`
	Value      float64 `json:"value"`
	StdErr     float64 `json:"stderr,omitempty"`
	Beneficial bool    `json:"beneficial"`
	Accepted   bool    `json:"accepted"`
	Attempts   int     `json:"attempts,omitempty"`
	Upper      float64 `json:"upper,omitempty"`
}

// Round is one appended round of the ledger.
type Round struct {
	Round    int        `json:"round"`
	Game     string     `json:"game"`
	Defender RoleRecord `json:"defender"`
	Attacker RoleRecord `json:"attacker"`
}

// For returns role's record.
func (r *Round) For(role strategy.Role) *RoleRecord {
	if role == strategy.Defender {
		return &r.Defender
	}
	return &r.Attacker
}

func recordOf(d Deviation, accepted bool) RoleRecord {
	return RoleRecord{
		Candidate:  d.Candidate.Name,
		Kind:       d.Candidate.Kind.String(),
		EqPayoff:   d.EqPayoff,
		Value:      d.Value,
		StdErr:     d.StdErr,
		Beneficial: d.Beneficial,
		Accepted:   accepted,
		Attempts:   d.Attempts,
		Upper:      d.Upper,
	}
}

// Ledger lists the rounds whose game file was written, oldest first.
type Ledger struct {
	Rounds []Round `json:"rounds"`
}

// LoadLedger reads path; a missing file is an empty ledger.
func LoadLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Ledger{Rounds: []Round{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read round ledger: %w", err)
	}
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fault.Wrap(fault.ErrInvariant, "ledger", filepath.Base(path), err)
	}
	for i, r := range l.Rounds {
		if r.Round != i+1 {
			return nil, fault.New(fault.ErrInvariant, "ledger", filepath.Base(path), "entry %d is round %d", i, r.Round)
		}
	}
	if l.Rounds == nil {
		l.Rounds = []Round{}
	}
	return &l, nil
}

// Save writes the ledger atomically.
func (l *Ledger) Save(path string) error {
	return fileutil.WriteJSONAtomic(path, l)
}

// Len is the number of appended rounds.
func (l *Ledger) Len() int {
	return len(l.Rounds)
}

// Truncate drops every round after the first n.
func (l *Ledger) Truncate(n int) {
	if n < len(l.Rounds) {
		l.Rounds = l.Rounds[:n]
	}
}

// Append adds the next round.
func (l *Ledger) Append(r Round) error {
	if r.Round != len(l.Rounds)+1 {
		return fault.New(fault.ErrInvariant, "ledger", fmt.Sprintf("round %d", r.Round), "expected round %d", len(l.Rounds)+1)
	}
	l.Rounds = append(l.Rounds, r)
	return nil
}

// RetrainIndex counts the rounds since role's last acceptance in which the
// role was rejected.
func (l *Ledger) RetrainIndex(role strategy.Role) int {
	n := 0
	for i := len(l.Rounds) - 1; i >= 0; i-- {
		if l.Rounds[i].For(role).Accepted {
			break
		}
		n++
	}
	return n
}

// Accepted returns the strategies accepted for role, oldest first.
func (l *Ledger) Accepted(role strategy.Role) []string {
	var out []string
	for i := range l.Rounds {
		if rec := l.Rounds[i].For(role); rec.Accepted {
			out = append(out, rec.Candidate)
		}
	}
	return out
}
