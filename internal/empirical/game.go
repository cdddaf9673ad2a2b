// Package empirical holds the normal-form payoff table of a run and its JSON
// game file.
package empirical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/strategy"
)

// NumSimKey is the configuration key holding the base per-observation
// simulation count.
const NumSimKey = "numSim"

// Game is the persisted empirical game. Field order is the file order.
type Game struct {
	Roles         []Role              `json:"roles"`
	Profiles      []Profile           `json:"profiles"`
	Configuration []ConfigEntry       `json:"configuration"`
	NetworkSource map[string][]string `json:"network_source,omitempty"`

	index map[Pair]int
}

// Role lists the strategies of one side of the game.
type Role struct {
	Name       strategy.Role `json:"name"`
	Strategies []string      `json:"strategies"`
}

// Profile is the observation record of one (defender, attacker) pair.
type Profile struct {
	ID                int             `json:"id"`
	ObservationsCount float64         `json:"observations_count"`
	SymmetryGroups    []SymmetryGroup `json:"symmetry_groups"`
}

// SymmetryGroup is one role's side of a profile.
type SymmetryGroup struct {
	ID       int           `json:"id"`
	Role     strategy.Role `json:"role"`
	Strategy string        `json:"strategy"`
	Count    int           `json:"count"`
	Payoff   float64       `json:"payoff"`
	PayoffSD float64       `json:"payoff_sd"`
}

// ConfigEntry is a [key, value] configuration pair. Values are written as
// strings; numbers are accepted when reading.
type ConfigEntry struct {
	Key   string
	Value string
}

func (c ConfigEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Key, c.Value})
}

func (c *ConfigEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("configuration entry must be [key, value], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.Key); err != nil {
		return fmt.Errorf("configuration key: %w", err)
	}
	raw := bytes.TrimSpace(pair[1])
	if len(raw) > 0 && raw[0] == '"' {
		return json.Unmarshal(raw, &c.Value)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("configuration %q: %w", c.Key, err)
	}
	c.Value = n.String()
	return nil
}

// Pair identifies a profile by its two pure strategies.
type Pair struct {
	Def string
	Att string
}

func (p Pair) String() string {
	return p.Def + " vs " + p.Att
}

// Observation is the per-role payoff summary of one pair.
type Observation struct {
	DefPayoff float64
	AttPayoff float64
	DefSD     float64
	AttSD     float64
	Count     float64
}

// Payoff returns the mean payoff of role.
func (o Observation) Payoff(role strategy.Role) float64 {
	if role == strategy.Defender {
		return o.DefPayoff
	}
	return o.AttPayoff
}

// New returns an empty game over the given heuristics.
func New(baseSimCount int, defenders, attackers []string) *Game {
	g := &Game{
		Roles: []Role{
			{Name: strategy.Defender, Strategies: append([]string{}, defenders...)},
			{Name: strategy.Attacker, Strategies: append([]string{}, attackers...)},
		},
		Profiles:      []Profile{},
		Configuration: []ConfigEntry{{Key: NumSimKey, Value: strconv.Itoa(baseSimCount)}},
	}
	g.reindex()
	return g
}

func (g *Game) role(r strategy.Role) *Role {
	for i := range g.Roles {
		if g.Roles[i].Name == r {
			return &g.Roles[i]
		}
	}
	return nil
}

// Strategies returns the role's strategy names in file order.
func (g *Game) Strategies(r strategy.Role) []string {
	role := g.role(r)
	if role == nil {
		return nil
	}
	return append([]string(nil), role.Strategies...)
}

// HasStrategy reports whether the role lists name.
func (g *Game) HasStrategy(r strategy.Role, name string) bool {
	role := g.role(r)
	if role == nil {
		return false
	}
	for _, s := range role.Strategies {
		if s == name {
			return true
		}
	}
	return false
}

// Config returns the value stored under key.
func (g *Game) Config(key string) (string, bool) {
	for _, c := range g.Configuration {
		if c.Key == key {
			return c.Value, true
		}
	}
	return "", false
}

// SetConfig replaces or appends a configuration entry.
func (g *Game) SetConfig(key, value string) {
	for i := range g.Configuration {
		if g.Configuration[i].Key == key {
			g.Configuration[i].Value = value
			return
		}
	}
	g.Configuration = append(g.Configuration, ConfigEntry{Key: key, Value: value})
}

// BaseSimCount returns the numSim configuration value.
func (g *Game) BaseSimCount() (float64, error) {
	v, ok := g.Config(NumSimKey)
	if !ok {
		return 0, fault.New(fault.ErrInvariant, "game", NumSimKey, "missing configuration entry")
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 || math.IsInf(n, 0) {
		return 0, fault.New(fault.ErrInvariant, "game", NumSimKey, "invalid value %q", v)
	}
	return n, nil
}

// AddStrategy appends name to the role's strategy list.
func (g *Game) AddStrategy(r strategy.Role, name string) error {
	role := g.role(r)
	if role == nil {
		return fault.New(fault.ErrInvariant, "game", string(r), "unknown role")
	}
	if g.HasStrategy(r, name) {
		return fault.New(fault.ErrAlreadyAdded, "game", name, "")
	}
	role.Strategies = append(role.Strategies, name)
	return nil
}

func (g *Game) reindex() {
	g.index = make(map[Pair]int, len(g.Profiles))
	for i, p := range g.Profiles {
		if pair, ok := profilePair(p); ok {
			if _, dup := g.index[pair]; !dup {
				g.index[pair] = i
			}
		}
	}
}

func profilePair(p Profile) (Pair, bool) {
	var pair Pair
	for _, sg := range p.SymmetryGroups {
		switch sg.Role {
		case strategy.Defender:
			pair.Def = sg.Strategy
		case strategy.Attacker:
			pair.Att = sg.Strategy
		}
	}
	return pair, pair.Def != "" && pair.Att != ""
}

func (p Profile) group(r strategy.Role) *SymmetryGroup {
	for i := range p.SymmetryGroups {
		if p.SymmetryGroups[i].Role == r {
			return &p.SymmetryGroups[i]
		}
	}
	return nil
}

// Lookup returns the observation of the pair.
func (g *Game) Lookup(def, att string) (Observation, bool) {
	if g.index == nil {
		g.reindex()
	}
	i, ok := g.index[Pair{Def: def, Att: att}]
	if !ok {
		return Observation{}, false
	}
	p := g.Profiles[i]
	d, a := p.group(strategy.Defender), p.group(strategy.Attacker)
	return Observation{
		DefPayoff: d.Payoff,
		AttPayoff: a.Payoff,
		DefSD:     d.PayoffSD,
		AttSD:     a.PayoffSD,
		Count:     p.ObservationsCount,
	}, true
}

// Missing lists the pairs of listed strategies that have no profile.
func (g *Game) Missing() []Pair {
	if g.index == nil {
		g.reindex()
	}
	var out []Pair
	for _, d := range g.Strategies(strategy.Defender) {
		for _, a := range g.Strategies(strategy.Attacker) {
			if _, ok := g.index[Pair{Def: d, Att: a}]; !ok {
				out = append(out, Pair{Def: d, Att: a})
			}
		}
	}
	return out
}

// Complete reports whether every listed pair has a profile.
func (g *Game) Complete() bool {
	return len(g.Missing()) == 0
}

func (g *Game) nextIDs() (profileID, groupID int) {
	for _, p := range g.Profiles {
		profileID = max(profileID, p.ID+1)
		for _, sg := range p.SymmetryGroups {
			groupID = max(groupID, sg.ID+1)
		}
	}
	return profileID, groupID
}

// AddObservation records obs for the pair. obs.Count is the number of
// equivalent observations, i.e. simulations divided by the base sim count.
// An existing profile is refined with the equivalent-observation rule: means
// are weighted by count and standard deviations combine by the law of total
// variance.
func (g *Game) AddObservation(def, att string, obs Observation) error {
	if !g.HasStrategy(strategy.Defender, def) {
		return fault.New(fault.ErrInvariant, "game", def, "unknown defender strategy")
	}
	if !g.HasStrategy(strategy.Attacker, att) {
		return fault.New(fault.ErrInvariant, "game", att, "unknown attacker strategy")
	}
	if !(obs.Count > 0) {
		return fault.New(fault.ErrInvariant, "game", Pair{def, att}.String(), "observation count %v must be positive", obs.Count)
	}
	for _, v := range []float64{obs.DefPayoff, obs.AttPayoff, obs.DefSD, obs.AttSD} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fault.New(fault.ErrEpisodeNaN, "game", Pair{def, att}.String(), "")
		}
	}

	if _, ok := g.Lookup(def, att); ok {
		p := &g.Profiles[g.index[Pair{Def: def, Att: att}]]
		c0, c1 := p.ObservationsCount, obs.Count
		mergeGroup(p.group(strategy.Defender), c0, obs.DefPayoff, obs.DefSD, c1)
		mergeGroup(p.group(strategy.Attacker), c0, obs.AttPayoff, obs.AttSD, c1)
		p.ObservationsCount = c0 + c1
		return nil
	}

	pid, gid := g.nextIDs()
	g.Profiles = append(g.Profiles, Profile{
		ID:                pid,
		ObservationsCount: obs.Count,
		SymmetryGroups: []SymmetryGroup{
			{ID: gid, Role: strategy.Defender, Strategy: def, Count: 1, Payoff: obs.DefPayoff, PayoffSD: obs.DefSD},
			{ID: gid + 1, Role: strategy.Attacker, Strategy: att, Count: 1, Payoff: obs.AttPayoff, PayoffSD: obs.AttSD},
		},
	})
	g.index[Pair{Def: def, Att: att}] = len(g.Profiles) - 1
	return nil
}

func mergeGroup(sg *SymmetryGroup, c0, m1, s1, c1 float64) {
	m0, s0 := sg.Payoff, sg.PayoffSD
	total := c0 + c1
	mean := (c0*m0 + c1*m1) / total
	v := (c0*(s0*s0+(m0-mean)*(m0-mean)) + c1*(s1*s1+(m1-mean)*(m1-mean))) / total
	sg.Payoff = mean
	sg.PayoffSD = math.Sqrt(max(v, 0))
}

// PayoffMatrix returns role's payoffs with rows indexed by defender strategy
// and columns by attacker strategy, in file order.
func (g *Game) PayoffMatrix(r strategy.Role) ([][]float64, error) {
	defs, atts := g.Strategies(strategy.Defender), g.Strategies(strategy.Attacker)
	m := make([][]float64, len(defs))
	for i, d := range defs {
		m[i] = make([]float64, len(atts))
		for j, a := range atts {
			obs, ok := g.Lookup(d, a)
			if !ok {
				return nil, fault.New(fault.ErrInvariant, "game", Pair{d, a}.String(), "missing profile")
			}
			m[i][j] = obs.Payoff(r)
		}
	}
	return m, nil
}

// Clone returns a deep copy of g.
func (g *Game) Clone() *Game {
	out := &Game{
		Roles:         make([]Role, len(g.Roles)),
		Profiles:      make([]Profile, len(g.Profiles)),
		Configuration: append([]ConfigEntry(nil), g.Configuration...),
	}
	for i, r := range g.Roles {
		out.Roles[i] = Role{Name: r.Name, Strategies: append([]string{}, r.Strategies...)}
	}
	for i, p := range g.Profiles {
		out.Profiles[i] = Profile{
			ID:                p.ID,
			ObservationsCount: p.ObservationsCount,
			SymmetryGroups:    append([]SymmetryGroup(nil), p.SymmetryGroups...),
		}
	}
	if g.NetworkSource != nil {
		out.NetworkSource = make(map[string][]string, len(g.NetworkSource))
		for k, v := range g.NetworkSource {
			out.NetworkSource[k] = append([]string{}, v...)
		}
	}
	out.reindex()
	return out
}

// Validate checks the structural invariants of the game: both roles present
// once, unique strategy names, well-formed profiles over listed strategies,
// unique ids and no duplicate pair. Missing pairs are not an error here; see
// Missing.
func (g *Game) Validate() error {
	seen := map[strategy.Role]bool{}
	for _, r := range g.Roles {
		if _, err := strategy.ParseRole(string(r.Name)); err != nil {
			return fault.New(fault.ErrInvariant, "game", string(r.Name), "unknown role")
		}
		if seen[r.Name] {
			return fault.New(fault.ErrInvariant, "game", string(r.Name), "role listed twice")
		}
		seen[r.Name] = true
		names := map[string]bool{}
		for _, s := range r.Strategies {
			if names[s] {
				return fault.New(fault.ErrInvariant, "game", s, "strategy listed twice under %s", r.Name)
			}
			names[s] = true
			if _, err := strategy.Parse(r.Name, s); err != nil {
				return err
			}
		}
	}
	if len(seen) != 2 {
		return fault.New(fault.ErrInvariant, "game", "roles", "game must list defender and attacker")
	}
	if _, err := g.BaseSimCount(); err != nil {
		return err
	}

	ids := map[int]bool{}
	groupIDs := map[int]bool{}
	pairs := map[Pair]int{}
	for _, p := range g.Profiles {
		ident := strconv.Itoa(p.ID)
		if ids[p.ID] {
			return fault.New(fault.ErrInvariant, "game", ident, "duplicate profile id")
		}
		ids[p.ID] = true
		if !(p.ObservationsCount > 0) {
			return fault.New(fault.ErrInvariant, "game", ident, "observations_count must be positive")
		}
		if len(p.SymmetryGroups) != 2 || p.group(strategy.Defender) == nil || p.group(strategy.Attacker) == nil {
			return fault.New(fault.ErrInvariant, "game", ident, "profile needs one symmetry group per role")
		}
		for _, sg := range p.SymmetryGroups {
			if groupIDs[sg.ID] {
				return fault.New(fault.ErrInvariant, "game", strconv.Itoa(sg.ID), "duplicate symmetry group id")
			}
			groupIDs[sg.ID] = true
			if !g.HasStrategy(sg.Role, sg.Strategy) {
				return fault.New(fault.ErrInvariant, "game", sg.Strategy, "profile %d references unknown %s strategy", p.ID, sg.Role)
			}
		}
		pair, _ := profilePair(p)
		if other, dup := pairs[pair]; dup {
			return fault.New(fault.ErrInvariant, "game", pair.String(), "duplicate profile (ids %d and %d)", other, p.ID)
		}
		pairs[pair] = p.ID
	}

	for src := range g.NetworkSource {
		if src == "" {
			return fault.New(fault.ErrInvariant, "game", "network_source", "empty source name")
		}
	}
	g.reindex()
	return nil
}
