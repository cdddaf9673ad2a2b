package empirical

import (
	"fmt"
	"sort"

	"github.com/lox/egta/internal/strategy"
)

// Source is one input of Merge: a game and the name of the file it came from.
type Source struct {
	Name string
	Game *Game
}

// Merge unions several games with the same roles. Strategies keep the order
// of first appearance, profiles of identical pairs are combined with the
// equivalent-observation rule after rescaling each source to the first
// source's base sim count, and network_source records which file contributed
// each learned policy.
func Merge(sources ...Source) (*Game, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("merge: no games")
	}
	base, err := sources[0].Game.BaseSimCount()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sources[0].Name, err)
	}

	out := &Game{
		Roles: []Role{
			{Name: strategy.Defender, Strategies: []string{}},
			{Name: strategy.Attacker, Strategies: []string{}},
		},
		Profiles:      []Profile{},
		Configuration: append([]ConfigEntry(nil), sources[0].Game.Configuration...),
		NetworkSource: map[string][]string{},
	}
	out.reindex()
	attributed := map[string]bool{}

	for _, src := range sources {
		g := src.Game
		srcBase, err := g.BaseSimCount()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.Name, err)
		}

		for file, names := range g.NetworkSource {
			for _, n := range names {
				if !attributed[n] {
					out.NetworkSource[file] = append(out.NetworkSource[file], n)
					attributed[n] = true
				}
			}
		}

		for _, role := range strategy.Roles {
			for _, name := range g.Strategies(role) {
				if !out.HasStrategy(role, name) {
					if err := out.AddStrategy(role, name); err != nil {
						return nil, err
					}
				}
				s, err := strategy.Parse(role, name)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", src.Name, err)
				}
				if s.IsPolicy() && !attributed[name] {
					out.NetworkSource[src.Name] = append(out.NetworkSource[src.Name], name)
					attributed[name] = true
				}
			}
		}

		scale := srcBase / base
		for _, p := range g.Profiles {
			pair, ok := profilePair(p)
			if !ok {
				continue
			}
			obs, _ := g.Lookup(pair.Def, pair.Att)
			obs.Count *= scale
			if err := out.AddObservation(pair.Def, pair.Att, obs); err != nil {
				return nil, fmt.Errorf("%s: %w", src.Name, err)
			}
		}
	}

	for file := range out.NetworkSource {
		sort.Strings(out.NetworkSource[file])
	}
	if len(out.NetworkSource) == 0 {
		out.NetworkSource = nil
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
