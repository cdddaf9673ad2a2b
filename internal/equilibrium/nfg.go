package equilibrium

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/strategy"
)

// Layout records the player order and strategy order used when a game was
// written for the external solver, so the solution vector can be split back.
type Layout struct {
	Players    [2]strategy.Role
	Strategies [2][]string
}

// DefaultLayout lists the defender first, strategies in game-file order.
func DefaultLayout(g *empirical.Game) Layout {
	return Layout{
		Players:    [2]strategy.Role{strategy.Defender, strategy.Attacker},
		Strategies: [2][]string{g.Strategies(strategy.Defender), g.Strategies(strategy.Attacker)},
	}
}

// WriteNFG writes g in Gambit's outcome-free normal form: one payoff pair per
// strategy profile with the first player's strategy index varying fastest.
func WriteNFG(w io.Writer, g *empirical.Game, l Layout) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "NFG 1 R \"egta\" { \"%s\" \"%s\" } { %d %d }\n\n",
		l.Players[0], l.Players[1], len(l.Strategies[0]), len(l.Strategies[1]))

	var line []string
	for _, s1 := range l.Strategies[1] {
		for _, s0 := range l.Strategies[0] {
			def, att := s0, s1
			if l.Players[0] == strategy.Attacker {
				def, att = s1, s0
			}
			obs, ok := g.Lookup(def, att)
			if !ok {
				return fault.New(fault.ErrInvariant, "solver", empirical.Pair{Def: def, Att: att}.String(), "missing profile")
			}
			line = append(line,
				strconv.FormatFloat(obs.Payoff(l.Players[0]), 'g', -1, 64),
				strconv.FormatFloat(obs.Payoff(l.Players[1]), 'g', -1, 64))
		}
	}
	fmt.Fprintln(bw, strings.Join(line, " "))
	return bw.Flush()
}

// ParseSolution reads the first "NE," line of solver output. Entries may be
// decimals or fractions; there must be exactly one per strategy of each player.
func ParseSolution(out []byte, l Layout) (strategy.Equilibrium, error) {
	n0, n1 := len(l.Strategies[0]), len(l.Strategies[1])
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(text, "NE,") {
			continue
		}
		fields := strings.Split(strings.TrimPrefix(text, "NE,"), ",")
		if len(fields) != n0+n1 {
			return strategy.Equilibrium{}, fault.New(fault.ErrSolverParse, "solver", "NE", "got %d probabilities, expected %d+%d", len(fields), n0, n1)
		}
		probs := make([]float64, len(fields))
		for i, f := range fields {
			r, ok := new(big.Rat).SetString(strings.TrimSpace(f))
			if !ok {
				return strategy.Equilibrium{}, fault.New(fault.ErrSolverParse, "solver", f, "not a number")
			}
			probs[i], _ = r.Float64()
		}
		first, second := probs[:n0], probs[n0:]
		if l.Players[0] == strategy.Defender {
			return Normalize(l.Strategies[0], l.Strategies[1], first, second)
		}
		return Normalize(l.Strategies[1], l.Strategies[0], second, first)
	}
	if err := sc.Err(); err != nil {
		return strategy.Equilibrium{}, fault.Wrap(fault.ErrSolverParse, "solver", "output", err)
	}
	return strategy.Equilibrium{}, fault.New(fault.ErrSolverParse, "solver", "output", "no NE line")
}
