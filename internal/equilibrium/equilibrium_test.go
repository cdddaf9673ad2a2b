package equilibrium

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/strategy"
)

func matrixGame(t *testing.T, defender [][]float64) *empirical.Game {
	t.Helper()
	var defs, atts []string
	for i := range defender {
		defs = append(defs, "d"+string(rune('0'+i)))
	}
	for j := range defender[0] {
		atts = append(atts, "a"+string(rune('0'+j)))
	}
	g := empirical.New(1, defs, atts)
	for i, row := range defender {
		for j, u := range row {
			require.NoError(t, g.AddObservation(defs[i], atts[j], empirical.Observation{DefPayoff: u, AttPayoff: -u, Count: 1}))
		}
	}
	return g
}

var s1Matrix = [][]float64{{-10, 5}, {2, -3}}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solver.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestWriteNFG(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	var buf bytes.Buffer
	require.NoError(t, WriteNFG(&buf, g, DefaultLayout(g)))
	assert.Equal(t, "NFG 1 R \"egta\" { \"defender\" \"attacker\" } { 2 2 }\n\n-10 10 2 -2 5 -5 -3 3\n", buf.String())
}

func TestParseSolution(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	l := DefaultLayout(g)

	eq, err := ParseSolution([]byte("Compute Nash equilibria\nNE,1/4,3/4,2/5,3/5\nNE,0,1,1,0\n"), l)
	require.NoError(t, err)
	assert.Equal(t, strategy.Mixture{"d0": 0.25, "d1": 0.75}, eq.Defender)
	assert.Equal(t, strategy.Mixture{"a0": 0.4, "a1": 0.6}, eq.Attacker)

	eq, err = ParseSolution([]byte("NE,0.25,0.75,0.4,0.6"), l)
	require.NoError(t, err)
	assert.Equal(t, 0.4, eq.Attacker["a0"])

	_, err = ParseSolution([]byte("NE,1,0,1\n"), l)
	assert.True(t, errors.Is(err, fault.ErrSolverParse))

	_, err = ParseSolution([]byte("nothing here\n"), l)
	assert.True(t, errors.Is(err, fault.ErrSolverParse))

	_, err = ParseSolution([]byte("NE,1,x,0,1\n"), l)
	assert.True(t, errors.Is(err, fault.ErrSolverParse))

	_, err = ParseSolution([]byte("NE,0,0,0,0\n"), l)
	assert.True(t, errors.Is(err, fault.ErrDegenerateGame))
}

func TestParseSolutionAttackerFirst(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	l := Layout{
		Players:    [2]strategy.Role{strategy.Attacker, strategy.Defender},
		Strategies: [2][]string{g.Strategies(strategy.Attacker), g.Strategies(strategy.Defender)},
	}
	eq, err := ParseSolution([]byte("NE,2/5,3/5,1/4,3/4\n"), l)
	require.NoError(t, err)
	assert.Equal(t, 0.25, eq.Defender["d0"])
	assert.Equal(t, 0.4, eq.Attacker["a0"])
}

func TestLCPSolver(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	captured := filepath.Join(t.TempDir(), "input.nfg")
	script := writeScript(t, `cp "$1" `+captured+`
echo "NE,1/4,3/4,2/5,3/5"`)

	s := &LCPSolver{Command: []string{script}, Timeout: 10 * time.Second, WorkDir: t.TempDir(), Logger: zerolog.New(zerolog.NewTestWriter(t))}
	eq, err := s.Solve(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 0.75, eq.Defender["d1"])
	assert.Equal(t, 0.6, eq.Attacker["a1"])

	input, err := os.ReadFile(captured)
	require.NoError(t, err)
	assert.Contains(t, string(input), "{ 2 2 }")

	// identical input gives identical output
	again, err := s.Solve(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, eq, again)
}

func TestLCPSolverTimeout(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	script := writeScript(t, "exec sleep 30")
	s := &LCPSolver{Command: []string{script}, Timeout: 200 * time.Millisecond, Logger: zerolog.New(zerolog.NewTestWriter(t))}

	start := time.Now()
	_, err := s.Solve(context.Background(), g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrSolverTimeout))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLCPSolverTimeoutKeepsPartialOutput(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	script := writeScript(t, `echo "NE,1/4,3/4,2/5,3/5"
exec sleep 30`)
	s := &LCPSolver{Command: []string{script}, Timeout: 500 * time.Millisecond, Logger: zerolog.New(zerolog.NewTestWriter(t))}

	eq, err := s.Solve(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 0.25, eq.Defender["d0"])
}

func TestLCPSolverFailure(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	script := writeScript(t, "echo broken >&2; exit 3")
	s := &LCPSolver{Command: []string{script}, Logger: zerolog.Nop()}
	_, err := s.Solve(context.Background(), g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrSolverParse))
	assert.Contains(t, err.Error(), "broken")
}

func TestSolversRejectIncompleteGame(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	require.NoError(t, g.AddStrategy(strategy.Attacker, "a9"))
	for _, s := range []Solver{&LCPSolver{Command: []string{"false"}}, &FictitiousPlaySolver{}} {
		_, err := s.Solve(context.Background(), g)
		assert.True(t, errors.Is(err, fault.ErrInvariant))
	}
}

func TestSingleStrategyGame(t *testing.T) {
	g := matrixGame(t, [][]float64{{3}})
	s := &LCPSolver{Command: []string{"/nonexistent"}}
	eq, err := s.Solve(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, strategy.Pure("d0"), eq.Defender)
	assert.Equal(t, strategy.Pure("a0"), eq.Attacker)
}

func TestFictitiousPlay(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	s := &FictitiousPlaySolver{Iterations: 200000, Seed: 7, Logger: zerolog.New(zerolog.NewTestWriter(t))}

	eq, err := s.Solve(context.Background(), g)
	require.NoError(t, err)
	require.NoError(t, eq.Validate())
	assert.InDelta(t, 0.25, eq.Defender["d0"], 0.02)
	assert.InDelta(t, 0.4, eq.Attacker["a0"], 0.02)

	again, err := s.Solve(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, eq, again)
}

func TestFictitiousPlayPureSaddle(t *testing.T) {
	// row 1 dominates, so the attacker best-responds with column 1
	g := matrixGame(t, [][]float64{{1, 0}, {4, 2}})
	s := &FictitiousPlaySolver{Iterations: 1000}
	eq, err := s.Solve(context.Background(), g)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, eq.Defender["d1"], 0.01)
	assert.InDelta(t, 1.0, eq.Attacker["a1"], 0.01)
}

func TestEquilibriumPayoff(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	eq := strategy.Equilibrium{
		Defender: strategy.Mixture{"d0": 0.25, "d1": 0.75},
		Attacker: strategy.Mixture{"a0": 0.4, "a1": 0.6},
	}
	v, err := EquilibriumPayoff(g, eq, strategy.Defender)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, v, 1e-12)

	v, err = EquilibriumPayoff(g, eq, strategy.Attacker)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-12)

	payoffs, err := StrategyPayoffs(g, eq, strategy.Defender)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, payoffs["d0"], 1e-12)
	assert.InDelta(t, -1.0, payoffs["d1"], 1e-12)

	regret, err := Regret(g, eq, strategy.Attacker)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, regret, 1e-12)
}

func TestEquilibriumPayoffSumsInGameOrder(t *testing.T) {
	big := 1e17
	g := matrixGame(t, [][]float64{{big, 1, -big}})
	third := 1.0 / 3
	eq := strategy.Equilibrium{
		Defender: strategy.Mixture{"d0": 1},
		Attacker: strategy.Mixture{"a0": third, "a1": third, "a2": third},
	}

	// a0, a1, a2 in order absorbs the small term before the cancellation
	for i := 0; i < 50; i++ {
		v, err := EquilibriumPayoff(g, eq, strategy.Defender)
		require.NoError(t, err)
		require.Equal(t, 0.0, v)

		payoffs, err := StrategyPayoffs(g, eq, strategy.Defender)
		require.NoError(t, err)
		require.Equal(t, 0.0, payoffs["d0"])
	}
}

func TestEquilibriumPayoffUnknownStrategy(t *testing.T) {
	g := matrixGame(t, s1Matrix)
	eq := strategy.Equilibrium{
		Defender: strategy.Mixture{"d0": 1},
		Attacker: strategy.Mixture{"a9": 1},
	}
	_, err := EquilibriumPayoff(g, eq, strategy.Defender)
	assert.True(t, errors.Is(err, fault.ErrInvariant))
}
