package psro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/equilibrium"
	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/fileutil"
	"github.com/lox/egta/internal/hado"
	"github.com/lox/egta/internal/simulator"
	"github.com/lox/egta/internal/strategy"
	"github.com/lox/egta/internal/trainer"
)

// world is an in-memory security game. Learned policies behave like one of
// the matrix strategies; Threshold heuristics score by their parameter.
type world struct {
	matrix    map[empirical.Pair]float64
	clones    map[string]string
	threshold func(x float64) float64
}

func s1World() *world {
	return &world{
		matrix: map[empirical.Pair]float64{
			{Def: "d0", Att: "a0"}: -10,
			{Def: "d0", Att: "a1"}: 5,
			{Def: "d1", Att: "a0"}: 2,
			{Def: "d1", Att: "a1"}: -3,
			// a stronger attacker, used as a learned policy
			{Def: "d0", Att: "a2"}: -3,
			{Def: "d1", Att: "a2"}: -1,
		},
		clones: map[string]string{},
	}
}

func (w *world) behaviour(name string) string {
	if b, ok := w.clones[name]; ok {
		return b
	}
	return name
}

func (w *world) payoff(def, att strategy.Strategy) (float64, float64, error) {
	if rest, ok := strings.CutPrefix(att.Name, "Threshold:t="); ok && w.threshold != nil {
		x, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return 0, 0, err
		}
		u := w.threshold(x)
		return -u, u, nil
	}
	u, ok := w.matrix[empirical.Pair{Def: w.behaviour(def.Name), Att: w.behaviour(att.Name)}]
	if !ok {
		return 0, 0, fmt.Errorf("no payoff for %s vs %s", def.Name, att.Name)
	}
	return u, -u, nil
}

func (w *world) game(t *testing.T, defs, atts []string) *empirical.Game {
	t.Helper()
	g := empirical.New(1, defs, atts)
	for _, d := range defs {
		for _, a := range atts {
			u := w.matrix[empirical.Pair{Def: d, Att: a}]
			require.NoError(t, g.AddObservation(d, a, empirical.Observation{DefPayoff: u, AttPayoff: -u, Count: 1}))
		}
	}
	return g
}

func writeGame(t *testing.T, g *empirical.Game) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "initial.json")
	require.NoError(t, g.Save(path))
	return path
}

// scripted returns the hand-computed equilibria of the 2x2 game and of that
// game extended by the stronger attacker.
func scripted(calls *int) equilibrium.Solver {
	return equilibrium.SolverFunc(func(_ context.Context, g *empirical.Game) (strategy.Equilibrium, error) {
		*calls++
		defs, atts := g.Strategies(strategy.Defender), g.Strategies(strategy.Attacker)
		switch {
		case len(defs) == 1 && len(atts) == 1:
			return strategy.Equilibrium{Defender: strategy.Pure(defs[0]), Attacker: strategy.Pure(atts[0])}, nil
		case len(defs) == 2 && len(atts) == 2:
			return strategy.Equilibrium{
				Defender: strategy.Mixture{defs[0]: 0.25, defs[1]: 0.75},
				Attacker: strategy.Mixture{atts[0]: 0.4, atts[1]: 0.6},
			}, nil
		case len(defs) == 2 && len(atts) == 3:
			return strategy.Equilibrium{
				Defender: strategy.Mixture{defs[0]: 0.2, defs[1]: 0.8},
				Attacker: strategy.Mixture{atts[0]: 0, atts[1]: 0.2, atts[2]: 0.8},
			}, nil
		}
		return strategy.Equilibrium{}, fmt.Errorf("no scripted equilibrium for %dx%d", len(defs), len(atts))
	})
}

type fakeTrainer struct {
	mu       sync.Mutex
	requests []trainer.Request
}

func (f *fakeTrainer) Train(_ context.Context, req trainer.Request) (strategy.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return req.Policy, nil
}

func (f *fakeTrainer) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, r.Policy.Name)
	}
	sort.Strings(out)
	return out
}

func (f *fakeTrainer) request(name string) (trainer.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.Policy.Name == name {
			return r, true
		}
	}
	return trainer.Request{}, false
}

type fixture struct {
	cfg      Config
	trainer  *fakeTrainer
	sampler  *simulator.FuncSampler
	progress *bytes.Buffer
	solves   int
}

func newFixture(t *testing.T, run string, w *world, initial string, noise float64) *fixture {
	t.Helper()
	f := &fixture{trainer: &fakeTrainer{}, progress: &bytes.Buffer{}}
	f.sampler = simulator.NewFuncSampler(w.payoff, noise, 7)
	f.cfg = Config{
		RunDir:       filepath.Join(t.TempDir(), run),
		RunName:      run,
		InitialGame:  initial,
		MaxRounds:    3,
		NewColCount:  10,
		NewEvalCount: 100,
		TrainSteps:   map[strategy.Role]int{strategy.Defender: 1000, strategy.Attacker: 1000},
		Epsilon:      0.1,
		Seed:         11,
		Solver:       scripted(&f.solves),
		Samplers:     map[strategy.Role]simulator.Sampler{strategy.Defender: f.sampler, strategy.Attacker: f.sampler},
		Trainer:      f.trainer,
		Progress:     log.NewWithOptions(f.progress, log.Options{ReportTimestamp: true}),
		Logger:       zerolog.New(zerolog.NewTestWriter(t)),
	}
	return f
}

func (f *fixture) run(t *testing.T) (Result, error) {
	t.Helper()
	d, err := New(f.cfg)
	require.NoError(t, err)
	return d.Run(context.Background())
}

func TestConvergedAfterOneRound(t *testing.T) {
	w := s1World()
	w.clones["s1_d_epoch1.pkl"] = "d0"
	w.clones["s1_a_epoch1.pkl"] = "a0"
	initial := writeGame(t, w.game(t, []string{"d0", "d1"}, []string{"a0", "a1"}))
	f := newFixture(t, "s1", w, initial, 0)

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	assert.Equal(t, 1, res.Round)
	assert.Equal(t, 0, res.Epoch)
	assert.Equal(t, []State{Init, SolveEq, EvalEqPayoffs, TrainBoth, TestDeviations, Converged}, res.Transitions)

	assert.InDelta(t, -1, res.EqPayoffs[strategy.Defender], 1e-9)
	assert.InDelta(t, 1, res.EqPayoffs[strategy.Attacker], 1e-9)
	for _, role := range strategy.Roles {
		dev := res.Deviations[role]
		assert.False(t, dev.Beneficial, role)
		assert.InDelta(t, res.EqPayoffs[role], dev.Value, 1e-9, role)
	}
	assert.Equal(t, []string{"s1_a_epoch1.pkl", "s1_d_epoch1.pkl"}, f.trainer.names())
	req, ok := f.trainer.request("s1_a_epoch1.pkl")
	require.True(t, ok)
	assert.Equal(t, strategy.Mixture{"d0": 0.25, "d1": 0.75}, req.Opponent)
	assert.Equal(t, 1, req.Round)
	assert.Equal(t, "s1_attacker_e1", req.Policy.Scope)

	eqFile, err := os.ReadFile(strategy.EquilibriumPath(f.cfg.RunDir, strategy.Defender, 0))
	require.NoError(t, err)
	assert.Equal(t, "d0\t0.2500\nd1\t0.7500\n", string(eqFile))

	ok, err = fileutil.Exists(GamePath(f.cfg.RunDir, 1))
	require.NoError(t, err)
	assert.False(t, ok, "a converged round appends nothing")
	assert.Contains(t, f.progress.String(), "CONVERGED")
	assert.Contains(t, f.progress.String(), "TRAIN_BOTH")
}

func s2Fixture(t *testing.T, noise float64) (*fixture, *world) {
	t.Helper()
	w := s1World()
	w.clones["s2_d_epoch1.pkl"] = "d0"
	w.clones["s2_a_epoch1.pkl"] = "a2"
	w.clones["s2_d_epoch1_r1.pkl"] = "d1"
	w.clones["s2_a_epoch2.pkl"] = "a2"
	initial := writeGame(t, w.game(t, []string{"d0", "d1"}, []string{"a0", "a1"}))
	return newFixture(t, "s2", w, initial, noise), w
}

func TestBeneficialAttackerAddsColumn(t *testing.T) {
	f, _ := s2Fixture(t, 0)

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	assert.Equal(t, 2, res.Round)
	assert.Equal(t, 1, res.Epoch)
	assert.Equal(t, []State{
		Init, SolveEq, EvalEqPayoffs, TrainBoth, TestDeviations, GenNewColumns, AppendAndPersist,
		SolveEq, EvalEqPayoffs, TrainBoth, TestDeviations, Converged,
	}, res.Transitions)

	g, err := empirical.Load(GamePath(f.cfg.RunDir, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"d0", "d1"}, g.Strategies(strategy.Defender))
	assert.Equal(t, []string{"a0", "a1", "s2_a_epoch1.pkl"}, g.Strategies(strategy.Attacker))
	assert.Len(t, g.Profiles, 6)
	for _, d := range []string{"d0", "d1"} {
		obs, ok := g.Lookup(d, "s2_a_epoch1.pkl")
		require.True(t, ok)
		assert.Equal(t, 10.0, obs.Count)
	}
	obs, _ := g.Lookup("d0", "s2_a_epoch1.pkl")
	assert.Equal(t, 3.0, obs.AttPayoff)

	prev, err := empirical.Load(GamePath(f.cfg.RunDir, 0))
	require.NoError(t, err)
	assert.Len(t, prev.Profiles, 4, "epoch 0 game is never rewritten")

	// the defender was rejected once, so its retrain carries an index
	assert.Equal(t, []string{"s2_a_epoch1.pkl", "s2_a_epoch2.pkl", "s2_d_epoch1.pkl", "s2_d_epoch1_r1.pkl"}, f.trainer.names())

	eq1, _, err := strategy.ReadMixtureFile(strategy.EquilibriumPath(f.cfg.RunDir, strategy.Attacker, 1))
	require.NoError(t, err)
	assert.Equal(t, 0.8, eq1["s2_a_epoch1.pkl"])
	assert.InDelta(t, -1.4, res.EqPayoffs[strategy.Defender], 1e-9)

	ledger, err := LoadLedger(filepath.Join(f.cfg.RunDir, LedgerFile))
	require.NoError(t, err)
	require.Equal(t, 1, ledger.Len())
	r := ledger.Rounds[0]
	assert.Equal(t, "game_epoch1.json", r.Game)
	assert.True(t, r.Attacker.Accepted)
	assert.Equal(t, "learned", r.Attacker.Kind)
	assert.InDelta(t, 1.5, r.Attacker.Value, 1e-9)
	assert.False(t, r.Defender.Beneficial)
	assert.Equal(t, "s2_d_epoch1.pkl", r.Defender.Candidate)
}

func TestResumeReproducesGameFile(t *testing.T) {
	f, w := s2Fixture(t, 0.1)
	f.cfg.MaxRounds = 1

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, MaxRounds, res.State)
	path := GamePath(f.cfg.RunDir, 1)
	want, err := os.ReadFile(path)
	require.NoError(t, err)
	firstNames := f.trainer.names()

	// crash before the append: the output game file never made it
	require.NoError(t, os.Remove(path))
	again := *f
	again.trainer = &fakeTrainer{}
	again.sampler = simulator.NewFuncSampler(w.payoff, 0.1, 7)
	again.cfg.Trainer = again.trainer
	again.cfg.Samplers = map[strategy.Role]simulator.Sampler{strategy.Defender: again.sampler, strategy.Attacker: again.sampler}

	res, err = again.run(t)
	require.NoError(t, err)
	assert.Equal(t, MaxRounds, res.State)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
	assert.Equal(t, firstNames, again.trainer.names())

	ledger, err := LoadLedger(filepath.Join(f.cfg.RunDir, LedgerFile))
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.Len())

	// a finished budget resumes straight to the terminal state
	third := again
	third.trainer = &fakeTrainer{}
	third.cfg.Trainer = third.trainer
	res, err = third.run(t)
	require.NoError(t, err)
	assert.Equal(t, []State{Init, MaxRounds}, res.Transitions)
	assert.Empty(t, third.trainer.names())
}

func TestDuplicateProfileIsFatal(t *testing.T) {
	w := s1World()
	g := w.game(t, []string{"d0", "d1"}, []string{"a0", "a1"})
	dup := g.Profiles[0]
	dup.ID = 100
	dup.SymmetryGroups = []empirical.SymmetryGroup{dup.SymmetryGroups[0], dup.SymmetryGroups[1]}
	dup.SymmetryGroups[0].ID = 200
	dup.SymmetryGroups[1].ID = 201
	g.Profiles = append(g.Profiles, dup)
	initial := filepath.Join(t.TempDir(), "dup.json")
	require.NoError(t, fileutil.WriteJSONAtomic(initial, g))

	f := newFixture(t, "s4", w, initial, 0)
	res, err := f.run(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrInvariant))
	assert.Equal(t, Fatal, res.State)
	assert.Equal(t, []State{Init, Fatal}, res.Transitions)
	assert.Empty(t, f.trainer.names())
	ok, err := fileutil.Exists(GamePath(f.cfg.RunDir, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSolverTimeoutLeavesGameUnchanged(t *testing.T) {
	w := s1World()
	g := w.game(t, []string{"d0", "d1"}, []string{"a0", "a1"})
	f := newFixture(t, "s5", w, writeGame(t, g), 0)

	script := filepath.Join(t.TempDir(), "solver.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	f.cfg.Solver = &equilibrium.LCPSolver{Command: []string{script}, Timeout: 200 * time.Millisecond, Logger: zerolog.Nop()}

	res, err := f.run(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrSolverTimeout))
	assert.Equal(t, Fatal, res.State)

	want, err := g.Encode()
	require.NoError(t, err)
	got, err := os.ReadFile(GamePath(f.cfg.RunDir, 0))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
	for _, p := range []string{GamePath(f.cfg.RunDir, 1), strategy.EquilibriumPath(f.cfg.RunDir, strategy.Defender, 0)} {
		ok, err := fileutil.Exists(p)
		require.NoError(t, err)
		assert.False(t, ok, p)
	}
	assert.Empty(t, f.trainer.names())
}

func TestSingleStrategyGame(t *testing.T) {
	w := s1World()
	w.clones["one_d_epoch1.pkl"] = "d0"
	w.clones["one_a_epoch1.pkl"] = "a0"
	f := newFixture(t, "one", w, writeGame(t, w.game(t, []string{"d0"}, []string{"a0"})), 0)
	f.cfg.Solver = &equilibrium.FictitiousPlaySolver{Iterations: 10, Logger: zerolog.Nop()}

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	assert.Equal(t, strategy.Pure("d0"), res.Equilibrium.Defender)
	assert.InDelta(t, -10, res.EqPayoffs[strategy.Defender], 1e-12)
}

func TestTrainerFailureIsFatal(t *testing.T) {
	w := s1World()
	f := newFixture(t, "tf", w, writeGame(t, w.game(t, []string{"d0", "d1"}, []string{"a0", "a1"})), 0)
	f.cfg.Trainer = trainer.Func(func(_ context.Context, req trainer.Request) (strategy.Strategy, error) {
		if req.Policy.Role == strategy.Attacker {
			return strategy.Strategy{}, fault.New(fault.ErrTrainerFailure, "trainer", req.Policy.Name, "exit status 1")
		}
		return req.Policy, nil
	})

	res, err := f.run(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrTrainerFailure))
	assert.Equal(t, Fatal, res.State)
	assert.Contains(t, err.Error(), "tf_a_epoch1.pkl")
}

func hadoConfig() *hado.Config {
	cfg := hado.Config{
		MaxP:             0.05,
		ErrorTolerance:   0.1,
		MaxSteps:         2,
		SamplesPerParam:  10,
		EpsilonTolerance: 0.1,
		Families: []hado.Family{{
			Name:   "Threshold",
			Role:   "attacker",
			Params: []hado.Param{{Key: "t", Min: 0, Max: 1}},
		}},
	}.WithDefaults()
	return &cfg
}

func TestHADOConfirmsEquilibrium(t *testing.T) {
	w := s1World()
	w.clones["h_d_epoch1.pkl"] = "d0"
	w.threshold = func(float64) float64 { return 0.5 }
	f := newFixture(t, "h", w, writeGame(t, w.game(t, []string{"d0", "d1"}, []string{"a0", "a1"})), 0)
	f.cfg.MaxRounds = 10
	f.cfg.HADO = hadoConfig()
	f.cfg.HADORoles = map[strategy.Role]bool{strategy.Attacker: true}

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	dev := res.Deviations[strategy.Attacker]
	assert.False(t, dev.Beneficial)
	assert.Equal(t, 91, dev.Attempts)
	assert.LessOrEqual(t, dev.Upper, 0.05)
	assert.InDelta(t, 0.5, dev.Value, 1e-9)
	assert.Equal(t, []string{"h_d_epoch1.pkl"}, f.trainer.names(), "annealed roles are not trained")
}

func TestHADODeviationBecomesColumn(t *testing.T) {
	w := s1World()
	w.clones["hd_d_epoch1.pkl"] = "d0"
	w.threshold = func(x float64) float64 { return 1 + 2*x }
	f := newFixture(t, "hd", w, writeGame(t, w.game(t, []string{"d0", "d1"}, []string{"a0", "a1"})), 0)
	f.cfg.MaxRounds = 1
	f.cfg.HADO = hadoConfig()
	f.cfg.HADORoles = map[strategy.Role]bool{strategy.Attacker: true}

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, MaxRounds, res.State)
	dev := res.Deviations[strategy.Attacker]
	require.True(t, dev.Beneficial)
	assert.Greater(t, dev.Value, 1.1)

	g, err := empirical.Load(GamePath(f.cfg.RunDir, 1))
	require.NoError(t, err)
	atts := g.Strategies(strategy.Attacker)
	require.Len(t, atts, 3)
	assert.Equal(t, dev.Candidate.Name, atts[2])
	assert.True(t, strings.HasPrefix(atts[2], "Threshold:t="))

	ledger, err := LoadLedger(filepath.Join(f.cfg.RunDir, LedgerFile))
	require.NoError(t, err)
	assert.Equal(t, "heuristic", ledger.Rounds[0].Attacker.Kind)
	assert.True(t, ledger.Rounds[0].Attacker.Accepted)
	assert.GreaterOrEqual(t, ledger.Rounds[0].Attacker.Attempts, 1)
}

func TestBlendedTrainingMixture(t *testing.T) {
	f, _ := s2Fixture(t, 0)
	f.cfg.Discount = 0.5
	f.cfg.DiscountFloor = 1e-3

	_, err := f.run(t)
	require.NoError(t, err)

	// round 2 trains against (0.5·σ0 + σ1) / 1.5
	req, ok := f.trainer.request("s2_d_epoch1_r1.pkl")
	require.True(t, ok)
	assert.InDelta(t, 0.4/3, req.Opponent["a0"], 1e-4)
	assert.InDelta(t, (0.3+0.2)/1.5, req.Opponent["a1"], 1e-4)
	assert.InDelta(t, 0.8/1.5, req.Opponent["s2_a_epoch1.pkl"], 1e-4)
}

func TestNewValidates(t *testing.T) {
	w := s1World()
	base := newFixture(t, "v", w, "", 0).cfg
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no run name", func(c *Config) { c.RunName = "" }},
		{"no rounds", func(c *Config) { c.MaxRounds = 0 }},
		{"no solver", func(c *Config) { c.Solver = nil }},
		{"no sampler", func(c *Config) { c.Samplers = nil }},
		{"no train steps", func(c *Config) { c.TrainSteps = nil }},
		{"hado without settings", func(c *Config) { c.HADORoles = map[strategy.Role]bool{strategy.Defender: true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}
