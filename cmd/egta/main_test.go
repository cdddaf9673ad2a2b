package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/egta/internal/config"
	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/equilibrium"
	"github.com/lox/egta/internal/hado"
	"github.com/lox/egta/internal/psro"
	"github.com/lox/egta/internal/simulator"
	"github.com/lox/egta/internal/strategy"
)

const minimal = `
game_number       = 7
env_short_name    = "Sim-v0"
env_name_def_net  = "SimVsMixedAtt-v0"
env_name_att_net  = "SimVsMixedDef-v0"
env_name_both     = "SimBoth-v0"
new_col_count     = 10
max_timesteps_def = 50
max_timesteps_att = 50
new_eval_count    = 100
port_lock_name    = "t7"
base_port         = 31000
initial_game      = "initial.json"
simulator_cmd     = ["sim", "--port", "{port}"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// s1 is the 2x2 zero-sum game with defender equilibrium (.25, .75) and
// attacker equilibrium (.4, .6).
func s1(t *testing.T) *empirical.Game {
	t.Helper()
	payoffs := map[empirical.Pair]float64{
		{Def: "d0", Att: "a0"}: -10,
		{Def: "d0", Att: "a1"}: 5,
		{Def: "d1", Att: "a0"}: 2,
		{Def: "d1", Att: "a1"}: -3,
	}
	g := empirical.New(1, []string{"d0", "d1"}, []string{"a0", "a1"})
	for p, u := range payoffs {
		require.NoError(t, g.AddObservation(p.Def, p.Att, empirical.Observation{DefPayoff: u, AttPayoff: -u, Count: 1}))
	}
	return g
}

func saveGame(t *testing.T, dir, name string, g *empirical.Game) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, g.Save(path))
	return path
}

func TestGetN(t *testing.T) {
	tests := []struct {
		name string
		cmd  GetNCmd
		want string
	}{
		{"explicit alpha", GetNCmd{MaxP: 0.05, Alpha: 0.01}, "91\n"},
		{"budget split across rounds", GetNCmd{MaxP: 0.05, ErrorTolerance: 0.1, Rounds: 10}, "91\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, tt.cmd.print(&out))
			assert.Equal(t, tt.want, out.String())
		})
	}

	var out bytes.Buffer
	assert.Error(t, (&GetNCmd{MaxP: 0.05, ErrorTolerance: 0.1}).print(&out))
}

func TestRunFlagsOverride(t *testing.T) {
	path := writeConfig(t, minimal)
	seed := int64(99)
	runDir := filepath.Join(t.TempDir(), "elsewhere")
	f := RunFlags{Config: path, RunDir: runDir, Seed: &seed, MaxNewRounds: 4}

	cfg, err := f.load(nil)
	require.NoError(t, err)
	assert.Equal(t, runDir, cfg.RunDir)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 4, cfg.MaxNewRounds)

	_, err = f.load([]string{"attacker"})
	assert.ErrorContains(t, err, "hado_roles set without a hado block")
}

func TestBuildStack(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimal+`trainer_cmd = ["train", "{job}"]`+"\n"))
	require.NoError(t, err)
	logger := zerolog.New(zerolog.NewTestWriter(t))

	st, err := buildStack(cfg, nil, nil, logger)
	require.NoError(t, err)
	assert.Len(t, st.samplers, 2)
	assert.NotNil(t, st.trainer)
	require.NoError(t, st.group.StopAll())

	dc := driverConfig(cfg, nil, st)
	assert.Equal(t, 700000, dc.TrainSteps[strategy.Defender])
	assert.Equal(t, cfg.RunDir, dc.RunDir)
	_, err = psro.New(dc)
	require.NoError(t, err)

	all := map[strategy.Role]bool{strategy.Defender: true, strategy.Attacker: true}
	st, err = buildStack(cfg, all, nil, logger)
	require.NoError(t, err)
	assert.Nil(t, st.trainer)

	cfg.SimulatorCmd = nil
	_, err = buildStack(cfg, all, nil, logger)
	assert.ErrorContains(t, err, "simulator command not configured")
}

func TestNewSolver(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimal+`solver = "fictitious"`+"\n"))
	require.NoError(t, err)
	_, ok := newSolver(cfg, zerolog.Nop()).(*equilibrium.FictitiousPlaySolver)
	assert.True(t, ok)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := saveGame(t, dir, "good.json", s1(t))
	partial := empirical.New(1, []string{"d0", "d1"}, []string{"a0"})
	require.NoError(t, partial.AddObservation("d0", "a0", empirical.Observation{DefPayoff: 1, AttPayoff: -1, Count: 1}))
	bad := saveGame(t, dir, "partial.json", partial)
	cfg := writeConfig(t, minimal)

	var out bytes.Buffer
	require.NoError(t, (&ValidateCmd{Files: []string{good, cfg}}).validate(&out))
	assert.Equal(t, 2, strings.Count(out.String(), "ok   "))

	out.Reset()
	err := (&ValidateCmd{Files: []string{good, bad}}).validate(&out)
	assert.ErrorContains(t, err, "1 of 2 files failed validation")
	assert.Contains(t, out.String(), "FAIL "+bad)
	assert.Contains(t, out.String(), "1 unsampled pairs")
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	full := s1(t)
	left := empirical.New(1, []string{"d0", "d1"}, []string{"a0"})
	right := empirical.New(1, []string{"d0", "d1"}, []string{"a1"})
	for _, d := range []string{"d0", "d1"} {
		obs, _ := full.Lookup(d, "a0")
		require.NoError(t, left.AddObservation(d, "a0", obs))
		obs, _ = full.Lookup(d, "a1")
		require.NoError(t, right.AddObservation(d, "a1", obs))
	}
	out := filepath.Join(dir, "merged.json")
	cmd := &MergeCmd{
		Inputs: []string{saveGame(t, dir, "left.json", left), saveGame(t, dir, "right.json", right)},
		Output: out,
	}
	require.NoError(t, cmd.Run(&Globals{}))

	merged, err := empirical.Load(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1"}, merged.Strategies(strategy.Attacker))
	assert.True(t, merged.Complete())
	obs, ok := merged.Lookup("d0", "a1")
	require.True(t, ok)
	assert.Equal(t, 5.0, obs.DefPayoff)

	assert.ErrorContains(t, cmd.Run(&Globals{}), "pass --force")
	cmd.Force = true
	require.NoError(t, cmd.Run(&Globals{}))
}

func TestSolveFictitious(t *testing.T) {
	g := empirical.New(1, []string{"only_d"}, []string{"only_a"})
	require.NoError(t, g.AddObservation("only_d", "only_a", empirical.Observation{DefPayoff: -2, AttPayoff: 2, Count: 1}))
	path := saveGame(t, t.TempDir(), "single.json", g)

	var out bytes.Buffer
	cmd := &SolveCmd{Game: path, Solver: config.SolverFictitious, Iterations: 100}
	require.NoError(t, cmd.solve(context.Background(), &out, zerolog.New(zerolog.NewTestWriter(t))))
	assert.Contains(t, out.String(), "defender payoff=-2.000000 regret=0.000000")
	assert.Contains(t, out.String(), "attacker payoff=2.000000 regret=0.000000")
	assert.Contains(t, out.String(), "only_d\t1")
}

func TestWriteSummaryNoColor(t *testing.T) {
	res := psro.Result{
		State:    psro.Converged,
		Round:    2,
		Epoch:    1,
		GamePath: "runs/x/game_epoch1.json",
		Equilibrium: strategy.Equilibrium{
			Defender: strategy.Mixture{"d0": 0.25, "d1": 0.75},
			Attacker: strategy.Mixture{"a0": 0.4, "a1": 0.6, "a2": 0},
		},
		EqPayoffs: map[strategy.Role]float64{strategy.Defender: -1, strategy.Attacker: 1},
		Deviations: map[strategy.Role]psro.Deviation{
			strategy.Attacker: psro.Test(strategy.Attacker, strategy.NewHeuristic(strategy.Attacker, "a1"), 1.05, 1, 0.1),
		},
	}

	var out bytes.Buffer
	require.NoError(t, writeSummary(&out, true, "x", res))
	s := out.String()
	assert.NotContains(t, s, "\x1b[")
	assert.Contains(t, s, "Run x")
	assert.Contains(t, s, "CONVERGED")
	assert.Contains(t, s, "0.7500  d1")
	assert.NotContains(t, s, "a2", "zero-probability strategies are left out")
	assert.Contains(t, s, "a1 1.0500 (+0.0500) not beneficial")
}

func TestGroundTruthNeverBeneficial(t *testing.T) {
	hc := hado.Config{
		MaxSteps:             2,
		SamplesPerParam:      5,
		AnnealGroundTruthMin: 3,
		AnnealGroundTruthMax: 40,
		EpsilonTolerance:     0.1,
		Families: []hado.Family{{
			Name:   "Threshold",
			Role:   "attacker",
			Params: []hado.Param{{Key: "t", Min: 0, Max: 1}},
		}},
	}.WithDefaults()
	cfg := &config.Config{HADO: &hc, MaxNewRounds: 10, Seed: 3}
	eq := strategy.Equilibrium{
		Defender: strategy.Mixture{"d0": 0.25, "d1": 0.75},
		Attacker: strategy.Mixture{"a0": 0.4, "a1": 0.6},
	}
	// every threshold heuristic earns half the attacker's equilibrium payoff
	sampler := simulator.NewFuncSampler(func(def, att strategy.Strategy) (float64, float64, error) {
		return -0.5, 0.5, nil
	}, 0, 1)

	gt, eqPayoff, err := groundTruth(context.Background(), cfg, strategy.Attacker, s1(t), eq, sampler, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, eqPayoff, 1e-9)
	assert.Equal(t, 0, gt.Beneficial)
	assert.Zero(t, gt.Fraction)
	assert.GreaterOrEqual(t, gt.Runs, 3)
	assert.LessOrEqual(t, gt.Runs, 40)
	assert.Len(t, gt.Values, gt.Runs)

	var out bytes.Buffer
	require.NoError(t, writeGroundTruth(&out, strategy.Attacker, 1, eqPayoff, hc.MaxP, gt))
	assert.Contains(t, out.String(), "beneficial=0")
}
