package trainer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/portlock"
	"github.com/lox/egta/internal/spawner"
	"github.com/lox/egta/internal/strategy"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newTestTrainer(t *testing.T, runDir string, command ...string) (*ProcessTrainer, map[strategy.Role]*portlock.Lock) {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	locks := map[strategy.Role]*portlock.Lock{}
	for _, role := range strategy.Roles {
		locks[role] = portlock.New(filepath.Join(runDir, "locks"), "test", role, portlock.Train, nil, logger)
	}
	tr, err := NewProcessTrainer(ProcessConfig{
		Command:      command,
		RunDir:       runDir,
		Options:      Options{LR: 1e-4},
		Envs:         map[strategy.Role]string{strategy.Defender: "DepgraphJavaEnvVsMixedAtt-v0", strategy.Attacker: "DepgraphJavaEnvVsMixedDef-v0"},
		MaxTimesteps: map[strategy.Role]int{strategy.Defender: 700, strategy.Attacker: 700},
		Seed:         3,
		Plan:         portlock.Plan{Base: 25333, Stride: 2, Range: 10, LaneStride: 10},
		Locks:        locks,
		Group:        spawner.NewGroup(nil, logger),
		Logger:       logger,
	})
	require.NoError(t, err)
	return tr, locks
}

func request(role strategy.Role) Request {
	return Request{
		Policy:   strategy.NewPolicy("run", role, 1, 0),
		Opponent: strategy.Mixture{"Uniform": 0.25, "RootOnly": 0.75},
		Steps:    700000,
		Round:    2,
	}
}

// writesArtifact is a trainer that copies its job file to the output path.
const writesArtifact = `out=$(sed -n 's/^output = "\(.*\)"$/\1/p' "$EGTA_TRAIN_JOB")
cp "$1" "$out"
`

func TestTrain(t *testing.T) {
	runDir := t.TempDir()
	tr, locks := newTestTrainer(t, runDir, writeScript(t, writesArtifact), "{job}")

	p, err := tr.Train(context.Background(), request(strategy.Defender))
	require.NoError(t, err)
	assert.Equal(t, "run_d_epoch1.pkl", p.Name)

	data, err := os.ReadFile(ArtifactPath(runDir, p.Name))
	require.NoError(t, err)
	job, err := DecodeJob(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "run_defender_e1", job.Scope)
	assert.Equal(t, "defender", job.Role)
	assert.Equal(t, 700000, job.Steps)
	assert.Equal(t, 700, job.MaxTimesteps)
	assert.Equal(t, "DepgraphJavaEnvVsMixedAtt-v0", job.Env)
	assert.Equal(t, 25333+4, job.Port)
	assert.Equal(t, 1e-4, job.LR)
	assert.Equal(t, DefaultOptions().Gamma, job.Gamma)
	assert.Equal(t, ArtifactPath(runDir, p.Name), job.Output)

	mix, order, err := strategy.ReadMixtureFile(job.Opponents)
	require.NoError(t, err)
	assert.Equal(t, []string{"RootOnly", "Uniform"}, order)
	assert.Equal(t, 0.75, mix["RootOnly"])
	assert.Equal(t, []Opponent{{Name: "RootOnly", Prob: 0.75}, {Name: "Uniform", Prob: 0.25}}, job.Opponent)

	held, err := locks[strategy.Defender].Held()
	require.NoError(t, err)
	assert.False(t, held)
}

func TestJobScopesOpponentPolicies(t *testing.T) {
	runDir := t.TempDir()
	tr, _ := newTestTrainer(t, runDir, writeScript(t, writesArtifact), "{job}")
	req := request(strategy.Defender)
	runA := strategy.NewPolicy("runA", strategy.Attacker, 1, 0)
	runB := strategy.NewPolicy("runB", strategy.Attacker, 1, 0)
	req.Opponent = strategy.Mixture{runA.Name: 0.5, runB.Name: 0.3, "Uniform": 0.2}

	p, err := tr.Train(context.Background(), req)
	require.NoError(t, err)
	data, err := os.ReadFile(ArtifactPath(runDir, p.Name))
	require.NoError(t, err)
	job, err := DecodeJob(bytes.NewReader(data))
	require.NoError(t, err)

	require.Len(t, job.Opponent, 3)
	byName := map[string]Opponent{}
	for _, o := range job.Opponent {
		byName[o.Name] = o
	}
	assert.Equal(t, "runA_attacker_e1", byName[runA.Name].Scope)
	assert.Equal(t, "runB_attacker_e1", byName[runB.Name].Scope)
	assert.NotEqual(t, byName[runA.Name].Scope, byName[runB.Name].Scope)
	assert.Equal(t, ArtifactPath(runDir, runB.Name), byName[runB.Name].Path)
	assert.Equal(t, 0.3, byName[runB.Name].Prob)
	assert.Empty(t, byName["Uniform"].Scope)
	assert.Empty(t, byName["Uniform"].Path)
}

func TestTrainReusesArtifact(t *testing.T) {
	runDir := t.TempDir()
	tr, _ := newTestTrainer(t, runDir, "false")
	req := request(strategy.Attacker)
	path := ArtifactPath(runDir, req.Policy.Name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("policy"), 0o644))

	p, err := tr.Train(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Policy, p)
}

func TestTrainMissingArtifact(t *testing.T) {
	tr, _ := newTestTrainer(t, t.TempDir(), "true")
	_, err := tr.Train(context.Background(), request(strategy.Attacker))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrMissingArtifact))
}

func TestTrainFailure(t *testing.T) {
	tr, _ := newTestTrainer(t, t.TempDir(), writeScript(t, "echo 'CUDA out of memory' >&2\nexit 3\n"))
	_, err := tr.Train(context.Background(), request(strategy.Defender))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrTrainerFailure))
	assert.Contains(t, err.Error(), "CUDA out of memory")
	assert.Contains(t, err.Error(), "run_d_epoch1.pkl")
}

func TestTrainRejectsHeuristic(t *testing.T) {
	tr, _ := newTestTrainer(t, t.TempDir(), "true")
	req := request(strategy.Defender)
	req.Policy = strategy.NewHeuristic(strategy.Defender, "RootOnly")
	_, err := tr.Train(context.Background(), req)
	assert.True(t, errors.Is(err, fault.ErrInvariant))
}

func TestCheckArtifacts(t *testing.T) {
	runDir := t.TempDir()
	have := strategy.NewPolicy("run", strategy.Defender, 1, 0)
	gone := strategy.NewPolicy("run", strategy.Defender, 2, 0)
	require.NoError(t, os.MkdirAll(PolicyDir(runDir), 0o755))
	require.NoError(t, os.WriteFile(ArtifactPath(runDir, have.Name), nil, 0o644))

	missing, err := CheckArtifacts(runDir, []strategy.Strategy{
		strategy.NewHeuristic(strategy.Defender, "RootOnly"), have, gone,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{gone.Name}, missing)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())
	assert.Equal(t, DefaultOptions(), Options{}.WithDefaults())

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"lr", func(o *Options) { o.LR = -1 }},
		{"buffer", func(o *Options) { o.BufferSize = -5 }},
		{"exploration", func(o *Options) { o.ExplorationFraction = 1.5 }},
		{"final eps", func(o *Options) { o.FinalEps = -0.1 }},
		{"gamma", func(o *Options) { o.Gamma = 2 }},
		{"window", func(o *Options) { o.EpMeanLength = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			assert.Error(t, o.Validate())
		})
	}
}

func TestJobRoundTrip(t *testing.T) {
	job := &Job{Options: DefaultOptions(), Scope: "run_attacker_e3_r1", Role: "attacker", Steps: 10, Port: 9000, Init: "run_a_epoch2.pkl"}
	var buf bytes.Buffer
	require.NoError(t, job.Encode(&buf))
	assert.Contains(t, buf.String(), `scope = "run_attacker_e3_r1"`)
	assert.Contains(t, buf.String(), "buffer_size = 30000")

	back, err := DecodeJob(&buf)
	require.NoError(t, err)
	assert.Equal(t, job, back)
}
