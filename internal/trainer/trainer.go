package trainer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/fileutil"
	"github.com/lox/egta/internal/portlock"
	"github.com/lox/egta/internal/randutil"
	"github.com/lox/egta/internal/spawner"
	"github.com/lox/egta/internal/strategy"
)

// Request asks for a best response to Opponent.
type Request struct {
	// Policy is the learned policy to produce; its name fixes the artifact path.
	Policy   strategy.Strategy
	Opponent strategy.Mixture
	Steps    int
	Round    int
	// Init optionally names a policy to warm-start from.
	Init string
}

// Trainer produces learned policies.
type Trainer interface {
	Train(ctx context.Context, req Request) (strategy.Strategy, error)
}

// Func adapts a function to Trainer.
type Func func(ctx context.Context, req Request) (strategy.Strategy, error)

func (f Func) Train(ctx context.Context, req Request) (strategy.Strategy, error) {
	return f(ctx, req)
}

// PolicyDir is where a run keeps its learned policy artifacts.
func PolicyDir(runDir string) string {
	return filepath.Join(runDir, "policies")
}

// ArtifactPath returns the artifact of the named policy.
func ArtifactPath(runDir, name string) string {
	return filepath.Join(PolicyDir(runDir), name)
}

// ProcessConfig configures a ProcessTrainer.
type ProcessConfig struct {
	// Command is the trainer argv; "{job}" in any argument is replaced by the
	// job file path, which is also exported as EGTA_TRAIN_JOB.
	Command []string
	RunDir  string
	Options Options
	// Envs names the simulator environment each role trains in.
	Envs         map[strategy.Role]string
	MaxTimesteps map[strategy.Role]int
	Seed         int64

	Plan  portlock.Plan
	Locks map[strategy.Role]*portlock.Lock
	Group *spawner.Group
	Grace time.Duration

	Logger zerolog.Logger
}

// ProcessTrainer runs one trainer subprocess per request on the role's
// training lane.
type ProcessTrainer struct {
	cfg    ProcessConfig
	logger zerolog.Logger
}

// NewProcessTrainer validates cfg and returns a trainer.
func NewProcessTrainer(cfg ProcessConfig) (*ProcessTrainer, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("trainer command not configured")
	}
	if cfg.Group == nil {
		return nil, fmt.Errorf("trainer needs a process group")
	}
	for _, role := range strategy.Roles {
		if cfg.Locks[role] == nil {
			return nil, fmt.Errorf("no training port lock for %s", role)
		}
	}
	cfg.Options = cfg.Options.WithDefaults()
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	return &ProcessTrainer{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "trainer").Logger(),
	}, nil
}

// Train returns the artifact named by req.Policy, training it first unless a
// previous run already wrote it.
func (t *ProcessTrainer) Train(ctx context.Context, req Request) (strategy.Strategy, error) {
	p := req.Policy
	if !p.IsPolicy() {
		return strategy.Strategy{}, fault.New(fault.ErrInvariant, "trainer", p.Name, "not a learned policy")
	}
	log := t.logger.With().Str("policy", p.Name).Str("role", string(p.Role)).Logger()

	artifact := ArtifactPath(t.cfg.RunDir, p.Name)
	exists, err := fileutil.Exists(artifact)
	if err != nil {
		return strategy.Strategy{}, err
	}
	if exists {
		log.Info().Msg("Reusing existing policy artifact")
		return p, nil
	}

	jobPath, err := t.prepare(req, artifact)
	if err != nil {
		return strategy.Strategy{}, err
	}

	lock := t.cfg.Locks[p.Role]
	if err := lock.Acquire(ctx); err != nil {
		return strategy.Strategy{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Error().Err(err).Msg("Failed to release port lock")
		}
	}()

	args := make([]string, 0, len(t.cfg.Command)-1)
	for _, a := range t.cfg.Command[1:] {
		args = append(args, strings.ReplaceAll(a, "{job}", jobPath))
	}
	start := time.Now()
	log.Info().Int("steps", req.Steps).Int("opponents", len(req.Opponent.Support())).Msg("Training best response")
	proc, err := t.cfg.Group.Start(ctx, spawner.Spec{
		Command: t.cfg.Command[0],
		Args:    args,
		Env:     map[string]string{"EGTA_TRAIN_JOB": jobPath},
		Dir:     filepath.Dir(jobPath),
		Label:   "trainer-" + string(p.Role),
		Grace:   t.cfg.Grace,
	})
	if err != nil {
		return strategy.Strategy{}, fault.Wrap(fault.ErrTrainerFailure, "trainer", p.Name, err)
	}

	if err := proc.Wait(); err != nil {
		if ctx.Err() != nil {
			return strategy.Strategy{}, ctx.Err()
		}
		detail := err.Error()
		if tail := proc.Tail(); tail != "" {
			detail += "\n" + tail
		}
		return strategy.Strategy{}, fault.New(fault.ErrTrainerFailure, "trainer", p.Name, "%s", detail)
	}

	exists, err = fileutil.Exists(artifact)
	if err != nil {
		return strategy.Strategy{}, err
	}
	if !exists {
		return strategy.Strategy{}, fault.New(fault.ErrMissingArtifact, "trainer", p.Name, "trainer exited without writing %s", artifact)
	}
	log.Info().Dur("duration", time.Since(start)).Msg("Training complete")
	return p, nil
}

// prepare writes the opponent mixture and the job file and returns the job path.
func (t *ProcessTrainer) prepare(req Request, artifact string) (string, error) {
	p := req.Policy
	work := filepath.Join(t.cfg.RunDir, "work", strings.TrimSuffix(p.Name, filepath.Ext(p.Name)))
	if err := os.MkdirAll(work, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		return "", fmt.Errorf("failed to create policy directory: %w", err)
	}
	if err := req.Opponent.Validate(); err != nil {
		return "", err
	}

	opponents := filepath.Join(work, "opponents.tsv")
	if err := strategy.WriteMixtureFile(opponents, req.Opponent.Support(), req.Opponent); err != nil {
		return "", err
	}

	var opps []Opponent
	for _, name := range req.Opponent.Support() {
		s, err := strategy.Parse(p.Role.Other(), name)
		if err != nil {
			return "", err
		}
		o := Opponent{Name: name, Prob: req.Opponent[name]}
		if s.IsPolicy() {
			o.Scope = s.Scope
			o.Path = ArtifactPath(t.cfg.RunDir, name)
		}
		opps = append(opps, o)
	}

	env := t.cfg.Envs[p.Role]
	if env == "" {
		return "", fmt.Errorf("no training environment configured for %s", p.Role)
	}
	job := &Job{
		Options:      t.cfg.Options,
		Scope:        p.Scope,
		Role:         string(p.Role),
		Steps:        req.Steps,
		MaxTimesteps: t.cfg.MaxTimesteps[p.Role],
		Env:          env,
		Port:         t.cfg.Plan.Port(p.Role, portlock.Train, req.Round),
		Seed:         randutil.DeriveSeed(t.cfg.Seed, "train", p.Name),
		Opponents:    opponents,
		PolicyDir:    PolicyDir(t.cfg.RunDir),
		Output:       artifact,
		Init:         req.Init,
		Opponent:     opps,
	}
	jobPath := filepath.Join(work, "job.toml")
	if err := WriteJobFile(jobPath, job); err != nil {
		return "", err
	}
	return jobPath, nil
}

// CheckArtifacts returns the names among policies whose artifact is missing.
func CheckArtifacts(runDir string, policies []strategy.Strategy) ([]string, error) {
	var missing []string
	for _, p := range policies {
		if !p.IsPolicy() {
			continue
		}
		ok, err := fileutil.Exists(ArtifactPath(runDir, p.Name))
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", p.Name, err)
		}
		if !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing, nil
}
