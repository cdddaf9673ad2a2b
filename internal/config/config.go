// Package config loads the HCL run configuration of an EGTA experiment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/egta/internal/hado"
	"github.com/lox/egta/internal/portlock"
	"github.com/lox/egta/internal/simulator"
	"github.com/lox/egta/internal/strategy"
	"github.com/lox/egta/internal/trainer"
)

// Solver names.
const (
	SolverLCP        = "lcp"
	SolverFictitious = "fictitious"
)

// Config is one run's configuration file.
type Config struct {
	GameNumber    int    `hcl:"game_number"`
	EnvShortName  string `hcl:"env_short_name"`
	GraphName     string `hcl:"graph_name,optional"`
	EnvNameDefNet string `hcl:"env_name_def_net"`
	EnvNameAttNet string `hcl:"env_name_att_net"`
	EnvNameBoth   string `hcl:"env_name_both"`

	NewColCount     int `hcl:"new_col_count"`
	MaxTimestepsDef int `hcl:"max_timesteps_def"`
	MaxTimestepsAtt int `hcl:"max_timesteps_att"`
	MaxNewRounds    int `hcl:"max_new_rounds,optional"`
	NewEvalCount    int `hcl:"new_eval_count"`
	TrainStepsDef   int `hcl:"train_steps_def,optional"`
	TrainStepsAtt   int `hcl:"train_steps_att,optional"`

	PortLockName   string `hcl:"port_lock_name"`
	BasePort       int    `hcl:"base_port"`
	PortStride     int    `hcl:"port_stride,optional"`
	PortRange      int    `hcl:"port_range,optional"`
	PortLaneStride int    `hcl:"port_lane_stride,optional"`

	RunDir      string `hcl:"run_dir,optional"`
	RunName     string `hcl:"run_name,optional"`
	InitialGame string `hcl:"initial_game,optional"`
	Seed        int64  `hcl:"seed,optional"`

	Epsilon             float64 `hcl:"epsilon,optional"`
	OldStrategyDiscount float64 `hcl:"old_strategy_discount,optional"`
	DiscountFloor       float64 `hcl:"discount_floor,optional"`

	Solver               string   `hcl:"solver,optional"`
	SolverCmd            []string `hcl:"solver_cmd,optional"`
	SolverTimeoutSeconds int      `hcl:"solver_timeout_seconds,optional"`
	FictitiousIterations int      `hcl:"fictitious_iterations,optional"`

	SimulatorCmd []string `hcl:"simulator_cmd,optional"`
	TrainerCmd   []string `hcl:"trainer_cmd,optional"`
	GraceSeconds int      `hcl:"grace_seconds,optional"`

	HADORoles []string `hcl:"hado_roles,optional"`

	Trainer *trainer.Options `hcl:"trainer,block"`
	HADO    *hado.Config     `hcl:"hado,block"`
}

// Load parses filename and applies defaults. Paths in the file are relative
// to its directory.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, nil, &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	cfg.ApplyDefaults()
	base := filepath.Dir(filename)
	for _, p := range []*string{&cfg.RunDir, &cfg.InitialGame} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	return &cfg, nil
}

// ApplyDefaults fills every optional setting left unset.
func (c *Config) ApplyDefaults() {
	if c.MaxNewRounds == 0 {
		c.MaxNewRounds = 10
	}
	if c.TrainStepsDef == 0 {
		c.TrainStepsDef = 700000
	}
	if c.TrainStepsAtt == 0 {
		c.TrainStepsAtt = 700000
	}
	if c.PortRange == 0 {
		c.PortRange = 100
	}
	if c.PortLaneStride == 0 {
		c.PortLaneStride = c.PortRange
	}
	if c.RunName == "" {
		c.RunName = fmt.Sprintf("game%d", c.GameNumber)
	}
	if c.RunDir == "" {
		c.RunDir = filepath.Join("runs", c.RunName)
	}
	if c.DiscountFloor == 0 {
		c.DiscountFloor = 1e-3
	}
	if c.Solver == "" {
		c.Solver = SolverLCP
	}
	if len(c.SolverCmd) == 0 {
		c.SolverCmd = []string{"gambit-lcp", "-q", "-d", "8"}
	}
	if c.SolverTimeoutSeconds == 0 {
		c.SolverTimeoutSeconds = 3600
	}
	if c.FictitiousIterations == 0 {
		c.FictitiousIterations = 100000
	}
	if c.GraceSeconds == 0 {
		c.GraceSeconds = 5
	}
	if c.Trainer == nil {
		c.Trainer = &trainer.Options{}
	}
	*c.Trainer = c.Trainer.WithDefaults()
	if c.HADO != nil {
		*c.HADO = c.HADO.WithDefaults()
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.EnvShortName == "" || c.EnvNameDefNet == "" || c.EnvNameAttNet == "" || c.EnvNameBoth == "":
		return fmt.Errorf("env_short_name, env_name_def_net, env_name_att_net and env_name_both are required")
	case c.NewColCount <= 0:
		return fmt.Errorf("new_col_count must be positive")
	case c.NewEvalCount <= 0:
		return fmt.Errorf("new_eval_count must be positive")
	case c.MaxTimestepsDef <= 0 || c.MaxTimestepsAtt <= 0:
		return fmt.Errorf("max_timesteps_def and max_timesteps_att must be positive")
	case c.MaxNewRounds <= 0:
		return fmt.Errorf("max_new_rounds must be positive")
	case c.TrainStepsDef <= 0 || c.TrainStepsAtt <= 0:
		return fmt.Errorf("train steps must be positive")
	case c.PortLockName == "":
		return fmt.Errorf("port_lock_name is required")
	case c.InitialGame == "":
		return fmt.Errorf("initial_game is required")
	case c.Epsilon < 0:
		return fmt.Errorf("epsilon must be non-negative")
	case c.OldStrategyDiscount < 0 || c.OldStrategyDiscount > 1:
		return fmt.Errorf("old_strategy_discount must be in (0,1], or 0 to disable blending")
	case c.DiscountFloor < 0 || c.DiscountFloor >= 1:
		return fmt.Errorf("discount_floor must be in [0,1)")
	case c.Solver != SolverLCP && c.Solver != SolverFictitious:
		return fmt.Errorf("solver must be %q or %q, got %q", SolverLCP, SolverFictitious, c.Solver)
	case c.SolverTimeoutSeconds <= 0:
		return fmt.Errorf("solver_timeout_seconds must be positive")
	case c.GraceSeconds < 0:
		return fmt.Errorf("grace_seconds must be non-negative")
	}
	if err := c.Plan().Validate(); err != nil {
		return err
	}
	if err := c.Trainer.Validate(); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}

	roles, err := c.HADORoleSet()
	if err != nil {
		return err
	}
	if len(roles) > 0 {
		if c.HADO == nil {
			return fmt.Errorf("hado_roles set without a hado block")
		}
		if err := c.HADO.Validate(); err != nil {
			return err
		}
		for role := range roles {
			if _, ok := c.HADO.FamilyFor(role); !ok {
				return fmt.Errorf("no hado family for %s", role)
			}
		}
	}
	return nil
}

// HADORoleSet returns the roles searched by annealing instead of training.
func (c *Config) HADORoleSet() (map[strategy.Role]bool, error) {
	roles := map[strategy.Role]bool{}
	for _, name := range c.HADORoles {
		role, err := strategy.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("hado_roles: %w", err)
		}
		roles[role] = true
	}
	return roles, nil
}

// Plan is the port plan of the run.
func (c *Config) Plan() portlock.Plan {
	return portlock.Plan{
		Base:       c.BasePort,
		Stride:     c.PortStride,
		Range:      c.PortRange,
		LaneStride: c.PortLaneStride,
	}
}

// Envs maps sampler modes to simulator environments.
func (c *Config) Envs() simulator.EnvNames {
	return simulator.EnvNames{
		NoNet:   c.EnvShortName,
		DefNet:  c.EnvNameDefNet,
		AttNet:  c.EnvNameAttNet,
		BothNet: c.EnvNameBoth,
	}
}

// TrainEnvs is the environment each role trains in: the net-driven side
// against a mixture of the opponent's strategies.
func (c *Config) TrainEnvs() map[strategy.Role]string {
	return map[strategy.Role]string{
		strategy.Defender: c.EnvNameDefNet,
		strategy.Attacker: c.EnvNameAttNet,
	}
}

// MaxTimesteps returns the per-role episode length.
func (c *Config) MaxTimesteps() map[strategy.Role]int {
	return map[strategy.Role]int{
		strategy.Defender: c.MaxTimestepsDef,
		strategy.Attacker: c.MaxTimestepsAtt,
	}
}

// TrainSteps returns the step budget of role.
func (c *Config) TrainSteps(role strategy.Role) int {
	if role == strategy.Defender {
		return c.TrainStepsDef
	}
	return c.TrainStepsAtt
}

// SolverTimeout is the equilibrium solver's wall-clock limit.
func (c *Config) SolverTimeout() time.Duration {
	return time.Duration(c.SolverTimeoutSeconds) * time.Second
}

// Grace is how long stopped subprocesses may finish their episodes.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// LocksDir holds the run's port-lock files.
func (c *Config) LocksDir() string {
	return filepath.Join(c.RunDir, "locks")
}
