package main

import (
	"fmt"
	"os"

	"github.com/lox/egta/cmd/egta/shared"
	"github.com/lox/egta/internal/config"
	"github.com/lox/egta/internal/psro"
	"github.com/lox/egta/internal/strategy"
)

// RunFlags are the configuration file and its command-line overrides.
type RunFlags struct {
	Config       string `arg:"" type:"existingfile" help:"Run configuration (HCL)"`
	RunDir       string `kong:"name='run-dir',help='Override run_dir'"`
	Seed         *int64 `kong:"help='Override seed'"`
	MaxNewRounds int    `kong:"name='max-new-rounds',help='Override max_new_rounds'"`
}

// load reads the configuration, applies the overrides and validates it.
// Non-empty hadoRoles replaces hado_roles.
func (f *RunFlags) load(hadoRoles []string) (*config.Config, error) {
	cfg, err := config.Load(f.Config)
	if err != nil {
		return nil, err
	}
	if f.RunDir != "" {
		cfg.RunDir = f.RunDir
	}
	if f.Seed != nil {
		cfg.Seed = *f.Seed
	}
	if f.MaxNewRounds > 0 {
		cfg.MaxNewRounds = f.MaxNewRounds
	}
	if len(hadoRoles) > 0 {
		cfg.HADORoles = hadoRoles
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Config, err)
	}
	return cfg, nil
}

// RunCmd runs the loop with trained best responses, annealing only the roles
// listed in hado_roles.
type RunCmd struct {
	RunFlags `embed:""`
}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := c.load(nil)
	if err != nil {
		return err
	}
	return execute(g, cfg)
}

// HadoCmd runs the loop with annealed heuristic responses for the chosen roles.
type HadoCmd struct {
	RunFlags `embed:""`
	Role []string `kong:"help='Role searched by annealing (repeatable; defaults to hado_roles, else attacker)'"`
}

func (c *HadoCmd) Run(g *Globals) error {
	roles := c.Role
	if len(roles) == 0 {
		cfg, err := config.Load(c.Config)
		if err != nil {
			return err
		}
		if roles = cfg.HADORoles; len(roles) == 0 {
			roles = []string{string(strategy.Attacker)}
		}
	}
	cfg, err := c.load(roles)
	if err != nil {
		return err
	}
	return execute(g, cfg)
}

func execute(g *Globals, cfg *config.Config) error {
	logger := g.logger()
	ctx, stop := shared.SetupSignalHandler(logger)
	defer stop()

	hadoRoles, err := cfg.HADORoleSet()
	if err != nil {
		return err
	}
	st, err := buildStack(cfg, hadoRoles, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.group.StopAll(); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop subprocesses")
		}
	}()

	dc := driverConfig(cfg, hadoRoles, st)
	dc.Progress = g.progress()
	dc.Logger = logger
	d, err := psro.New(dc)
	if err != nil {
		return err
	}

	logger.Info().
		Str("run", cfg.RunName).
		Str("run_dir", cfg.RunDir).
		Int("max_new_rounds", cfg.MaxNewRounds).
		Int64("seed", cfg.Seed).
		Strs("hado_roles", cfg.HADORoles).
		Msg("Starting run")

	res, runErr := d.Run(ctx)
	if err := writeSummary(os.Stdout, g.NoColor, cfg.RunName, res); err != nil {
		logger.Warn().Err(err).Msg("Failed to write summary")
	}
	return runErr
}
