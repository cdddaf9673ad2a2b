package main

import (
	"fmt"
	"path/filepath"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/egta/internal/config"
	"github.com/lox/egta/internal/equilibrium"
	"github.com/lox/egta/internal/portlock"
	"github.com/lox/egta/internal/psro"
	"github.com/lox/egta/internal/simulator"
	"github.com/lox/egta/internal/spawner"
	"github.com/lox/egta/internal/strategy"
	"github.com/lox/egta/internal/trainer"
)

// stack holds the subprocess-backed components of one run.
type stack struct {
	group    *spawner.Group
	samplers map[strategy.Role]simulator.Sampler
	trainer  trainer.Trainer
	solver   equilibrium.Solver
}

func newSolver(cfg *config.Config, logger zerolog.Logger) equilibrium.Solver {
	if cfg.Solver == config.SolverFictitious {
		return &equilibrium.FictitiousPlaySolver{
			Iterations: cfg.FictitiousIterations,
			Seed:       cfg.Seed,
			Logger:     logger,
		}
	}
	return &equilibrium.LCPSolver{
		Command: cfg.SolverCmd,
		Timeout: cfg.SolverTimeout(),
		WorkDir: filepath.Join(cfg.RunDir, "work"),
		Logger:  logger,
	}
}

// buildStack wires samplers on the evaluation lanes and, when some role is
// trained, the trainer on the training lanes. hadoRoles never train.
func buildStack(cfg *config.Config, hadoRoles map[strategy.Role]bool, clock quartz.Clock, logger zerolog.Logger) (*stack, error) {
	st := &stack{
		group:    spawner.NewGroup(clock, logger),
		samplers: map[strategy.Role]simulator.Sampler{},
		solver:   newSolver(cfg, logger),
	}
	steps := cfg.MaxTimesteps()
	for _, role := range strategy.Roles {
		s, err := simulator.NewProcessSampler(simulator.ProcessConfig{
			Command:     cfg.SimulatorCmd,
			Envs:        cfg.Envs(),
			PolicyDir:   trainer.PolicyDir(cfg.RunDir),
			MaxTimestep: steps[role],
			Seed:        cfg.Seed,
			Role:        role,
			Plan:        cfg.Plan(),
			Lock:        portlock.New(cfg.LocksDir(), cfg.PortLockName, role, portlock.Eval, clock, logger),
			Group:       st.group,
			Grace:       cfg.Grace(),
			Clock:       clock,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%s sampler: %w", role, err)
		}
		st.samplers[role] = s
	}

	if len(hadoRoles) == len(strategy.Roles) {
		return st, nil
	}
	locks := map[strategy.Role]*portlock.Lock{}
	for _, role := range strategy.Roles {
		locks[role] = portlock.New(cfg.LocksDir(), cfg.PortLockName, role, portlock.Train, clock, logger)
	}
	t, err := trainer.NewProcessTrainer(trainer.ProcessConfig{
		Command:      cfg.TrainerCmd,
		RunDir:       cfg.RunDir,
		Options:      *cfg.Trainer,
		Envs:         cfg.TrainEnvs(),
		MaxTimesteps: steps,
		Seed:         cfg.Seed,
		Plan:         cfg.Plan(),
		Locks:        locks,
		Group:        st.group,
		Grace:        cfg.Grace(),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	st.trainer = t
	return st, nil
}

// driverConfig maps the run configuration onto the driver.
func driverConfig(cfg *config.Config, hadoRoles map[strategy.Role]bool, st *stack) psro.Config {
	return psro.Config{
		RunDir:        cfg.RunDir,
		RunName:       cfg.RunName,
		InitialGame:   cfg.InitialGame,
		MaxRounds:     cfg.MaxNewRounds,
		NewColCount:   cfg.NewColCount,
		NewEvalCount:  cfg.NewEvalCount,
		TrainSteps:    map[strategy.Role]int{strategy.Defender: cfg.TrainSteps(strategy.Defender), strategy.Attacker: cfg.TrainSteps(strategy.Attacker)},
		Epsilon:       cfg.Epsilon,
		Discount:      cfg.OldStrategyDiscount,
		DiscountFloor: cfg.DiscountFloor,
		Seed:          cfg.Seed,
		HADO:          cfg.HADO,
		HADORoles:     hadoRoles,
		Solver:        st.solver,
		Samplers:      st.samplers,
		Trainer:       st.trainer,
	}
}
