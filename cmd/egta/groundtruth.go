package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/lox/egta/cmd/egta/shared"
	"github.com/lox/egta/internal/config"
	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/equilibrium"
	"github.com/lox/egta/internal/evaluator"
	"github.com/lox/egta/internal/fileutil"
	"github.com/lox/egta/internal/hado"
	"github.com/lox/egta/internal/psro"
	"github.com/lox/egta/internal/simulator"
	"github.com/lox/egta/internal/strategy"
)

// GroundTruthCmd repeats the annealing search of one role against a recorded
// equilibrium and reports how often it finds a beneficial deviation.
type GroundTruthCmd struct {
	RunFlags `embed:""`
	Role     string `kong:"required,enum='defender,attacker',help='Role to search'"`
	Epoch    *int   `kong:"help='Game epoch to test (defaults to the newest game file)'"`
}

func (c *GroundTruthCmd) Run(g *Globals) error {
	cfg, err := c.load(nil)
	if err != nil {
		return err
	}
	role, err := strategy.ParseRole(c.Role)
	if err != nil {
		return err
	}
	if cfg.HADO == nil {
		return fmt.Errorf("%s has no hado block", c.Config)
	}
	if _, ok := cfg.HADO.FamilyFor(role); !ok {
		return fmt.Errorf("no hado family for %s", role)
	}

	logger := g.logger()
	ctx, stop := shared.SetupSignalHandler(logger)
	defer stop()

	epoch, err := c.epoch(cfg)
	if err != nil {
		return err
	}
	game, err := empirical.Load(psro.GamePath(cfg.RunDir, epoch))
	if err != nil {
		return err
	}
	eq, err := recordedEquilibrium(ctx, cfg, epoch, game, logger)
	if err != nil {
		return err
	}

	all := map[strategy.Role]bool{strategy.Defender: true, strategy.Attacker: true}
	st, err := buildStack(cfg, all, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.group.StopAll(); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop subprocesses")
		}
	}()

	gt, eqPayoff, err := groundTruth(ctx, cfg, role, game, eq, st.samplers[role], logger)
	if err != nil {
		return err
	}
	return writeGroundTruth(os.Stdout, role, epoch, eqPayoff, cfg.HADO.MaxP, gt)
}

// epoch is the requested epoch, or the newest one with a game file.
func (c *GroundTruthCmd) epoch(cfg *config.Config) (int, error) {
	if c.Epoch != nil {
		return *c.Epoch, nil
	}
	latest := -1
	for k := 0; ; k++ {
		ok, err := fileutil.Exists(psro.GamePath(cfg.RunDir, k))
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		latest = k
	}
	if latest < 0 {
		return 0, fmt.Errorf("no game file in %s", cfg.RunDir)
	}
	return latest, nil
}

// recordedEquilibrium reads the eq files of epoch, solving the game when
// they are missing.
func recordedEquilibrium(ctx context.Context, cfg *config.Config, epoch int, game *empirical.Game, logger zerolog.Logger) (strategy.Equilibrium, error) {
	var eq strategy.Equilibrium
	for _, role := range strategy.Roles {
		path := strategy.EquilibriumPath(cfg.RunDir, role, epoch)
		ok, err := fileutil.Exists(path)
		if err != nil {
			return strategy.Equilibrium{}, err
		}
		if !ok {
			logger.Info().Int("epoch", epoch).Msg("No recorded equilibrium, solving")
			return newSolver(cfg, logger).Solve(ctx, game)
		}
		m, _, err := strategy.ReadMixtureFile(path)
		if err != nil {
			return strategy.Equilibrium{}, err
		}
		if role == strategy.Defender {
			eq.Defender = m
		} else {
			eq.Attacker = m
		}
	}
	return eq, eq.Validate()
}

// groundTruth scores annealed heuristics of role against the opponent's
// equilibrium mixture with sampler and returns the estimate together with
// role's equilibrium payoff.
func groundTruth(ctx context.Context, cfg *config.Config, role strategy.Role, game *empirical.Game, eq strategy.Equilibrium, sampler simulator.Sampler, logger zerolog.Logger) (hado.GroundTruth, float64, error) {
	hc := *cfg.HADO
	family, ok := hc.FamilyFor(role)
	if !ok {
		return hado.GroundTruth{}, 0, fmt.Errorf("no hado family for %s", role)
	}
	eqPayoff, err := equilibrium.EquilibriumPayoff(game, eq, role)
	if err != nil {
		return hado.GroundTruth{}, 0, err
	}

	registry := strategy.NewRegistry()
	for _, r := range strategy.Roles {
		for _, name := range game.Strategies(r) {
			s, err := strategy.Parse(r, name)
			if err != nil {
				return hado.GroundTruth{}, 0, err
			}
			if err := registry.Restore(s); err != nil {
				return hado.GroundTruth{}, 0, err
			}
		}
	}

	ev := evaluator.New(sampler, registry, cfg.Seed, logger)
	opp := eq.For(role.Other())
	objective := func(ctx context.Context, s strategy.Strategy) (float64, error) {
		est, err := ev.Evaluate(ctx, s, opp, hc.SamplesPerParam, "ground-truth")
		return est.Mean, err
	}

	epsilon := hc.EpsilonTolerance
	if epsilon == 0 {
		epsilon = cfg.Epsilon
	}
	logger = logger.With().Str("role", string(role)).Logger()
	gt, err := hado.EstimateGroundTruth(ctx,
		hc.Annealer(family, objective, logger),
		eqPayoff, epsilon,
		hc.AnnealGroundTruthMin, hc.AnnealGroundTruthMax,
		hc.MaxP, hc.RoundAlpha(cfg.MaxNewRounds),
		cfg.Seed)
	if err != nil {
		return hado.GroundTruth{}, 0, err
	}
	return gt, eqPayoff, nil
}

func writeGroundTruth(w io.Writer, role strategy.Role, epoch int, eqPayoff, maxP float64, gt hado.GroundTruth) error {
	verdict := "inconclusive"
	switch {
	case gt.Upper <= maxP:
		verdict = "equilibrium holds"
	case gt.Lower > maxP:
		verdict = "beneficial deviation exists"
	}
	_, err := fmt.Fprintf(w, "%s epoch=%d eq_payoff=%.6f runs=%d beneficial=%d fraction=%.4f interval=[%.4f, %.4f] max_p=%.4f %s\n",
		role, epoch, eqPayoff, gt.Runs, gt.Beneficial, gt.Fraction, gt.Lower, gt.Upper, maxP, verdict)
	return err
}
