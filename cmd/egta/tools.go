package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/egta/cmd/egta/shared"
	"github.com/lox/egta/internal/config"
	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/equilibrium"
	"github.com/lox/egta/internal/fileutil"
	"github.com/lox/egta/internal/hado"
	"github.com/lox/egta/internal/strategy"
)

// SolveCmd prints the equilibrium of one game file.
type SolveCmd struct {
	Game       string        `arg:"" type:"existingfile" help:"Game file"`
	Solver     string        `kong:"default='lcp',enum='lcp,fictitious',help='Equilibrium solver'"`
	SolverCmd  []string      `name:"solver-cmd" default:"gambit-lcp -q -d 8" sep:" " help:"External solver argv"`
	Timeout    time.Duration `kong:"default='1h',help='Solver time limit'"`
	Iterations int           `kong:"default='100000',help='Fictitious play iterations'"`
	Seed       int64         `kong:"help='Fictitious play seed'"`
}

func (c *SolveCmd) Run(g *Globals) error {
	logger := g.logger()
	ctx, stop := shared.SetupSignalHandler(logger)
	defer stop()
	return c.solve(ctx, os.Stdout, logger)
}

func (c *SolveCmd) solve(ctx context.Context, w io.Writer, logger zerolog.Logger) error {
	game, err := empirical.Load(c.Game)
	if err != nil {
		return err
	}
	var solver equilibrium.Solver = &equilibrium.LCPSolver{
		Command: c.SolverCmd,
		Timeout: c.Timeout,
		Logger:  logger,
	}
	if c.Solver == config.SolverFictitious {
		solver = &equilibrium.FictitiousPlaySolver{
			Iterations: c.Iterations,
			Seed:       c.Seed,
			Logger:     logger,
		}
	}
	eq, err := solver.Solve(ctx, game)
	if err != nil {
		return err
	}

	for _, role := range strategy.Roles {
		v, err := equilibrium.EquilibriumPayoff(game, eq, role)
		if err != nil {
			return err
		}
		regret, err := equilibrium.Regret(game, eq, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s payoff=%.6f regret=%.6f\n", role, v, regret)
		if err := strategy.EncodeMixture(w, game.Strategies(role), eq.For(role)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCmd checks game files against the schema and their invariants, and
// run configurations (.hcl) against their settings rules.
type ValidateCmd struct {
	Files []string `arg:"" type:"existingfile" help:"Game files or run configurations"`
}

func (c *ValidateCmd) Run(g *Globals) error {
	return c.validate(os.Stdout)
}

func (c *ValidateCmd) validate(w io.Writer) error {
	failed := 0
	for _, path := range c.Files {
		if err := validateFile(path); err != nil {
			fmt.Fprintf(w, "FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed validation", failed, len(c.Files))
	}
	return nil
}

func validateFile(path string) error {
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		return cfg.Validate()
	}
	g, err := empirical.Load(path)
	if err != nil {
		return err
	}
	if missing := g.Missing(); len(missing) > 0 {
		return fmt.Errorf("%d unsampled pairs, first %s", len(missing), missing[0])
	}
	return nil
}

// MergeCmd unions game files with the same roles into one file.
type MergeCmd struct {
	Inputs []string `arg:"" type:"existingfile" help:"Game files to merge"`
	Output string   `short:"o" required:"" help:"Merged game file"`
	Force  bool     `kong:"help='Overwrite an existing output file'"`
}

func (c *MergeCmd) Run(g *Globals) error {
	logger := g.logger()
	if len(c.Inputs) < 2 {
		return errors.New("merge needs at least two game files")
	}
	exists, err := fileutil.Exists(c.Output)
	if err != nil {
		return err
	}
	if exists && !c.Force {
		return fmt.Errorf("%s exists; pass --force to overwrite", c.Output)
	}

	sources := make([]empirical.Source, 0, len(c.Inputs))
	for _, path := range c.Inputs {
		game, err := empirical.Load(path)
		if err != nil {
			return err
		}
		sources = append(sources, empirical.Source{Name: filepath.Base(path), Game: game})
	}
	merged, err := empirical.Merge(sources...)
	if err != nil {
		return err
	}
	if err := merged.Save(c.Output); err != nil {
		return err
	}
	logger.Info().
		Str("output", c.Output).
		Int("defenders", len(merged.Strategies(strategy.Defender))).
		Int("attackers", len(merged.Strategies(strategy.Attacker))).
		Int("missing", len(merged.Missing())).
		Msg("Merged games")
	return nil
}

// GetNCmd prints how many annealing runs must fail before an equilibrium
// counts as confirmed.
type GetNCmd struct {
	MaxP           float64 `kong:"name='max-p',default='0.05',help='Largest tolerated chance that annealing misses a deviation'"`
	Alpha          float64 `kong:"help='Per-round error budget; derived from --error-tolerance and --rounds when unset'"`
	ErrorTolerance float64 `kong:"name='error-tolerance',default='0.1',help='Experiment-wide error budget'"`
	Rounds         int     `kong:"default='10',help='Rounds sharing the error budget'"`
}

func (c *GetNCmd) Run(g *Globals) error {
	return c.print(os.Stdout)
}

func (c *GetNCmd) print(w io.Writer) error {
	alpha := c.Alpha
	if alpha == 0 {
		if c.Rounds <= 0 {
			return errors.New("rounds must be positive")
		}
		alpha = hado.Config{ErrorTolerance: c.ErrorTolerance}.RoundAlpha(c.Rounds)
	}
	n, err := hado.GetN(c.MaxP, alpha)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d\n", n)
	return nil
}
