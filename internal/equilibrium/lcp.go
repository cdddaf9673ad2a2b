package equilibrium

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/strategy"
)

// DefaultTimeout bounds one solver invocation.
const DefaultTimeout = time.Hour

// LCPSolver runs an external Lemke-Howson solver (gambit-lcp style) on the
// game written as an NFG file and parses its first equilibrium.
type LCPSolver struct {
	// Command is the solver argv; the NFG path is appended.
	Command []string
	Timeout time.Duration
	// WorkDir receives the NFG file. Empty uses the system temp dir.
	WorkDir string
	Logger  zerolog.Logger
}

func (s *LCPSolver) Solve(ctx context.Context, g *empirical.Game) (strategy.Equilibrium, error) {
	if err := checkSolvable(g); err != nil {
		return strategy.Equilibrium{}, err
	}
	if eq, ok := trivial(g); ok {
		s.Logger.Debug().Msg("Single strategy per role, skipping solver")
		return eq, nil
	}
	if len(s.Command) == 0 {
		return strategy.Equilibrium{}, fmt.Errorf("solver command not configured")
	}

	layout := DefaultLayout(g)
	var nfg bytes.Buffer
	if err := WriteNFG(&nfg, g, layout); err != nil {
		return strategy.Equilibrium{}, err
	}
	f, err := os.CreateTemp(s.WorkDir, "game-*.nfg")
	if err != nil {
		return strategy.Equilibrium{}, fmt.Errorf("failed to create solver input: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(nfg.Bytes()); err != nil {
		f.Close()
		return strategy.Equilibrium{}, fmt.Errorf("failed to write solver input: %w", err)
	}
	if err := f.Close(); err != nil {
		return strategy.Equilibrium{}, fmt.Errorf("failed to write solver input: %w", err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, s.Command[1:]...), f.Name())
	cmd := exec.CommandContext(runCtx, s.Command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit stdout must not hold Wait past the deadline.
	cmd.WaitDelay = time.Second

	start := time.Now()
	s.Logger.Debug().
		Str("command", strings.Join(s.Command, " ")).
		Int("defenders", len(layout.Strategies[0])).
		Int("attackers", len(layout.Strategies[1])).
		Dur("timeout", timeout).
		Msg("Running equilibrium solver")
	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		s.Logger.Warn().Dur("elapsed", time.Since(start)).Int("output_bytes", stdout.Len()).Msg("Solver timed out, parsing partial output")
		eq, err := ParseSolution(stdout.Bytes(), layout)
		if err != nil {
			return strategy.Equilibrium{}, fault.New(fault.ErrSolverTimeout, "solver", s.Command[0], "no solution within %s", timeout)
		}
		return eq, nil
	}
	if err := ctx.Err(); err != nil {
		return strategy.Equilibrium{}, err
	}
	if runErr != nil {
		return strategy.Equilibrium{}, fault.New(fault.ErrSolverParse, "solver", s.Command[0], "%v: %s", runErr, strings.TrimSpace(stderr.String()))
	}

	eq, err := ParseSolution(stdout.Bytes(), layout)
	if err != nil {
		return strategy.Equilibrium{}, err
	}
	s.Logger.Debug().Dur("elapsed", time.Since(start)).Msg("Solver finished")
	return eq, nil
}
