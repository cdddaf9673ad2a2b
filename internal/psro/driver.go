package psro

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lox/egta/internal/empirical"
	"github.com/lox/egta/internal/equilibrium"
	"github.com/lox/egta/internal/evaluator"
	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/fileutil"
	"github.com/lox/egta/internal/hado"
	"github.com/lox/egta/internal/simulator"
	"github.com/lox/egta/internal/strategy"
	"github.com/lox/egta/internal/trainer"
)

// Config wires a Driver.
type Config struct {
	RunDir  string
	RunName string
	// InitialGame seeds game_epoch0.json on a fresh run directory.
	InitialGame string

	MaxRounds    int
	NewColCount  int
	NewEvalCount int
	TrainSteps   map[strategy.Role]int
	Epsilon      float64
	// Discount > 0 trains against the geometric blend of past equilibria.
	Discount      float64
	DiscountFloor float64
	Seed          int64

	// HADORoles are searched by the annealing gate instead of trained.
	HADO      *hado.Config
	HADORoles map[strategy.Role]bool

	Solver   equilibrium.Solver
	Samplers map[strategy.Role]simulator.Sampler
	Trainer  trainer.Trainer

	// Progress receives one line per state transition.
	Progress *log.Logger
	Logger   zerolog.Logger
}

// Result is where a run stopped.
type Result struct {
	State State
	// Round is the last round entered; Epoch the epoch of the current game file.
	Round       int
	Epoch       int
	GamePath    string
	Equilibrium strategy.Equilibrium
	EqPayoffs   map[strategy.Role]float64
	Deviations  map[strategy.Role]Deviation
	Transitions []State
}

// Driver owns the registry and the game file of one run directory.
type Driver struct {
	cfg      Config
	logger   zerolog.Logger
	progress *log.Logger

	registry *strategy.Registry
	ledger   *Ledger
	game     *empirical.Game
	epoch    int
	evals    map[strategy.Role]*evaluator.Evaluator
	columns  *Columns
	result   Result
}

type roundSetter interface {
	SetRound(round int)
}

// New validates cfg and returns a driver.
func New(cfg Config) (*Driver, error) {
	switch {
	case cfg.RunDir == "" || cfg.RunName == "":
		return nil, fmt.Errorf("run directory and run name are required")
	case cfg.MaxRounds <= 0:
		return nil, fmt.Errorf("max rounds must be positive")
	case cfg.NewColCount <= 0 || cfg.NewEvalCount <= 0:
		return nil, fmt.Errorf("new_col_count and new_eval_count must be positive")
	case cfg.Epsilon < 0:
		return nil, fmt.Errorf("epsilon must be non-negative")
	case cfg.Solver == nil:
		return nil, fmt.Errorf("no equilibrium solver")
	}
	for _, role := range strategy.Roles {
		if cfg.Samplers[role] == nil {
			return nil, fmt.Errorf("no sampler for %s", role)
		}
		if cfg.HADORoles[role] {
			if cfg.HADO == nil {
				return nil, fmt.Errorf("%s is searched by annealing but no hado settings were given", role)
			}
			if _, ok := cfg.HADO.FamilyFor(role); !ok {
				return nil, fmt.Errorf("no hado family for %s", role)
			}
		} else {
			if cfg.Trainer == nil {
				return nil, fmt.Errorf("no trainer for %s", role)
			}
			if cfg.TrainSteps[role] <= 0 {
				return nil, fmt.Errorf("train steps for %s must be positive", role)
			}
		}
	}
	if cfg.Progress == nil {
		cfg.Progress = log.New(io.Discard)
	}

	logger := cfg.Logger.With().Str("component", "psro").Str("run", cfg.RunName).Logger()
	d := &Driver{
		cfg:      cfg,
		logger:   logger,
		progress: cfg.Progress,
		registry: strategy.NewRegistry(),
		evals:    map[strategy.Role]*evaluator.Evaluator{},
		columns:  &Columns{Samplers: cfg.Samplers, Count: cfg.NewColCount, Logger: logger},
	}
	for _, role := range strategy.Roles {
		d.evals[role] = evaluator.New(cfg.Samplers[role], d.registry, cfg.Seed, logger)
	}
	return d, nil
}

// Registry exposes the strategies known to the driver.
func (d *Driver) Registry() *strategy.Registry {
	return d.registry
}

// Run drives rounds until convergence or the round budget. Both terminal
// outcomes return a nil error; anything else is fatal and leaves the last
// written game file untouched.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	d.result = Result{EqPayoffs: map[strategy.Role]float64{}, Deviations: map[strategy.Role]Deviation{}}
	if err := d.init(ctx); err != nil {
		return d.fail(err)
	}

	for round := d.epoch + 1; ; round++ {
		if round > d.cfg.MaxRounds {
			d.enter(MaxRounds, "rounds", d.cfg.MaxRounds, "epoch", d.epoch)
			return d.finish(MaxRounds), nil
		}
		converged, err := d.round(ctx, round)
		if err != nil {
			return d.fail(err)
		}
		if converged {
			return d.finish(Converged), nil
		}
	}
}

func (d *Driver) enter(s State, keyvals ...any) {
	d.result.Transitions = append(d.result.Transitions, s)
	d.progress.Info(string(s), keyvals...)
	d.logger.Debug().Str("state", string(s)).Msg("State transition")
}

func (d *Driver) finish(s State) Result {
	d.result.State = s
	d.result.Epoch = d.epoch
	d.result.GamePath = GamePath(d.cfg.RunDir, d.epoch)
	return d.result
}

func (d *Driver) fail(err error) (Result, error) {
	d.enter(Fatal, "err", err)
	d.logger.Error().Err(err).Msg("Run failed")
	return d.finish(Fatal), err
}

func (d *Driver) ledgerPath() string {
	return filepath.Join(d.cfg.RunDir, LedgerFile)
}

// init finds the newest game file backed by the ledger, rebuilds the
// registry from it and reloads the recorded equilibria.
func (d *Driver) init(ctx context.Context) error {
	d.enter(Init, "run_dir", d.cfg.RunDir)
	if err := os.MkdirAll(d.cfg.RunDir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	ledger, err := LoadLedger(d.ledgerPath())
	if err != nil {
		return err
	}
	epoch := -1
	for k := ledger.Len(); k >= 0; k-- {
		ok, err := fileutil.Exists(GamePath(d.cfg.RunDir, k))
		if err != nil {
			return err
		}
		if ok {
			epoch = k
			break
		}
	}

	if epoch < 0 {
		if d.cfg.InitialGame == "" {
			return fmt.Errorf("no game file in %s and no initial game configured", d.cfg.RunDir)
		}
		g, err := empirical.Load(d.cfg.InitialGame)
		if err != nil {
			return err
		}
		if err := g.Save(GamePath(d.cfg.RunDir, 0)); err != nil {
			return err
		}
		epoch = 0
		d.logger.Info().Str("initial_game", d.cfg.InitialGame).Msg("Seeded run from initial game")
	}
	if epoch < ledger.Len() {
		d.logger.Warn().
			Int("ledger_rounds", ledger.Len()).
			Int("epoch", epoch).
			Msg("Discarding rounds without a game file")
		ledger.Truncate(epoch)
		if err := ledger.Save(d.ledgerPath()); err != nil {
			return err
		}
	}

	g, err := empirical.Load(GamePath(d.cfg.RunDir, epoch))
	if err != nil {
		return err
	}
	if missing := g.Missing(); len(missing) > 0 {
		return fault.New(fault.ErrInvariant, "psro", missing[0].String(), "game has %d unsampled pairs", len(missing))
	}
	for _, role := range strategy.Roles {
		for _, name := range g.Strategies(role) {
			s, err := strategy.Parse(role, name)
			if err != nil {
				return err
			}
			if err := d.registry.Restore(s); err != nil {
				return err
			}
		}
		for _, name := range ledger.Accepted(role) {
			if _, ok := d.registry.Get(role, name); !ok {
				return fault.New(fault.ErrInvariant, "psro", name, "accepted %s strategy missing from the game", role)
			}
			d.registry.MarkAccepted(role, name)
		}
	}
	d.game, d.ledger, d.epoch = g, ledger, epoch

	for t := 0; t < epoch; t++ {
		prev, err := empirical.Load(GamePath(d.cfg.RunDir, t))
		if err != nil {
			return fmt.Errorf("reloading equilibrium history: %w", err)
		}
		eq, err := d.solve(ctx, t, prev)
		if err != nil {
			return err
		}
		d.registry.RecordEquilibrium(eq)
	}

	for _, role := range strategy.Roles {
		missing, err := trainer.CheckArtifacts(d.cfg.RunDir, d.registry.Strategies(role))
		if err != nil {
			return err
		}
		for _, name := range missing {
			d.logger.Warn().Str("policy", name).Msg("Policy artifact missing; keeping its recorded payoffs")
		}
	}

	d.logger.Info().
		Int("epoch", epoch).
		Int("defenders", d.registry.Len(strategy.Defender)).
		Int("attackers", d.registry.Len(strategy.Attacker)).
		Msg("Loaded empirical game")
	return nil
}

// solve returns the equilibrium of epoch, reading it back when a previous
// attempt already recorded it.
func (d *Driver) solve(ctx context.Context, epoch int, g *empirical.Game) (strategy.Equilibrium, error) {
	eq, ok, err := d.loadEquilibrium(epoch, g)
	if err != nil || ok {
		return eq, err
	}

	eq, err = d.cfg.Solver.Solve(ctx, g)
	if err != nil {
		return strategy.Equilibrium{}, fmt.Errorf("solving epoch %d: %w", epoch, err)
	}
	if err := eq.Validate(); err != nil {
		return strategy.Equilibrium{}, fault.Wrap(fault.ErrInvariant, "psro", fmt.Sprintf("epoch %d", epoch), err)
	}
	for _, role := range strategy.Roles {
		path := strategy.EquilibriumPath(d.cfg.RunDir, role, epoch)
		if err := strategy.WriteMixtureFile(path, g.Strategies(role), eq.For(role)); err != nil {
			return strategy.Equilibrium{}, err
		}
	}
	return eq, nil
}

func (d *Driver) loadEquilibrium(epoch int, g *empirical.Game) (strategy.Equilibrium, bool, error) {
	var eq strategy.Equilibrium
	for _, role := range strategy.Roles {
		path := strategy.EquilibriumPath(d.cfg.RunDir, role, epoch)
		ok, err := fileutil.Exists(path)
		if err != nil || !ok {
			return strategy.Equilibrium{}, false, err
		}
		m, _, err := strategy.ReadMixtureFile(path)
		if err != nil {
			return strategy.Equilibrium{}, false, fault.Wrap(fault.ErrInvariant, "psro", filepath.Base(path), err)
		}
		for name := range m {
			if !g.HasStrategy(role, name) {
				return strategy.Equilibrium{}, false, fault.New(fault.ErrInvariant, "psro", filepath.Base(path), "strategy %q not in game", name)
			}
		}
		if role == strategy.Defender {
			eq.Defender = m
		} else {
			eq.Attacker = m
		}
	}
	d.logger.Debug().Int("epoch", epoch).Msg("Reusing recorded equilibrium")
	return eq, true, nil
}

// round runs one pass of the state machine and reports convergence.
func (d *Driver) round(ctx context.Context, round int) (bool, error) {
	d.result.Round = round
	for _, role := range strategy.Roles {
		if rs, ok := d.cfg.Samplers[role].(roundSetter); ok {
			rs.SetRound(round)
		}
	}

	d.enter(SolveEq, "round", round, "epoch", d.epoch)
	eq, err := d.solve(ctx, d.epoch, d.game)
	if err != nil {
		return false, err
	}
	if d.registry.Epochs() != d.epoch {
		return false, fault.New(fault.ErrInvariant, "psro", fmt.Sprintf("epoch %d", d.epoch), "registry holds %d equilibria", d.registry.Epochs())
	}
	d.registry.RecordEquilibrium(eq)
	d.result.Equilibrium = eq

	d.enter(EvalEqPayoffs, "round", round)
	eqPayoffs := map[strategy.Role]float64{}
	for _, role := range strategy.Roles {
		v, err := equilibrium.EquilibriumPayoff(d.game, eq, role)
		if err != nil {
			return false, err
		}
		regret, err := equilibrium.Regret(d.game, eq, role)
		if err != nil {
			return false, err
		}
		eqPayoffs[role] = v
		d.result.EqPayoffs[role] = v
		d.logger.Info().
			Str("role", string(role)).
			Float64("eq_payoff", v).
			Float64("regret", regret).
			Strs("support", eq.For(role).Support()).
			Msg("Equilibrium payoff")
	}

	d.enter(TrainBoth, "round", round)
	devs, err := d.respond(ctx, round, eq, eqPayoffs)
	if err != nil {
		return false, err
	}

	d.enter(TestDeviations, "round", round)
	var accepted []strategy.Strategy
	for _, role := range strategy.Roles {
		dev := devs[role]
		if !d.cfg.HADORoles[role] {
			est, err := d.evals[role].Evaluate(ctx, dev.Candidate, eq.For(role.Other()), d.cfg.NewEvalCount, "deviation", strconv.Itoa(round))
			if err != nil {
				return false, err
			}
			dev = Test(role, dev.Candidate, est.Mean, eqPayoffs[role], d.cfg.Epsilon)
			dev.StdErr = est.StdErr
			devs[role] = dev
		}
		d.result.Deviations[role] = dev
		d.progress.Info("deviation",
			"role", role,
			"candidate", dev.Candidate.Name,
			"value", dev.Value,
			"eq_payoff", dev.EqPayoff,
			"beneficial", dev.Beneficial)
		if dev.Beneficial {
			accepted = append(accepted, dev.Candidate)
		}
	}
	if len(accepted) == 0 {
		d.enter(Converged, "round", round, "epoch", d.epoch)
		return true, nil
	}

	d.enter(GenNewColumns, "round", round, "accepted", len(accepted))
	next, added, err := d.columns.Generate(ctx, d.game, d.registry, accepted)
	if err != nil {
		return false, err
	}

	d.enter(AppendAndPersist, "round", round)
	path := GamePath(d.cfg.RunDir, round)
	if err := next.Save(path); err != nil {
		return false, err
	}
	rec := Round{Round: round, Game: filepath.Base(path)}
	for _, role := range strategy.Roles {
		isAdded := false
		for _, s := range added {
			if s.Role == role {
				if err := d.registry.Accept(s); err != nil {
					return false, err
				}
				isAdded = true
			}
		}
		*rec.For(role) = recordOf(devs[role], isAdded)
	}
	if err := d.ledger.Append(rec); err != nil {
		return false, err
	}
	if err := d.ledger.Save(d.ledgerPath()); err != nil {
		return false, err
	}
	d.game, d.epoch = next, round
	return false, nil
}

// respond produces a best response per role: trained policies concurrently
// with the annealing searches. Trained candidates come back untested.
func (d *Driver) respond(ctx context.Context, round int, eq strategy.Equilibrium, eqPayoffs map[strategy.Role]float64) (map[strategy.Role]Deviation, error) {
	var out [2]Deviation
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range strategy.Roles {
		opp, err := d.trainingMixture(role.Other(), eq)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			if d.cfg.HADORoles[role] {
				dev, err := d.search(gctx, role, round, opp, eq.For(role.Other()), eqPayoffs[role])
				out[i] = dev
				return err
			}
			p, err := d.train(gctx, role, round, opp)
			out[i] = Deviation{Role: role, Candidate: p}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return map[strategy.Role]Deviation{strategy.Defender: out[0], strategy.Attacker: out[1]}, nil
}

// trainingMixture is the opponent distribution best responses are computed
// against: the latest equilibrium, or the discounted blend of all of them.
func (d *Driver) trainingMixture(role strategy.Role, eq strategy.Equilibrium) (strategy.Mixture, error) {
	if d.cfg.Discount <= 0 {
		return eq.For(role), nil
	}
	return strategy.Blend(d.registry.History(role), d.cfg.Discount, d.cfg.DiscountFloor)
}

func (d *Driver) train(ctx context.Context, role strategy.Role, round int, opp strategy.Mixture) (strategy.Strategy, error) {
	want := strategy.NewPolicy(d.cfg.RunName, role, d.registry.LastEpoch(role)+1, d.ledger.RetrainIndex(role))
	d.logger.Info().Str("policy", want.Name).Int("round", round).Msg("Training best response")
	got, err := d.cfg.Trainer.Train(ctx, trainer.Request{
		Policy:   want,
		Opponent: opp,
		Steps:    d.cfg.TrainSteps[role],
		Round:    round,
	})
	if err != nil {
		return strategy.Strategy{}, fmt.Errorf("training %s: %w", want.Name, err)
	}
	if got.Name != want.Name || got.Role != role {
		return strategy.Strategy{}, fault.New(fault.ErrInvariant, "psro", got.Name, "trainer returned a policy other than %s", want.Name)
	}
	return got, nil
}

// search runs the annealing gate for role. Candidates are scored against
// the training mixture and confirmed against the current equilibrium.
func (d *Driver) search(ctx context.Context, role strategy.Role, round int, opp, current strategy.Mixture, eqPayoff float64) (Deviation, error) {
	cfg := *d.cfg.HADO
	family, _ := cfg.FamilyFor(role)
	ev := d.evals[role]
	r := strconv.Itoa(round)

	objective := func(ctx context.Context, s strategy.Strategy) (float64, error) {
		est, err := ev.Evaluate(ctx, s, opp, cfg.SamplesPerParam, "hado", r)
		return est.Mean, err
	}
	confirm := func(ctx context.Context, s strategy.Strategy) (float64, error) {
		est, err := ev.Evaluate(ctx, s, current, d.cfg.NewEvalCount, "confirm", r)
		return est.Mean, err
	}

	alpha := cfg.RoundAlpha(d.cfg.MaxRounds)
	n, err := hado.GetN(cfg.MaxP, alpha)
	if err != nil {
		return Deviation{}, err
	}
	epsilon := cfg.EpsilonTolerance
	if epsilon == 0 {
		epsilon = d.cfg.Epsilon
	}
	logger := d.logger.With().Str("role", string(role)).Int("round", round).Logger()
	gate := &hado.Gate{
		Annealer:  cfg.Annealer(family, objective, logger),
		Attempts:  n,
		Alpha:     alpha,
		Epsilon:   epsilon,
		EarlyStop: cfg.EarlyStopLevel,
		Confirm:   confirm,
		Seed:      d.cfg.Seed,
		Logger:    logger,
	}
	dec, err := gate.Run(ctx, eqPayoff, string(role), r)
	if err != nil {
		return Deviation{}, fmt.Errorf("annealing %s: %w", role, err)
	}

	dev := Test(role, dec.Best.Strategy, dec.Value, eqPayoff, epsilon)
	dev.Beneficial = dec.Beneficial
	dev.Attempts = dec.Attempts
	dev.Upper = dec.Upper
	return dev, nil
}
