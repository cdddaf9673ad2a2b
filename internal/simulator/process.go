package simulator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/portlock"
	"github.com/lox/egta/internal/protocol"
	"github.com/lox/egta/internal/randutil"
	"github.com/lox/egta/internal/spawner"
	"github.com/lox/egta/internal/statistics"
	"github.com/lox/egta/internal/strategy"
)

// ProcessConfig configures a ProcessSampler.
type ProcessConfig struct {
	// Command is the simulator argv. "{port}" and "{env}" in any argument are
	// replaced by the lane port and the environment name.
	Command []string
	Envs    EnvNames
	// PolicyDir holds learned policy artifacts, passed to the simulator by path.
	PolicyDir   string
	MaxTimestep int
	Seed        int64

	Role  strategy.Role
	Plan  portlock.Plan
	Lock  *portlock.Lock
	Group *spawner.Group
	Grace time.Duration

	// ReadyTimeout bounds how long the simulator may take to accept a connection.
	ReadyTimeout time.Duration
	// URL formats the websocket address of a port.
	URL func(port int) string

	Clock  quartz.Clock
	Logger zerolog.Logger
}

// ProcessSampler starts a simulator process for every batch on the role's
// evaluation lane, requests the episodes over the websocket and stops the
// process afterwards.
type ProcessSampler struct {
	cfg    ProcessConfig
	logger zerolog.Logger

	mu    sync.Mutex
	round int
	calls map[string]int
}

// NewProcessSampler validates cfg and returns a sampler.
func NewProcessSampler(cfg ProcessConfig) (*ProcessSampler, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("simulator command not configured")
	}
	if cfg.Lock == nil || cfg.Group == nil {
		return nil, fmt.Errorf("simulator sampler needs a port lock and a process group")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = time.Minute
	}
	if cfg.URL == nil {
		cfg.URL = func(port int) string { return fmt.Sprintf("ws://127.0.0.1:%d/ws", port) }
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	return &ProcessSampler{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "sampler").Str("lane", string(cfg.Role)).Logger(),
		calls:  map[string]int{},
	}, nil
}

// SetRound selects the round used for port rotation and seed derivation.
func (s *ProcessSampler) SetRound(round int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = round
	s.calls = map[string]int{}
}

// Sample runs n episodes of def against att. An unavailable simulator gets
// the whole batch retried once on a fresh process; an error reported by the
// simulator for the batch is retried once in place and then fails as an
// episode failure without restarting the batch. Non-finite rewards fail
// immediately.
func (s *ProcessSampler) Sample(ctx context.Context, def, att strategy.Strategy, n int) (Payoff, error) {
	if n <= 0 {
		return Payoff{}, fmt.Errorf("sample size must be positive, got %d", n)
	}
	req, port, err := s.request(def, att, n)
	if err != nil {
		return Payoff{}, err
	}
	log := s.logger.With().Str("def", def.Name).Str("att", att.Name).Int("episodes", n).Int("port", port).Logger()

	var res Payoff
	for attempt := 1; ; attempt++ {
		res, err = s.batch(ctx, req, port, log)
		if err == nil || !errors.Is(err, fault.ErrSimulatorUnavailable) || attempt == 2 || ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Msg("Simulator unavailable, retrying batch")
	}
	if err != nil {
		return Payoff{}, err
	}
	log.Debug().Float64("def_mean", res.DefMean).Float64("att_mean", res.AttMean).Msg("Batch sampled")
	return res, nil
}

func (s *ProcessSampler) request(def, att strategy.Strategy, n int) (*protocol.RolloutRequest, int, error) {
	mode := ModeFor(def, att)
	env, err := s.cfg.Envs.For(mode)
	if err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	round := s.round
	key := def.Name + "\x00" + att.Name + "\x00" + strconv.Itoa(n)
	call := s.calls[key]
	s.calls[key]++
	s.mu.Unlock()

	seed := randutil.DeriveSeed(s.cfg.Seed, "sample", strconv.Itoa(round),
		def.Name, att.Name, strconv.Itoa(n), strconv.Itoa(call))
	req := &protocol.RolloutRequest{
		Type:         protocol.TypeRollout,
		Mode:         string(mode),
		Env:          env,
		Def:          s.handle(def),
		Att:          s.handle(att),
		DefScope:     def.Scope,
		AttScope:     att.Scope,
		Episodes:     n,
		MaxTimesteps: s.cfg.MaxTimestep,
		Seed:         seed,
	}
	return req, s.cfg.Plan.Port(s.cfg.Role, portlock.Eval, round), nil
}

func (s *ProcessSampler) handle(st strategy.Strategy) string {
	if st.IsPolicy() {
		return filepath.Join(s.cfg.PolicyDir, st.Name)
	}
	return st.Name
}

func (s *ProcessSampler) batch(ctx context.Context, req *protocol.RolloutRequest, port int, log zerolog.Logger) (Payoff, error) {
	if err := s.cfg.Lock.Acquire(ctx); err != nil {
		return Payoff{}, err
	}
	defer func() {
		if err := s.cfg.Lock.Release(); err != nil {
			log.Error().Err(err).Msg("Failed to release port lock")
		}
	}()

	args := make([]string, 0, len(s.cfg.Command)-1)
	for _, a := range s.cfg.Command[1:] {
		a = strings.ReplaceAll(a, "{port}", strconv.Itoa(port))
		args = append(args, strings.ReplaceAll(a, "{env}", req.Env))
	}
	proc, err := s.cfg.Group.Start(ctx, spawner.Spec{
		Command: s.cfg.Command[0],
		Args:    args,
		Env: map[string]string{
			"EGTA_SIM_PORT": strconv.Itoa(port),
			"EGTA_SIM_ENV":  req.Env,
		},
		Label: "simulator",
		Grace: s.cfg.Grace,
	})
	if err != nil {
		return Payoff{}, fault.Wrap(fault.ErrSimulatorUnavailable, "sampler", req.Env, err)
	}
	defer func() {
		if err := proc.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop simulator")
		}
	}()

	client, err := s.connect(ctx, proc, port)
	if err != nil {
		return Payoff{}, err
	}
	defer client.Close()

	ident := req.Def + " vs " + req.Att
	for attempt := 1; ; attempt++ {
		res, err := client.Rollout(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return Payoff{}, ctx.Err()
			}
			return Payoff{}, fault.Wrap(fault.ErrSimulatorUnavailable, "sampler", ident, err)
		}
		if res.Error != "" {
			if attempt == 1 {
				log.Warn().Str("error", res.Error).Msg("Simulator reported episode error, retrying")
				continue
			}
			// already retried in place; a fresh process would only repeat it
			return Payoff{}, fault.New(fault.ErrEpisodeFailure, "sampler", ident, "%s", res.Error)
		}
		return fold(res, req.Episodes, ident)
	}
}

// connect dials until the freshly started simulator accepts a connection.
func (s *ProcessSampler) connect(ctx context.Context, proc *spawner.Process, port int) (*Client, error) {
	url := s.cfg.URL(port)
	readyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	ticker := s.cfg.Clock.NewTicker(200*time.Millisecond, "sampler", "dial")
	defer ticker.Stop()
	var lastErr error
	for {
		client, err := Dial(readyCtx, url)
		if err == nil {
			return client, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-readyCtx.Done():
			return nil, fault.Wrap(fault.ErrSimulatorUnavailable, "sampler", url, lastErr)
		case <-proc.Done():
			return nil, fault.New(fault.ErrSimulatorUnavailable, "sampler", url, "simulator exited before accepting connections: %s", proc.Tail())
		case <-ticker.C:
		}
	}
}

func fold(res *protocol.RolloutResult, want int, ident string) (Payoff, error) {
	if len(res.DefRewards) != want || len(res.AttRewards) != want {
		return Payoff{}, fault.New(fault.ErrSimulatorUnavailable, "sampler", ident,
			"got %d/%d rewards for %d episodes", len(res.DefRewards), len(res.AttRewards), want)
	}
	var stats statistics.Pair
	for i := range res.DefRewards {
		if err := stats.Add(res.DefRewards[i], res.AttRewards[i]); err != nil {
			return Payoff{}, fault.Wrap(fault.ErrEpisodeNaN, "sampler", ident, fmt.Errorf("episode %d: %w", i, err))
		}
	}
	return FromStats(&stats), nil
}
