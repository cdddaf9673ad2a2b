package spawner

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// Group tracks every live subprocess of a run so shutdown can stop them all.
type Group struct {
	processes map[string]*Process
	mu        sync.Mutex
	clock     quartz.Clock
	logger    zerolog.Logger
}

// NewGroup creates an empty group.
func NewGroup(clock quartz.Clock, logger zerolog.Logger) *Group {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Group{
		processes: make(map[string]*Process),
		clock:     clock,
		logger:    logger.With().Str("component", "spawner").Logger(),
	}
}

// Start launches spec and tracks the process until it exits.
func (g *Group) Start(ctx context.Context, spec Spec) (*Process, error) {
	proc := NewProcess(ctx, spec, g.clock, g.logger)
	if err := proc.Start(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.processes[proc.ID] = proc
	g.mu.Unlock()

	go func() {
		<-proc.Done()
		g.mu.Lock()
		delete(g.processes, proc.ID)
		g.mu.Unlock()
	}()
	return proc, nil
}

// StopAll stops every tracked process.
func (g *Group) StopAll() error {
	g.mu.Lock()
	procs := make([]*Process, 0, len(g.processes))
	for _, p := range g.processes {
		procs = append(procs, p)
	}
	g.mu.Unlock()

	if len(procs) > 0 {
		g.logger.Info().Int("count", len(procs)).Msg("Stopping subprocesses")
	}
	var wg sync.WaitGroup
	errs := make([]error, len(procs))
	for i, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Stop(); err != nil {
				errs[i] = fmt.Errorf("%s: %w", p.ID, err)
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ActiveCount returns the number of running processes.
func (g *Group) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, p := range g.processes {
		if p.IsAlive() {
			count++
		}
	}
	return count
}
