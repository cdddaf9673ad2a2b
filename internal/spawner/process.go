// Package spawner manages the simulator, trainer and solver subprocesses
// launched by the driver.
package spawner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultGrace is how long a stopped process may finish in-flight episodes
// after the interrupt before it is killed.
const DefaultGrace = 5 * time.Second

const tailLines = 20

// ErrNotStarted is returned by Wait on a process that was never started.
var ErrNotStarted = errors.New("process not started")

// Spec describes a process to launch.
type Spec struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	// Label names the process in logs, e.g. "simulator" or "trainer".
	Label string
	Grace time.Duration
}

// Process is a managed subprocess.
type Process struct {
	ID   string
	Spec Spec

	cmd       *exec.Cmd
	ctx       context.Context
	cancel    context.CancelFunc
	clock     quartz.Clock
	logger    zerolog.Logger
	startTime time.Time
	mu        sync.Mutex
	done      chan struct{}
	exitErr   error
	tail      []string
	output    sync.WaitGroup
}

// NewProcess prepares a process; nothing runs until Start.
func NewProcess(ctx context.Context, spec Spec, clock quartz.Clock, logger zerolog.Logger) *Process {
	procCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()[:8]
	if spec.Grace <= 0 {
		spec.Grace = DefaultGrace
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	l := logger.With().Str("process_id", id)
	if spec.Label != "" {
		l = l.Str("process", spec.Label)
	}
	return &Process{
		ID:     id,
		Spec:   spec,
		ctx:    procCtx,
		cancel: cancel,
		clock:  clock,
		logger: l.Logger(),
		done:   make(chan struct{}),
	}
}

// Start launches the process.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process already started")
	}

	p.cmd = exec.CommandContext(p.ctx, p.Spec.Command, p.Spec.Args...)
	p.cmd.Dir = p.Spec.Dir
	p.cmd.Env = os.Environ()
	for k, v := range p.Spec.Env {
		p.cmd.Env = append(p.cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := p.cmd.Start(); err != nil {
		p.cancel()
		return fmt.Errorf("failed to start %s: %w", p.Spec.Command, err)
	}

	p.startTime = p.clock.Now()
	p.logger.Debug().
		Str("command", p.Spec.Command).
		Strs("args", p.Spec.Args).
		Int("pid", p.cmd.Process.Pid).
		Msg("Process started")

	p.output.Add(2)
	go p.readOutput("stdout", stdout)
	go p.readOutput("stderr", stderr)
	go p.monitor()
	return nil
}

// Stop interrupts the process, waits out the grace period on the clock and
// kills it if it is still running.
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		p.cancel()
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		select {
		case <-p.done:
			return nil
		default:
		}
		p.logger.Debug().Err(err).Msg("Interrupt failed, killing")
		return p.kill(cmd)
	}

	timer := p.clock.NewTimer(p.Spec.Grace, "spawner", "grace")
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		p.logger.Debug().Dur("grace", p.Spec.Grace).Msg("Force killing process")
		return p.kill(cmd)
	}
}

func (p *Process) kill(cmd *exec.Cmd) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		select {
		case <-p.done:
			return nil
		default:
			return fmt.Errorf("failed to kill process: %w", err)
		}
	}
	<-p.done
	return nil
}

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	p.mu.Lock()
	started := p.cmd != nil
	p.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	<-p.done
	return p.exitErr
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsAlive reports whether the process is running.
func (p *Process) IsAlive() bool {
	p.mu.Lock()
	started := p.cmd != nil
	p.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Tail returns the last lines the process wrote to stderr.
func (p *Process) Tail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.tail, "\n")
}

func (p *Process) monitor() {
	defer close(p.done)
	defer p.cancel()

	// Drain the pipes before Wait closes them.
	p.output.Wait()
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	duration := p.clock.Since(p.startTime)
	if err == nil {
		p.logger.Debug().Dur("duration", duration).Msg("Process exited successfully")
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Exited() {
		p.logger.Debug().Dur("duration", duration).Str("state", exitErr.String()).Msg("Process terminated by signal")
		return
	}
	p.logger.Warn().Err(err).Dur("duration", duration).Msg("Process exited with error")
}

func (p *Process) readOutput(name string, pipe io.Reader) {
	defer p.output.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if name == "stderr" {
			p.mu.Lock()
			p.tail = append(p.tail, line)
			if len(p.tail) > tailLines {
				p.tail = p.tail[len(p.tail)-tailLines:]
			}
			p.mu.Unlock()
		}
		p.logger.Debug().Str("stream", name).Msg(line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debug().Err(err).Str("stream", name).Msg("Error reading output")
	}
}
