// Package portlock implements the file-based mutex that gives one launcher at
// a time ownership of a simulator port, and the per-round port plan.
package portlock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/egta/internal/fileutil"
	"github.com/lox/egta/internal/strategy"
)

// PollInterval is the cadence at which a busy lock file is re-read.
const PollInterval = 5 * time.Second

// Purpose separates the training and evaluation lanes of a role.
type Purpose string

const (
	Train Purpose = "train"
	Eval  Purpose = "eval"
)

const (
	free = "0"
	held = "1"
)

// Lock is one "0"/"1" lock file.
type Lock struct {
	Path   string
	clock  quartz.Clock
	logger zerolog.Logger
}

// Path returns the lock file of (pool, role, purpose) under dir.
func Path(dir, pool string, role strategy.Role, purpose Purpose) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.lock", pool, role, purpose))
}

// New returns the lock for (pool, role, purpose) under dir.
func New(dir, pool string, role strategy.Role, purpose Purpose, clock quartz.Clock, logger zerolog.Logger) *Lock {
	if clock == nil {
		clock = quartz.NewReal()
	}
	path := Path(dir, pool, role, purpose)
	return &Lock{
		Path:   path,
		clock:  clock,
		logger: logger.With().Str("component", "portlock").Str("lock", filepath.Base(path)).Logger(),
	}
}

// Held reports whether the lock file currently reads "1". A missing file is free.
func (l *Lock) Held() (bool, error) {
	data, err := os.ReadFile(l.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lock: %w", err)
	}
	return string(bytes.TrimSpace(data)) == held, nil
}

// Acquire waits until the lock reads "0", polling every PollInterval, then
// writes "1". Contention is logged once per wait and never gives up before
// ctx does.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock dir: %w", err)
	}

	busy, err := l.Held()
	if err != nil {
		return err
	}
	if busy {
		l.logger.Info().Dur("poll", PollInterval).Msg("Lock contention, waiting")
		start := l.clock.Now()
		ticker := l.clock.NewTicker(PollInterval, "portlock", "poll")
		defer ticker.Stop()
		for busy {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if busy, err = l.Held(); err != nil {
				return err
			}
		}
		l.logger.Debug().Dur("waited", l.clock.Since(start)).Msg("Lock released by holder")
	}

	if err := l.write(held); err != nil {
		return err
	}
	l.logger.Debug().Msg("Lock acquired")
	return nil
}

// Release writes "0".
func (l *Lock) Release() error {
	if err := l.write(free); err != nil {
		return err
	}
	l.logger.Debug().Msg("Lock released")
	return nil
}

func (l *Lock) write(state string) error {
	if err := fileutil.WriteFileAtomic(l.Path, []byte(state), 0o644); err != nil {
		return fmt.Errorf("failed to write lock: %w", err)
	}
	return nil
}
