// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package services

import (
	"context"
	"sync"

	"go.edgegate.dev/edgegate/internal/config"
	"go.edgegate.dev/edgegate/internal/errors"
)

// RunFunc is a blocking service body: it serves until ctx is cancelled and
// returns whatever error ended it.
type RunFunc func(ctx context.Context) error

// ReloadFunc applies a new configuration to a running service. It reports
// whether the service had to restart to pick the change up.
type ReloadFunc func(cfg *config.Config) (bool, error)

// Runner adapts a RunFunc-shaped component into the Service lifecycle: Start
// launches the body on its own cancellable context, Stop cancels it and waits
// for the body to drain.
type Runner struct {
	name   string
	run    RunFunc
	reload ReloadFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	lastErr error
}

// NewRunner wraps run (and an optional reload) as a named Service.
func NewRunner(name string, run RunFunc, reload ReloadFunc) *Runner {
	return &Runner{name: name, run: run, reload: reload}
}

// Name returns the service's unique name.
func (r *Runner) Name() string { return r.name }

// Start launches the service body. Starting an already-running service is an
// error; a stopped Runner can be started again.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.Errorf(errors.KindConflict, "service %s already running", r.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.running = true
	r.lastErr = nil

	go func() {
		err := r.run(runCtx)
		r.mu.Lock()
		r.lastErr = err
		r.running = false
		r.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop cancels the service body and waits for it to exit, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), errors.KindTimeout, "stopping service %s", r.name)
	}
}

// Reload applies cfg via the wrapped ReloadFunc; services without one report
// no restart and no error.
func (r *Runner) Reload(cfg *config.Config) (bool, error) {
	if r.reload == nil {
		return false, nil
	}
	return r.reload(cfg)
}

// Status reports whether the body is still serving and the error that ended
// it, if it already exited.
func (r *Runner) Status() ServiceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := ServiceStatus{Name: r.name, Running: r.running}
	if r.lastErr != nil {
		st.Error = r.lastErr.Error()
	}
	return st
}

var _ Service = (*Runner)(nil)
