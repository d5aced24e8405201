package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/launchr/internal/metrics"
	"github.com/loykin/launchr/internal/process"
	"github.com/loykin/launchr/internal/status"
)

const (
	msgStartingOllama = "Starting Ollama..."
	msgStartBackend   = "Starting backend..."
	msgWaitBackend    = "Waiting for backend to be ready..."
	msgReady          = "Backend ready"
	msgFailed         = "Backend failed to start"
)

// finish records the startup duration before the terminal transition.
func (m *Manager) finish(begin time.Time, terminal func() error) {
	metrics.ObserveStartupDuration(time.Since(begin).Seconds())
	m.set(terminal())
}

// run executes the startup sequence once, from starting_ollama to ready or error.
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	begin := time.Now()

	m.set(m.store.Begin(status.StageStartingOllama, msgStartingOllama))
	m.ensureService(ctx)

	m.ensureModels(ctx)

	m.set(m.store.Set(status.StageStartingBackend, msgStartBackend))
	h, err := m.opts.Launcher.Launch(ctx)
	if err != nil {
		m.logger.Error("Failed to start backend", "error", err)
		m.finish(begin, func() error { return m.store.Abort(msgFailed, err.Error()) })
		return
	}
	if h != nil {
		m.adopt(h)
		m.logger.Info("Backend process started", "pid", h.PID())
	} else {
		m.logger.Info("Backend running externally (dev mode)")
	}

	m.set(m.store.Set(status.StageWaitingForBackend, msgWaitBackend))
	if err := m.waitHealthy(ctx); err != nil {
		m.logger.Error("Failed to connect to backend", "error", err)
		m.logger.Error("Please ensure the backend is running. For dev mode start it manually.")
		m.finish(begin, func() error { return m.store.Abort(msgFailed, err.Error()) })
		return
	}
	m.finish(begin, func() error { return m.store.MarkReady(msgReady) })
	m.logger.Info("Backend initialization complete")
}

func (m *Manager) ensureService(ctx context.Context) {
	err := m.opts.Service.EnsureRunning(ctx)
	switch {
	case err == nil:
	case errors.Is(err, process.ErrServiceNotReady):
		m.logger.Warn("Model service not ready yet, continuing", "error", err)
	default:
		m.logger.Warn("Could not start model service, continuing", "error", err)
	}
}

// ensureModels checks each requirement in order and pulls the missing ones.
// A failed pull is recorded in last_error and the next requirement is tried.
func (m *Manager) ensureModels(ctx context.Context) {
	m.logger.Info("Checking required AI models", "count", len(m.opts.Requirements))
	for _, req := range m.opts.Requirements {
		m.set(m.store.Set(status.StageCheckingModels, fmt.Sprintf("Checking %s...", req.Label())))
		if m.opts.Models.HasModel(ctx, req.ID) {
			m.logger.Info("Model is available", "model", req.ID)
			continue
		}
		m.logger.Info("Model not found, downloading", "model", req.ID)
		m.set(m.store.Set(status.StageDownloadingModel, fmt.Sprintf("Downloading %s (this may take several minutes)...", req.Label())))
		if err := m.opts.Fetcher.Pull(ctx, req.ID); err != nil {
			metrics.IncModelPull(req.ID, false)
			m.logger.Error("Failed to download model", "model", req.ID, "error", err)
			m.store.Fail(fmt.Sprintf("Failed to download %s: %v", req.ID, err))
			continue
		}
		metrics.IncModelPull(req.ID, true)
		m.logger.Info("Model downloaded successfully", "model", req.ID)
	}
	if len(m.opts.Requirements) == 0 {
		m.set(m.store.Set(status.StageCheckingModels, "No models required"))
	}
	m.logger.Info("Model check complete")
}

// waitHealthy probes the backend up to HealthAttempts times, sleeping
// HealthInterval before each probe.
func (m *Manager) waitHealthy(ctx context.Context) error {
	attempts := m.opts.HealthAttempts
	var last error
	warned := false
	for i := 1; i <= attempts; i++ {
		if err := m.opts.Sleep(ctx, m.opts.HealthInterval); err != nil {
			return err
		}
		ok, err := m.opts.Prober.Probe(ctx)
		metrics.IncHealthProbe(ok && err == nil)
		if err == nil && ok {
			m.logger.Info("Backend is ready", "attempt", i)
			return nil
		}
		if err != nil {
			last = err
		} else {
			last = errors.New("backend reported unhealthy")
		}
		if h := m.Process(); !warned && h != nil && h.Exited() {
			warned = true
			m.logger.Warn("Backend process exited while waiting", "pid", h.PID(), "error", h.Snapshot().ExitErr)
		}
		m.logger.Debug("Waiting for backend", "attempt", i, "of", attempts, "error", last)
	}
	if last != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrHealthTimeout, attempts, last)
	}
	return fmt.Errorf("%w after %d attempts", ErrHealthTimeout, attempts)
}

// set logs a rejected status transition.
func (m *Manager) set(err error) {
	if err != nil {
		m.logger.Error("Status update rejected", "error", err)
	}
}
