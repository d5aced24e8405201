package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/launchr/internal/metrics"
	"github.com/loykin/launchr/internal/ollama"
	"github.com/loykin/launchr/internal/process"
	"github.com/loykin/launchr/internal/status"
)

// Default health wait budget.
const (
	DefaultHealthAttempts = 30
	DefaultHealthInterval = time.Second
)

var (
	ErrAlreadyStarted = errors.New("supervisor already started")
	ErrHealthTimeout  = errors.New("backend failed to start within timeout")
)

// Prober performs one liveness check of the backend.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// ServiceEnsurer makes sure the auxiliary model service is running.
type ServiceEnsurer interface {
	EnsureRunning(ctx context.Context) error
}

// ModelChecker reports whether a model is already present.
type ModelChecker interface {
	HasModel(ctx context.Context, id string) bool
}

// Fetcher downloads a missing model and blocks until it is available.
type Fetcher interface {
	Pull(ctx context.Context, id string) error
}

// Options wires the collaborators of one supervisor run.
type Options struct {
	Service      ServiceEnsurer
	Models       ModelChecker
	Fetcher      Fetcher
	Requirements []ollama.Requirement
	Launcher     process.Launcher
	Prober       Prober

	HealthAttempts int           // default 30
	HealthInterval time.Duration // default 1s

	// Sleep waits between health probes; defaults to process.SleepContext.
	Sleep  func(ctx context.Context, d time.Duration) error
	Store  *status.Store
	Logger *slog.Logger
	// Observers run after the metrics for each stage change are updated.
	Observers []status.Observer
}

// Manager owns the status store and the single backend process slot, and
// drives the startup sequence on a background goroutine.
type Manager struct {
	opts    Options
	store   *status.Store
	logger  *slog.Logger
	started atomic.Bool
	done    chan struct{}

	mu     sync.Mutex
	handle *process.Handle
}

// New validates opts and builds a Manager without starting it.
func New(opts Options) (*Manager, error) {
	var errs []error
	if opts.Service == nil {
		errs = append(errs, errors.New("service ensurer is required"))
	}
	if opts.Models == nil {
		errs = append(errs, errors.New("model checker is required"))
	}
	if opts.Fetcher == nil {
		errs = append(errs, errors.New("model fetcher is required"))
	}
	if opts.Launcher == nil {
		errs = append(errs, errors.New("launcher is required"))
	}
	if opts.Prober == nil {
		errs = append(errs, errors.New("health prober is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if opts.HealthAttempts <= 0 {
		opts.HealthAttempts = DefaultHealthAttempts
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.Sleep == nil {
		opts.Sleep = process.SleepContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	st := opts.Store
	if st == nil {
		st = status.New()
	}
	st.Observe(func(from, to status.Stage) {
		metrics.RecordStageTransition(from.String(), to.String())
		if to == status.StageReady {
			metrics.SetReady(true)
		}
	})
	for _, fn := range opts.Observers {
		st.Observe(fn)
	}
	return &Manager{
		opts:   opts,
		store:  st,
		logger: opts.Logger,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the startup sequence on a detached goroutine. The sequence
// runs to a terminal stage and cannot be cancelled.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go m.run(context.Background())
	return nil
}

// Store exposes the status store for hosts that want to subscribe.
func (m *Manager) Store() *status.Store { return m.store }

// Ready reports whether the backend has been observed healthy.
func (m *Manager) Ready() bool { return m.store.Ready() }

// Status returns a copy of the current status record.
func (m *Manager) Status() status.Record { return m.store.Snapshot() }

// Done is closed once the sequence has reached a terminal stage.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Process returns the owned backend process, or nil when none was spawned.
func (m *Manager) Process() *process.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// adopt stores h in the process slot. The slot is set at most once.
func (m *Manager) adopt(h *process.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		return false
	}
	m.handle = h
	return true
}

// Shutdown stops the owned backend process, if any.
func (m *Manager) Shutdown(wait time.Duration) error {
	h := m.Process()
	if h == nil {
		return nil
	}
	m.logger.Info("Stopping backend", "pid", h.PID())
	return h.Stop(wait)
}
