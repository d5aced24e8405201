package launchr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/launchr/internal/config"
	"github.com/loykin/launchr/internal/detector"
	"github.com/loykin/launchr/internal/env"
	"github.com/loykin/launchr/internal/manager"
	"github.com/loykin/launchr/internal/metrics"
	"github.com/loykin/launchr/internal/ollama"
	"github.com/loykin/launchr/internal/process"
	"github.com/loykin/launchr/internal/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Status = status.Record

type Stage = status.Stage

type Requirement = ollama.Requirement

type SidecarHost = process.SidecarHost

type SidecarCommand = process.SidecarCommand

type SidecarProcess = process.SidecarProcess

// ExecSidecarHost is the os/exec based SidecarHost used when none is given.
type ExecSidecarHost = process.ExecSidecarHost

type Event = process.Event

const (
	StageStarting          = status.StageStarting
	StageStartingOllama    = status.StageStartingOllama
	StageCheckingModels    = status.StageCheckingModels
	StageDownloadingModel  = status.StageDownloadingModel
	StageStartingBackend   = status.StageStartingBackend
	StageWaitingForBackend = status.StageWaitingForBackend
	StageReady             = status.StageReady
	StageError             = status.StageError
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a TOML file plus LAUNCHR_* overrides and bound flags.
func LoadConfig(path string, fs *pflag.FlagSet) (*Config, error) { return config.Load(path, fs) }

// Options customises how a Supervisor is wired.
type Options struct {
	Config *Config      // nil uses DefaultConfig
	Logger *slog.Logger // nil uses slog.Default
	// Sidecar hosts the backend when Config.Backend.Mode is "sidecar".
	// Nil uses an os/exec based host.
	Sidecar SidecarHost
	// Registerer receives the metrics when Config.Metrics.Enabled.
	// Nil uses the Prometheus default registerer.
	Registerer prometheus.Registerer
}

// Supervisor is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding in a hosting shell.
type Supervisor struct {
	cfg     *Config
	inner   *manager.Manager
	prober  detector.HTTPDetector
	ollama  *ollama.Client
	logger  *slog.Logger
	closers []io.Closer
}

// New wires a Supervisor from opts without starting it.
func New(opts Options) (*Supervisor, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Metrics.Enabled {
		r := opts.Registerer
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(r); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	client := ollama.New(ollama.Config{
		BaseURL:      cfg.Ollama.URL,
		ProbeTimeout: cfg.Ollama.ProbeTimeout,
		ListTimeout:  cfg.Ollama.ListTimeout,
		PullTimeout:  cfg.Ollama.PullTimeout,
		Logger:       logger,
	})
	service := &process.ServiceStarter{
		Name:     "Ollama",
		Checker:  client,
		Paths:    cfg.Ollama.Paths,
		Fallback: cfg.Ollama.Fallback,
		Args:     cfg.Ollama.Args,
		Attempts: cfg.Ollama.Attempts,
		Interval: cfg.Ollama.Interval,
		Logger:   logger,
	}
	s := &Supervisor{
		cfg:    cfg,
		prober: detector.HTTPDetector{URL: cfg.HealthURL(), Timeout: cfg.Health.Timeout},
		ollama: client,
		logger: logger,
	}
	launcher, err := s.launcher(opts.Sidecar)
	if err != nil {
		s.close()
		return nil, err
	}

	var observers []status.Observer
	if cfg.Metrics.Enabled && cfg.Metrics.Textfile != "" {
		path := cfg.Metrics.Textfile
		observers = append(observers, func(_, _ status.Stage) {
			if err := metrics.WriteTextfile(path); err != nil {
				logger.Warn("Failed to write metrics textfile", "path", path, "error", err)
			}
		})
	}
	inner, err := manager.New(manager.Options{
		Service:        service,
		Models:         client,
		Fetcher:        client,
		Requirements:   cfg.Models,
		Launcher:       launcher,
		Prober:         s.prober,
		HealthAttempts: cfg.Health.Attempts,
		HealthInterval: cfg.Health.Interval,
		Logger:         logger,
		Observers:      observers,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.inner = inner
	return s, nil
}

// Start wires a Supervisor and launches the startup sequence in the background.
// The only error is a failure to build the supervisor itself.
func Start(opts Options) (*Supervisor, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the startup sequence of a Supervisor built with New. It
// returns an error when the sequence was already started.
func (s *Supervisor) Start() error { return s.inner.Start() }

func (s *Supervisor) launcher(host SidecarHost) (process.Launcher, error) {
	b := s.cfg.Backend
	childEnv, err := backendEnv(b)
	if err != nil {
		return nil, err
	}
	target := process.Target{
		Name:          b.Name,
		ResourceDir:   b.ResourceDir,
		Args:          b.Args,
		Env:           childEnv,
		PortRelease:   b.PortRelease,
		SkipStaleKill: b.SkipStaleKill,
	}
	if b.Mode == config.ModeSidecar {
		if host == nil {
			host = process.ExecSidecarHost{}
		}
		return &process.SidecarLauncher{Target: target, Host: host, Logger: s.logger}, nil
	}
	l := &process.ExecLauncher{
		Target:   target,
		Output:   process.OutputMode(b.Output),
		Detached: b.Detached,
		Logger:   s.logger,
	}
	if l.Output == process.OutputFile {
		out, errW, err := s.cfg.Log.OutputWriters(b.Name)
		if err != nil {
			return nil, err
		}
		l.Stdout, l.Stderr = out, errW
		for _, c := range []io.WriteCloser{out, errW} {
			if c != nil {
				s.closers = append(s.closers, c)
			}
		}
	}
	return l, nil
}

// backendEnv composes the child environment. Nil means inherit unchanged.
func backendEnv(b config.BackendConfig) ([]string, error) {
	if len(b.Env) == 0 && len(b.EnvFiles) == 0 {
		return nil, nil
	}
	e := env.New()
	if err := e.LoadFiles(b.EnvFiles...); err != nil {
		return nil, err
	}
	return e.Merge(b.Env), nil
}

// Config returns the configuration the supervisor was built with.
func (s *Supervisor) Config() *Config { return s.cfg }

// IsReady reports whether the backend has been observed healthy.
func (s *Supervisor) IsReady() bool { return s.inner.Ready() }

// Status returns the current stage, message and last error.
func (s *Supervisor) Status() Status { return s.inner.Status() }

// Subscribe streams status records as they are written.
func (s *Supervisor) Subscribe() (<-chan Status, func()) { return s.inner.Store().Subscribe() }

// Done is closed once the startup sequence reached ready or error.
func (s *Supervisor) Done() <-chan struct{} { return s.inner.Done() }

// Wait blocks until the startup sequence finishes or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) (Status, error) {
	select {
	case <-s.inner.Done():
		st := s.inner.Status()
		if st.Stage == StageError {
			return st, errors.New(st.LastError)
		}
		return st, nil
	case <-ctx.Done():
		return s.inner.Status(), ctx.Err()
	}
}

// CheckHealth performs one probe of the backend. Errors are logged and reported as false.
func (s *Supervisor) CheckHealth(ctx context.Context) bool {
	ok, err := s.prober.Probe(ctx)
	if err != nil {
		s.logger.Debug("Backend health check failed", "detector", s.prober.Describe(), "error", err)
		return false
	}
	return ok
}

// Ollama exposes the model service client for one-off queries.
func (s *Supervisor) Ollama() *ollama.Client { return s.ollama }

// PID returns the owned backend's process id, or 0 when none was spawned.
func (s *Supervisor) PID() int {
	if h := s.inner.Process(); h != nil {
		return h.PID()
	}
	return 0
}

// Shutdown stops the owned backend, if any, and releases log files.
func (s *Supervisor) Shutdown(wait time.Duration) error {
	err := s.inner.Shutdown(wait)
	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Textfile != "" {
		if werr := metrics.WriteTextfile(s.cfg.Metrics.Textfile); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	s.close()
	return err
}

func (s *Supervisor) close() {
	for _, c := range s.closers {
		_ = c.Close()
	}
	s.closers = nil
}
