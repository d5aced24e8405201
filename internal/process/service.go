package process

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/launchr/internal/metrics"
)

// DefaultOllamaPaths are the known Ollama install locations, tried in order.
var DefaultOllamaPaths = []string{
	"/opt/homebrew/bin/ollama",                           // Apple Silicon Homebrew
	"/usr/local/bin/ollama",                              // Intel Homebrew
	"/Applications/Ollama.app/Contents/Resources/ollama", // Ollama.app
}

const (
	DefaultServiceAttempts = 10
	DefaultServiceInterval = time.Second
)

// Checker reports whether a service is reachable.
type Checker interface {
	IsRunning(ctx context.Context) bool
}

// SpawnFunc starts path with args and returns once the spawn itself succeeded.
type SpawnFunc func(path string, args []string) error

// ServiceStarter makes sure an auxiliary service is running, starting it from
// a list of known locations when it is not.
type ServiceStarter struct {
	Name     string // used in log messages
	Checker  Checker
	Paths    []string // tried in order; first successful spawn wins
	Fallback string   // bare name resolved via PATH when every path fails
	Args     []string
	Attempts int
	Interval time.Duration
	Spawn    SpawnFunc                                        // nil uses SpawnDetached
	Sleep    func(ctx context.Context, d time.Duration) error // nil uses SleepContext
	Logger   *slog.Logger
}

// EnsureRunning is a no-op when the service is already up. Otherwise it spawns
// the service and polls it. ErrServiceNotReady and ErrServiceSpawn are meant
// to be logged as warnings by callers, not treated as fatal.
func (s *ServiceStarter) EnsureRunning(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := s.Name
	if name == "" {
		name = "service"
	}
	if s.Checker.IsRunning(ctx) {
		logger.Info(name + " is already running")
		return nil
	}

	logger.Info("Starting " + name)
	spawn := s.Spawn
	if spawn == nil {
		spawn = SpawnDetached
	}
	started := ""
	var lastErr error
	spawnAt := func(p string) bool {
		if err := spawn(p, s.Args); err != nil {
			logger.Debug("Spawn attempt failed", "service", name, "path", p, "error", err)
			metrics.IncSpawn(name, false)
			lastErr = err
			return false
		}
		metrics.IncSpawn(name, true)
		started = p
		return true
	}
	for _, p := range s.Paths {
		if spawnAt(p) {
			break
		}
	}
	if started == "" && s.Fallback != "" {
		spawnAt(s.Fallback)
	}
	if started == "" {
		logger.Error("Could not start "+name, "error", lastErr)
		logger.Error("Please start " + name + " manually")
		return fmt.Errorf("%w %s: %v", ErrServiceSpawn, name, lastErr)
	}
	logger.Info("Started "+name, "path", started)

	sleep := s.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = DefaultServiceAttempts
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultServiceInterval
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		if s.Checker.IsRunning(ctx) {
			logger.Info(name+" started successfully", "attempt", attempt)
			return nil
		}
		logger.Info("Waiting for "+name, "attempt", attempt, "max", attempts)
	}
	logger.Warn(name+" may not have started properly", "attempts", attempts)
	return fmt.Errorf("%w: %s after %d attempts", ErrServiceNotReady, name, attempts)
}

// SpawnDetached starts path in a new session with all streams discarded and
// reaps it in the background.
func SpawnDetached(path string, args []string) error {
	cmd := Spec{Name: path, Path: path, Args: args, Output: OutputDiscard, Detached: true}.BuildCommand()
	if err := cmd.Start(); err != nil {
		return &SpawnError{Path: path, Err: err}
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
