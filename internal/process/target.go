package process

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/loykin/launchr/internal/detector"
)

// DefaultPortRelease is how long to wait after clearing stale instances so the
// operating system can release their listening port.
const DefaultPortRelease = 500 * time.Millisecond

// StaleKiller detects and terminates leftover instances from a previous run.
type StaleKiller interface {
	detector.Detector
	Kill() (int, error)
}

// Target describes the bundled executable shared by both launcher variants.
type Target struct {
	Name          string        // process and bundle folder name, e.g. localbook-backend
	ResourceDir   string        // application resource directory; empty derives it from the executable
	Candidates    []string      // explicit candidate list; empty uses Candidates(ResourceDir, Name)
	Args          []string      // arguments passed to the executable
	Env           []string      // full child environment; empty inherits
	PortRelease   time.Duration // pause after killing stale instances
	Stale         StaleKiller   // nil uses a command-line match on Name
	SkipStaleKill bool
}

// CandidatePaths returns the ordered candidate list for t.
func (t Target) CandidatePaths() ([]string, error) {
	if len(t.Candidates) > 0 {
		return t.Candidates, nil
	}
	dir := t.ResourceDir
	if dir == "" {
		d, err := DefaultResourceDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return Candidates(dir, t.Name, runtime.GOOS), nil
}

// prepare clears stale instances and resolves the executable. found=false with
// a nil error means no bundled executable exists (development mode).
func (t Target) prepare(ctx context.Context, logger *slog.Logger) (string, bool, error) {
	if !t.SkipStaleKill {
		t.killStale(logger)
		if err := SleepContext(ctx, t.portRelease()); err != nil {
			return "", false, err
		}
	}
	candidates, err := t.CandidatePaths()
	if err != nil {
		return "", false, err
	}
	for _, c := range candidates {
		logger.Info("Looking for backend", "path", c)
		if p, ok := Resolve([]string{c}); ok {
			return p, true, nil
		}
	}
	logger.Info("Bundled backend not found; running in dev mode, backend should be started externally", "candidates", candidates)
	return "", false, nil
}

func (t Target) killStale(logger *slog.Logger) {
	k := t.Stale
	if k == nil {
		k = detector.CmdlineDetector{Match: t.Name}
	}
	if alive, err := k.Alive(); err == nil && !alive {
		return
	}
	n, err := k.Kill()
	if err != nil {
		logger.Debug("Stale instance cleanup incomplete", "name", t.Name, "detector", k.Describe(), "error", err)
	}
	if n > 0 {
		logger.Info("Killed stale instances", "name", t.Name, "detector", k.Describe(), "count", n)
	}
}

func (t Target) portRelease() time.Duration {
	if t.PortRelease < 0 {
		return 0
	}
	if t.PortRelease == 0 {
		return DefaultPortRelease
	}
	return t.PortRelease
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
