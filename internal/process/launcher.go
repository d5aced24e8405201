package process

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/loykin/launchr/internal/metrics"
)

// Launcher starts the backend. A nil handle with a nil error means no bundled
// executable was found and the backend is assumed to be managed externally.
type Launcher interface {
	Launch(ctx context.Context) (*Handle, error)
}

// ExecLauncher spawns the backend directly with os/exec.
type ExecLauncher struct {
	Target
	Output OutputMode     // inherit (default), capture, file or discard
	Stdout io.WriteCloser // OutputFile destinations, closed when the child exits
	Stderr io.WriteCloser
	Prefix string // relay prefix for OutputCapture
	// Detached starts the child in a new session that survives launchr.
	Detached bool
	Logger   *slog.Logger
}

func (l *ExecLauncher) Launch(ctx context.Context) (*Handle, error) {
	logger := l.logger()
	logger.Info("Attempting to start backend", "name", l.Name)
	path, found, err := l.prepare(ctx, logger)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	dir := filepath.Dir(path)
	logger.Info("Starting bundled backend", "path", path, "work_dir", dir)
	output := l.Output
	if output == "" {
		output = OutputInherit
	}
	spec := Spec{
		Name:     l.Name,
		Path:     path,
		Args:     l.Args,
		WorkDir:  dir,
		Env:      l.Env,
		Output:   output,
		Detached: l.Detached,
	}
	if output == OutputFile {
		if l.Stdout != nil {
			spec.Stdout = l.Stdout
		}
		if l.Stderr != nil {
			spec.Stderr = l.Stderr
		}
	}
	cmd := spec.BuildCommand()
	h := newHandle(l.Name, path, dir)

	if output == OutputCapture {
		events, err := startCaptured(cmd)
		if err != nil {
			logger.Error("Failed to start backend", "path", path, "error", err)
			metrics.IncSpawn(l.Name, false)
			return nil, &SpawnError{Path: path, Err: err}
		}
		pid := cmd.Process.Pid
		h.setStarted(pid, func() error { return terminateGroup(pid) }, func() error { return killGroup(pid) })
		go func() {
			ev := Relay(events, logger, l.prefix())
			h.markExited(ev.ExitErr())
		}()
	} else {
		if err := cmd.Start(); err != nil {
			logger.Error("Failed to start backend", "path", path, "error", err)
			metrics.IncSpawn(l.Name, false)
			return nil, &SpawnError{Path: path, Err: err}
		}
		pid := cmd.Process.Pid
		h.setStarted(pid, func() error { return terminateGroup(pid) }, func() error { return killGroup(pid) })
		if output == OutputFile {
			h.addCloser(l.Stdout)
			h.addCloser(l.Stderr)
		}
		go func() { h.markExited(cmd.Wait()) }()
	}
	metrics.IncSpawn(l.Name, true)
	logger.Info("Backend spawned", "pid", h.PID())
	return h, nil
}

func (l *ExecLauncher) prefix() string {
	if l.Prefix == "" {
		return DefaultRelayPrefix
	}
	return l.Prefix
}

func (l *ExecLauncher) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
