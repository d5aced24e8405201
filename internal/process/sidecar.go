package process

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/loykin/launchr/internal/metrics"
)

// SidecarCommand is what a sidecar host needs to spawn the backend.
type SidecarCommand struct {
	Name string
	Path string
	Args []string
	Dir  string
	Env  []string
}

// SidecarProcess is the host's reference to a spawned sidecar.
type SidecarProcess interface {
	PID() int
	Kill() error
}

// SidecarHost is the managed-process facility of the hosting shell. Spawn
// returns a stream of output and termination events that closes when the
// sidecar is gone.
type SidecarHost interface {
	Spawn(ctx context.Context, cmd SidecarCommand) (<-chan Event, SidecarProcess, error)
}

// SidecarLauncher starts the backend through a SidecarHost and relays its
// output on a dedicated goroutine.
type SidecarLauncher struct {
	Target
	Host   SidecarHost
	Prefix string
	Logger *slog.Logger
}

func (l *SidecarLauncher) Launch(ctx context.Context) (*Handle, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if l.Host == nil {
		return nil, errors.New("sidecar launcher requires a host")
	}
	logger.Info("Attempting to start backend sidecar", "name", l.Name)
	path, found, err := l.prepare(ctx, logger)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	dir := filepath.Dir(path)
	events, proc, err := l.Host.Spawn(ctx, SidecarCommand{
		Name: l.Name,
		Path: path,
		Args: l.Args,
		Dir:  dir,
		Env:  l.Env,
	})
	if err != nil {
		logger.Error("Failed to start backend sidecar", "path", path, "error", err)
		metrics.IncSpawn(l.Name, false)
		return nil, &SpawnError{Path: path, Err: err}
	}

	h := newHandle(l.Name, path, dir)
	h.setStarted(proc.PID(), proc.Kill, proc.Kill)
	prefix := l.Prefix
	if prefix == "" {
		prefix = DefaultRelayPrefix
	}
	go func() {
		ev := Relay(events, logger, prefix)
		h.markExited(ev.ExitErr())
	}()
	metrics.IncSpawn(l.Name, true)
	logger.Info("Backend sidecar spawned", "pid", proc.PID(), "work_dir", dir)
	return h, nil
}

// ExecSidecarHost is a SidecarHost backed by os/exec with captured output.
type ExecSidecarHost struct{}

func (ExecSidecarHost) Spawn(_ context.Context, c SidecarCommand) (<-chan Event, SidecarProcess, error) {
	spec := Spec{Name: c.Name, Path: c.Path, Args: c.Args, WorkDir: c.Dir, Env: c.Env, Output: OutputCapture}
	cmd := spec.BuildCommand()
	events, err := startCaptured(cmd)
	if err != nil {
		return nil, nil, err
	}
	return events, execProcess{pid: cmd.Process.Pid}, nil
}

type execProcess struct{ pid int }

func (p execProcess) PID() int    { return p.pid }
func (p execProcess) Kill() error { return killGroup(p.pid) }
