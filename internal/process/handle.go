package process

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Handle is the single owner-facing reference to a spawned child.
type Handle struct {
	mu        sync.Mutex
	status    Status
	done      chan struct{}
	exited    bool
	terminate func() error
	kill      func() error
	closers   []io.Closer
}

func newHandle(name, path, dir string) *Handle {
	return &Handle{
		status: Status{Name: name, Path: path, WorkDir: dir},
		done:   make(chan struct{}),
	}
}

func (h *Handle) setStarted(pid int, terminate, kill func() error) {
	h.mu.Lock()
	h.status.PID = pid
	h.status.Running = true
	h.status.StartedAt = time.Now()
	h.terminate = terminate
	h.kill = kill
	h.mu.Unlock()
}

func (h *Handle) addCloser(c io.Closer) {
	if c == nil {
		return
	}
	h.mu.Lock()
	h.closers = append(h.closers, c)
	h.mu.Unlock()
}

// markExited records the exit once, closes attached writers and releases Done waiters.
func (h *Handle) markExited(err error) {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return
	}
	h.exited = true
	h.status.Running = false
	h.status.StoppedAt = time.Now()
	h.status.ExitErr = err
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}
	close(h.done)
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status.PID
}

// Snapshot returns a copy of the current status.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Stop asks the child to exit and escalates to a kill after wait.
func (h *Handle) Stop(wait time.Duration) error {
	if h.Exited() {
		return nil
	}
	h.mu.Lock()
	term, kill := h.terminate, h.kill
	pid := h.status.PID
	h.mu.Unlock()
	if term != nil {
		_ = term()
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(wait):
	}
	if kill != nil {
		_ = kill()
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(200 * time.Millisecond):
		return fmt.Errorf("process %d did not exit after kill", pid)
	}
}

// Kill force-terminates the child and waits briefly for it to be reaped.
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	h.mu.Lock()
	kill := h.kill
	h.mu.Unlock()
	if kill != nil {
		if err := kill(); err != nil {
			return err
		}
	}
	select {
	case <-h.done:
	case <-time.After(200 * time.Millisecond):
		// best-effort
	}
	return nil
}
