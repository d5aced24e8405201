package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

var errStreamClosed = errors.New("output stream closed before termination")

// DefaultRelayPrefix tags relayed backend output.
const DefaultRelayPrefix = "[Backend]"

// EventKind classifies a child output event.
type EventKind int

const (
	EventStdout EventKind = iota
	EventStderr
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Event is one line of child output, or the child's termination.
type Event struct {
	Kind EventKind
	Line string
	Code int
	Err  error
}

// ExitErr converts a terminated event into the error reported by the handle.
func (e Event) ExitErr() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Code != 0 {
		return fmt.Errorf("exit code %d", e.Code)
	}
	return nil
}

// Relay logs every line from events with prefix until the channel closes and
// returns the termination event. A stream that closes without one yields an
// event with Code -1.
func Relay(events <-chan Event, logger *slog.Logger, prefix string) Event {
	if logger == nil {
		logger = slog.Default()
	}
	last := Event{Kind: EventTerminated, Code: -1, Err: errStreamClosed}
	for ev := range events {
		switch ev.Kind {
		case EventStdout, EventStderr:
			logger.Info(prefix+" "+ev.Line, "stream", ev.Kind.String())
		case EventTerminated:
			logger.Info(prefix+" process terminated", "code", ev.Code)
			last = ev
		}
	}
	return last
}

// startCaptured starts cmd with piped stdout/stderr. The returned channel
// carries each output line, then one EventTerminated, then closes.
func startCaptured(cmd *exec.Cmd) (<-chan Event, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	ch := make(chan Event, 64)
	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(stdout, EventStdout, ch, &wg)
	go scanLines(stderr, EventStderr, ch, &wg)
	go func() {
		// pipes must be drained before Wait closes them
		wg.Wait()
		err := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		ch <- Event{Kind: EventTerminated, Code: code, Err: err}
		close(ch)
	}()
	return ch, nil
}

func scanLines(r io.Reader, kind EventKind, ch chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		ch <- Event{Kind: kind, Line: s.Text()}
	}
	// keep draining so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}
