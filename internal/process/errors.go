package process

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceNotReady means a service was spawned but never became reachable.
	ErrServiceNotReady = errors.New("service did not become ready")
	// ErrServiceSpawn means no known location could start the service.
	ErrServiceSpawn = errors.New("could not start service")
	// ErrNoResourceDir means the application resource directory is unknown.
	ErrNoResourceDir = errors.New("resource directory unavailable")
)

// SpawnError reports a failed process creation.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("failed to start %s: %v", e.Path, e.Err) }

func (e *SpawnError) Unwrap() error { return e.Err }
