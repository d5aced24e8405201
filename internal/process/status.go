package process

import "time"

// Status is a point-in-time copy of a managed child's state.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	Path      string    `json:"path"`
	WorkDir   string    `json:"work_dir"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   error     `json:"exit_error,omitempty"`
}
