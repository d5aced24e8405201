package process

import (
	"io"
	"os"
	"os/exec"
)

// OutputMode selects what happens to a child's stdout and stderr.
type OutputMode string

const (
	OutputInherit OutputMode = "inherit" // share the parent's streams
	OutputCapture OutputMode = "capture" // pipe and relay line by line
	OutputFile    OutputMode = "file"    // write to the configured writers
	OutputDiscard OutputMode = "discard" // send to the null device
)

// Spec describes a single child process invocation.
type Spec struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`     // executable path; resolved via PATH when not absolute
	Args     []string   `json:"args"`     // arguments after the executable
	WorkDir  string     `json:"work_dir"` // working directory; empty keeps the parent's
	Env      []string   `json:"env"`      // full environment; empty inherits the parent's
	Output   OutputMode `json:"output"`   // stdout/stderr handling
	Detached bool       `json:"detached"` // new session, survives the parent

	Stdout io.Writer `json:"-"` // used when Output is OutputFile
	Stderr io.Writer `json:"-"`
}

// BuildCommand constructs an *exec.Cmd for the spec. Stdin is always the null
// device. With OutputCapture the caller is expected to attach pipes.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- path comes from configuration or a resolved candidate
	cmd := exec.Command(s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	cmd.Stdin = nil
	switch s.Output {
	case OutputInherit:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	case OutputFile:
		cmd.Stdout = s.Stdout
		cmd.Stderr = s.Stderr
	case OutputCapture:
		// pipes are attached by the caller
	default:
		// nil writers make os/exec use the null device
	}
	configureSysProcAttr(cmd, s)
	return cmd
}
