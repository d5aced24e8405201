//go:build windows

package process

import (
	"errors"
	"os"
)

// Windows has no signals; both operations terminate the process.
func terminateGroup(pid int) error { return killGroup(pid) }

func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return killProcess(p)
}

type killer interface{ Kill() error }

// killProcess treats a process that already exited as killed.
func killProcess(p killer) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
