//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// terminateGroup asks the process group led by pid to exit.
func terminateGroup(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

// killGroup force-kills the process group led by pid.
func killGroup(pid int) error { return signalGroup(pid, syscall.SIGKILL) }

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		// group already gone; fall back to the leader alone
		err = syscall.Kill(pid, sig)
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
	}
	return err
}
