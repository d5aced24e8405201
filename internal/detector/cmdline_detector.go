package detector

import (
	"errors"
	"fmt"
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// CmdlineDetector matches live processes whose full command line contains Match.
// The calling process is never matched.
type CmdlineDetector struct{ Match string }

// Find returns the processes currently matching d.Match.
func (d CmdlineDetector) Find() ([]*gopsproc.Process, error) {
	if strings.TrimSpace(d.Match) == "" {
		return nil, errors.New("cmdline detector requires a match string")
	}
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := int32(os.Getpid())
	var out []*gopsproc.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			// exited, zombie, or not ours to inspect
			continue
		}
		if strings.Contains(cmdline, d.Match) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d CmdlineDetector) Alive() (bool, error) {
	ps, err := d.Find()
	if err != nil {
		return false, err
	}
	return len(ps) > 0, nil
}

// Kill force-terminates every matching process and returns how many were signalled.
func (d CmdlineDetector) Kill() (int, error) {
	ps, err := d.Find()
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, p := range ps {
		if err := p.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("kill pid %d: %w", p.Pid, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (d CmdlineDetector) Describe() string { return "cmdline:" + d.Match }
