package supervise

import (
	"errors"
	"fmt"
	"os/exec"
)

// ProbeState is the outcome of a non-blocking liveness check.
type ProbeState int

const (
	// StillRunning means no exit status is available yet.
	StillRunning ProbeState = iota
	// Exited means the child was reaped and its exit code is known.
	Exited
	// ProbeFailed means the child is gone but its status could not be decoded,
	// or there was no child to probe.
	ProbeFailed
)

func (s ProbeState) String() string {
	switch s {
	case StillRunning:
		return "running"
	case Exited:
		return "exited"
	case ProbeFailed:
		return "probe_error"
	default:
		return fmt.Sprintf("ProbeState(%d)", int(s))
	}
}

// ProbeResult carries the probe state and, once the child has exited, its exit
// code. A negative code means the child was terminated by a signal.
type ProbeResult struct {
	State    ProbeState
	ExitCode int
	Err      error
}

// Alive reports whether the probed child is still running.
func (r ProbeResult) Alive() bool {
	return r.State == StillRunning
}

func (r ProbeResult) String() string {
	switch r.State {
	case Exited:
		return fmt.Sprintf("exited(%d)", r.ExitCode)
	case ProbeFailed:
		return fmt.Sprintf("probe_error(%v)", r.Err)
	default:
		return r.State.String()
	}
}

func exitResult(waitErr error) ProbeResult {
	if waitErr == nil {
		return ProbeResult{State: Exited}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return ProbeResult{State: Exited, ExitCode: exitErr.ExitCode(), Err: waitErr}
	}
	return ProbeResult{State: ProbeFailed, ExitCode: -1, Err: waitErr}
}
