package supervise

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// handle is one launched OS child together with its pipes. A Process replaces
// its handle on every respawn.
type handle struct {
	cmd        *exec.Cmd
	runID      string
	generation int
	startedAt  time.Time

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	done    chan struct{}
	waitErr error

	releaseOnce sync.Once
	released    chan struct{}
}

type launchSpec struct {
	argv []string
	env  []string
	dir  string
}

func launch(spec launchSpec, generation int) (*handle, error) {
	if len(spec.argv) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(spec.argv[0], spec.argv[1:]...)
	cmd.Dir = spec.dir
	if len(spec.env) > 0 {
		cmd.Env = append(os.Environ(), spec.env...)
	}

	// The parent owns every pipe end it keeps. Wait only reaps the child, so
	// output still buffered in the kernel stays readable after the exit.
	var parentEnds, childEnds []io.Closer
	closeAll := func(cs []io.Closer) {
		for _, c := range cs {
			_ = c.Close()
		}
	}

	stdinR, stdin, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	parentEnds, childEnds = append(parentEnds, stdin), append(childEnds, stdinR)

	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(parentEnds)
		closeAll(childEnds)
		return nil, err
	}
	parentEnds, childEnds = append(parentEnds, stdout), append(childEnds, stdoutW)

	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(parentEnds)
		closeAll(childEnds)
		return nil, err
	}
	childEnds = append(childEnds, stderrW)

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	configureCmdSysProcAttr(cmd)

	err = cmd.Start()
	closeAll(childEnds)
	if err != nil {
		closeAll(append(parentEnds, stderr))
		return nil, err
	}

	h := &handle{
		cmd:        cmd,
		runID:      uuid.NewString(),
		generation: generation,
		startedAt:  time.Now(),
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		done:       make(chan struct{}),
		released:   make(chan struct{}),
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

func (h *handle) pid() int {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// probe reports liveness without waiting on the child.
func (h *handle) probe() ProbeResult {
	if h == nil {
		return ProbeResult{State: ProbeFailed, ExitCode: -1, Err: ErrNotRunning}
	}
	select {
	case <-h.done:
		return exitResult(h.waitErr)
	default:
		return ProbeResult{State: StillRunning}
	}
}

func (h *handle) isReleased() bool {
	select {
	case <-h.released:
		return true
	default:
		return false
	}
}

// release closes the three endpoints, attempting each regardless of earlier
// failures. It runs at most once per handle; later calls return nil.
func (h *handle) release(member string) []error {
	var errs []error
	h.releaseOnce.Do(func() {
		defer close(h.released)
		endpoints := []struct {
			name string
			c    io.Closer
		}{
			{"stdin", h.stdin},
			{"stdout", h.stdout},
			{"stderr", h.stderr},
		}
		for _, ep := range endpoints {
			if ep.c == nil {
				continue
			}
			if err := ep.c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs = append(errs, &ResourceReleaseError{Member: member, Endpoint: ep.name, Err: err})
			}
		}
	})
	return errs
}
