package supervise

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/streamsup/internal/events"
	"github.com/Paintersrp/streamsup/internal/metrics"
)

const (
	DefaultStopTimeout  = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Option configures a Process.
type Option func(*Process)

// WithLogger routes lifecycle and release logging to l.
func WithLogger(l *slog.Logger) Option {
	return func(p *Process) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithEvents delivers lifecycle events to ch. Sends never block.
func WithEvents(ch chan<- events.Event) Option {
	return func(p *Process) {
		p.events = ch
	}
}

// WithStopTimeout bounds how long Stop waits for the child to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

// WithPollInterval sets how often Stop probes the child while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithForceKill controls whether Stop sends a kill signal once the graceful
// wait bound has elapsed. It defaults to true.
func WithForceKill(enabled bool) Option {
	return func(p *Process) {
		p.forceKill = enabled
	}
}

// WithEnv appends KEY=VALUE pairs to the inherited environment of every child.
func WithEnv(env ...string) Option {
	return func(p *Process) {
		p.spec.env = append(p.spec.env, env...)
	}
}

// WithDir sets the working directory of every child.
func WithDir(dir string) Option {
	return func(p *Process) {
		p.spec.dir = dir
	}
}

// Process supervises one command line. At most one child is attached at a
// time; Monitor replaces it after an unexpected exit.
type Process struct {
	name string
	spec launchSpec

	stopTimeout  time.Duration
	pollInterval time.Duration
	forceKill    bool

	logger *slog.Logger
	events chan<- events.Event

	// opMu serialises Start, Stop and Monitor.
	opMu sync.Mutex
	// running is the desired state. It is flipped before Stop takes opMu so
	// that a concurrent Monitor turns into a no-op.
	running atomic.Bool

	// mu guards the fields below; endpoint calls only hold it long enough to
	// fetch the current handle.
	mu         sync.RWMutex
	current    *handle
	generation int
	restarts   int
	lastExit   *ProbeResult

	stdin  *inputSink
	stdout *outputSource
	stderr *outputSource
}

// New constructs a Process for argv. No child is launched until Start.
func New(name string, argv []string, opts ...Option) *Process {
	p := &Process{
		name:         name,
		spec:         launchSpec{argv: append([]string(nil), argv...)},
		stopTimeout:  DefaultStopTimeout,
		pollInterval: DefaultPollInterval,
		forceKill:    true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("member", name))
	p.stdin = &inputSink{p: p}
	p.stdout = &outputSource{p: p, pick: func(h *handle) io.Reader { return h.stdout }}
	p.stderr = &outputSource{p: p, pick: func(h *handle) io.Reader { return h.stderr }}
	return p
}

// Name returns the member name used in logs, metrics and events.
func (p *Process) Name() string { return p.name }

// Command returns a copy of the immutable argument list.
func (p *Process) Command() []string { return append([]string(nil), p.spec.argv...) }

// Stdin returns the stable writer feeding the current child's standard input.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout returns the stable reader over the current child's standard output.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr returns the stable reader over the current child's standard error.
func (p *Process) Stderr() io.Reader { return p.stderr }

// KeptAlive reports whether the process is in the running desired state.
func (p *Process) KeptAlive() bool { return p.running.Load() }

// Start launches the child. It is a no-op while already running. On failure
// the process stays stopped and a *LaunchError is returned.
func (p *Process) Start() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if p.running.Load() {
		return nil
	}
	h, err := p.launchLocked(events.ReasonInitialStart)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.current = h
	p.mu.Unlock()
	p.running.Store(true)
	return nil
}

// Monitor relaunches the child if it has exited. It never waits on the child
// and is a no-op once Stop has been requested. A failed relaunch keeps the
// dead handle and is retried on the next call.
func (p *Process) Monitor() error {
	if !p.running.Load() {
		return nil
	}
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if !p.running.Load() {
		return nil
	}

	p.mu.RLock()
	h := p.current
	p.mu.RUnlock()

	if h != nil {
		res := h.probe()
		if res.Alive() {
			return nil
		}
		if !h.isReleased() {
			p.recordExit(h, res)
			p.logReleaseErrors(h.release(p.name))
		}
	}

	next, err := p.launchLocked(events.ReasonRespawn)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.current = next
	p.restarts++
	p.mu.Unlock()
	metrics.IncrementRestart(p.name)
	return nil
}

// Stop terminates the child and releases its endpoints. It may block for up
// to the stop timeout and always returns; release failures are logged only.
// Stop is a no-op when already stopped.
func (p *Process) Stop() {
	if !p.running.Swap(false) {
		return
	}
	p.opMu.Lock()
	defer p.opMu.Unlock()
	// A Start racing between the swap above and the lock may have flipped
	// the flag back; the stop request wins.
	p.running.Store(false)

	p.mu.Lock()
	h := p.current
	p.current = nil
	p.mu.Unlock()
	if h == nil {
		return
	}

	p.emit(events.Event{Type: events.TypeStopping, Generation: h.generation, RunID: h.runID, Reason: events.ReasonStopRequest})
	// A reaped child's pid may already belong to someone else.
	if h.probe().Alive() {
		if err := h.terminate(); err != nil {
			p.logger.Warn("termination request failed", slog.Int("pid", h.pid()), slog.Any("error", err))
		}
	}

	exited := p.waitForExit(h)
	if !exited {
		metrics.IncrementStopTimeout(p.name)
		p.logger.Warn("process did not exit before stop timeout",
			slog.Int("pid", h.pid()),
			slog.Duration("timeout", p.stopTimeout),
			slog.Bool("force_kill", p.forceKill))
		if p.forceKill {
			if err := h.kill(); err != nil {
				p.logger.Warn("kill failed", slog.Int("pid", h.pid()), slog.Any("error", err))
			}
		}
	}

	p.logReleaseErrors(h.release(p.name))
	metrics.SetProcessUp(p.name, false)

	reason := events.ReasonStopRequest
	if !exited {
		reason = events.ReasonStopTimeout
		if p.forceKill {
			reason = events.ReasonForceKill
		}
	}
	p.emit(events.Event{Type: events.TypeStopped, Generation: h.generation, RunID: h.runID, Reason: reason})
	p.logger.Info("process stopped", slog.Int("pid", h.pid()), slog.Bool("exited", exited))
}

// CloseInput closes the current child's standard input so it sees end of
// stream. The child stays supervised and is respawned by Monitor once it exits.
func (p *Process) CloseInput() error {
	h := p.currentHandle()
	if h == nil {
		return ErrNotRunning
	}
	if err := h.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return &ResourceReleaseError{Member: p.name, Endpoint: "stdin", Err: err}
	}
	return nil
}

// Probe checks the current child without blocking.
func (p *Process) Probe() ProbeResult {
	p.mu.RLock()
	h := p.current
	p.mu.RUnlock()
	return h.probe()
}

// Status is a point-in-time snapshot of a Process.
type Status struct {
	Name       string
	Command    []string
	Running    bool
	Alive      bool
	PID        int
	Generation int
	Restarts   int
	RunID      string
	StartedAt  time.Time
	LastExit   *ProbeResult
}

// Status returns a snapshot suitable for reporting.
func (p *Process) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{
		Name:       p.name,
		Command:    p.Command(),
		Running:    p.running.Load(),
		Generation: p.generation,
		Restarts:   p.restarts,
	}
	if p.lastExit != nil {
		last := *p.lastExit
		st.LastExit = &last
	}
	if h := p.current; h != nil {
		st.Alive = h.probe().Alive()
		st.PID = h.pid()
		st.RunID = h.runID
		st.StartedAt = h.startedAt
	}
	return st
}

func (p *Process) launchLocked(reason string) (*handle, error) {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.mu.Unlock()

	evtType := events.TypeStarting
	if reason == events.ReasonRespawn {
		evtType = events.TypeRestarting
	}
	p.emit(events.Event{Type: evtType, Generation: gen, Reason: reason})

	h, err := launch(p.spec, gen)
	if err != nil {
		lerr := &LaunchError{Member: p.name, Command: p.Command(), Err: err}
		metrics.IncrementLaunchFailure(p.name)
		metrics.SetProcessUp(p.name, false)
		p.emit(events.Event{Type: events.TypeLaunchFailed, Generation: gen, Reason: reason, Err: lerr, Message: lerr.Error()})
		p.logger.Error("launch failed", slog.Int("generation", gen), slog.String("reason", reason), slog.Any("error", err))
		return nil, lerr
	}

	metrics.SetProcessUp(p.name, true)
	p.emit(events.Event{Type: events.TypeStarted, Generation: gen, RunID: h.runID, Reason: reason})
	p.logger.Info("process started",
		slog.Int("pid", h.pid()),
		slog.Int("generation", gen),
		slog.String("run_id", h.runID),
		slog.String("reason", reason))
	return h, nil
}

func (p *Process) recordExit(h *handle, res ProbeResult) {
	p.mu.Lock()
	p.lastExit = &res
	p.mu.Unlock()
	metrics.SetProcessUp(p.name, false)

	reason := ""
	if res.State == ProbeFailed {
		reason = events.ReasonProbeError
	}
	p.emit(events.Event{
		Type:       events.TypeExited,
		Generation: h.generation,
		RunID:      h.runID,
		Reason:     reason,
		Err:        res.Err,
		Message:    res.String(),
	})
	p.logger.Warn("process exited unexpectedly",
		slog.Int("pid", h.pid()),
		slog.Int("generation", h.generation),
		slog.String("status", res.String()))
}

// waitForExit polls the child until it exits or the stop timeout elapses.
func (p *Process) waitForExit(h *handle) bool {
	deadline := time.NewTimer(p.stopTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if !h.probe().Alive() {
			return true
		}
		select {
		case <-deadline.C:
			return !h.probe().Alive()
		case <-ticker.C:
		}
	}
}

func (p *Process) logReleaseErrors(errs []error) {
	for _, err := range errs {
		p.logger.Warn("endpoint release failed", slog.Any("error", err))
	}
}

func (p *Process) emit(evt events.Event) {
	evt.Member = p.name
	events.Send(p.events, evt)
}

// currentHandle returns the attached handle, or nil when stopped.
func (p *Process) currentHandle() *handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}
