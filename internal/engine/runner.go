package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/streamsup/internal/api"
	"github.com/Paintersrp/streamsup/internal/events"
	"github.com/Paintersrp/streamsup/internal/ffmpeg"
	"github.com/Paintersrp/streamsup/internal/logmux"
	"github.com/Paintersrp/streamsup/internal/metrics"
	"github.com/Paintersrp/streamsup/internal/supervise"
)

const (
	defaultMonitorInterval  = 2 * time.Second
	defaultChunkSize        = 64 * 1024
	defaultEventBuffer      = 256
	defaultWriteLogInterval = 5 * time.Second
)

// Options tunes a Runner. Zero values fall back to defaults, except ForceKill
// which is taken as given.
type Options struct {
	Mode             string
	MonitorInterval  time.Duration
	ChunkSize        int
	StopTimeout      time.Duration
	PollInterval     time.Duration
	ForceKill        bool
	Env              []string
	Dir              string
	EventBuffer      int
	WriteLogInterval time.Duration
	Logger           *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = defaultMonitorInterval
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.WriteLogInterval <= 0 {
		o.WriteLogInterval = defaultWriteLogInterval
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = supervise.DefaultStopTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = supervise.DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Runner drives a supervised group: it feeds the producer stream into every
// member, keeps members alive on a fixed cadence and drains their output into
// the event stream.
type Runner struct {
	opts   Options
	logger *slog.Logger
	group  *supervise.Group
	events chan events.Event
	done   chan struct{}

	// ctlMu serialises Run's start and shutdown with RestartMember.
	ctlMu   sync.Mutex
	started bool
	active  bool

	mu      sync.Mutex
	pending map[string]bool

	closing  atomic.Bool
	pumped   atomic.Int64
	writeLog map[string]*writeErrorLog
}

type writeErrorLog struct {
	last       time.Time
	suppressed int
}

// NewRunner constructs a Runner supervising one member per command.
func NewRunner(cmds []ffmpeg.Command, opts Options) (*Runner, error) {
	if len(cmds) == 0 {
		return nil, errors.New("no commands to supervise")
	}
	opts.applyDefaults()

	r := &Runner{
		opts:     opts,
		logger:   opts.Logger,
		group:    supervise.NewGroup(),
		events:   make(chan events.Event, opts.EventBuffer),
		done:     make(chan struct{}),
		pending:  make(map[string]bool),
		writeLog: make(map[string]*writeErrorLog),
	}

	seen := make(map[string]bool, len(cmds))
	for _, cmd := range cmds {
		if cmd.Name == "" {
			return nil, errors.New("command name is required")
		}
		if seen[cmd.Name] {
			return nil, fmt.Errorf("duplicate member name %q", cmd.Name)
		}
		seen[cmd.Name] = true
		metrics.ResetMember(cmd.Name)

		r.group.Add(supervise.New(cmd.Name, cmd.Argv(),
			supervise.WithLogger(opts.Logger),
			supervise.WithEvents(r.events),
			supervise.WithStopTimeout(opts.StopTimeout),
			supervise.WithPollInterval(opts.PollInterval),
			supervise.WithForceKill(opts.ForceKill),
			supervise.WithEnv(opts.Env...),
			supervise.WithDir(opts.Dir),
		))
	}
	return r, nil
}

// Group exposes the supervised group.
func (r *Runner) Group() *supervise.Group { return r.group }

// Events streams lifecycle and log events. The channel is never closed; use
// Done to learn when Run has returned.
func (r *Runner) Events() <-chan events.Event { return r.events }

// Done is closed once Run returns.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Run starts every member, pumps producer into the group and monitors members
// until the producer reaches EOF or ctx is cancelled, then stops the group.
// Members that fail their initial start are retried on every monitor tick.
//
// At end of stream members first get EOF on their input and up to the stop
// timeout to exit on their own, so encoders can finalise their output.
//
// A producer blocked in Read cannot be interrupted; on cancellation Run
// returns without waiting for it.
func (r *Runner) Run(ctx context.Context, producer io.Reader) error {
	if producer == nil {
		return errors.New("producer is required")
	}
	r.ctlMu.Lock()
	if r.started {
		r.ctlMu.Unlock()
		return errors.New("runner already started")
	}
	r.started = true
	r.active = true
	r.ctlMu.Unlock()
	defer close(r.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.logger.Info("starting members", slog.Int("members", r.group.Len()), slog.String("mode", r.opts.Mode))
	if err := r.group.Start(); err != nil {
		r.markPending(err)
		r.logger.Error("initial start incomplete; retrying on monitor",
			slog.Any("failed", supervise.FailedMembers(err)),
			slog.Any("error", err))
	}

	mux := logmux.New(r.opts.EventBuffer)
	active := func() bool { return runCtx.Err() == nil }
	for _, p := range r.group.Members() {
		mux.Attach(runCtx, p.Name(), events.SourceStderr, p.Stderr(), active)
		mux.Attach(runCtx, p.Name(), events.SourceStdout, p.Stdout(), active)
	}
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for evt := range mux.Output() {
			events.Send(r.events, evt)
		}
	}()

	var monitors sync.WaitGroup
	monitors.Add(1)
	go func() {
		defer monitors.Done()
		r.monitorLoop(runCtx)
	}()

	pumpErr := make(chan error, 1)
	go func() { pumpErr <- r.pump(producer) }()

	var err error
	drain := false
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown requested", slog.Any("cause", context.Cause(ctx)))
	case err = <-pumpErr:
		drain = err == nil
	}

	r.ctlMu.Lock()
	r.closing.Store(true)
	r.active = false
	r.ctlMu.Unlock()
	cancel()
	monitors.Wait()
	if drain {
		r.drainMembers()
	}

	r.ctlMu.Lock()
	r.group.Stop()
	r.ctlMu.Unlock()

	mux.Close()
	<-forwarded
	r.logger.Info("members stopped", slog.Int64("bytes_pumped", r.pumped.Load()))
	return err
}

// drainMembers closes every member's input and waits, bounded by the stop
// timeout, for the members to exit.
func (r *Runner) drainMembers() {
	if err := r.group.CloseInput(); err != nil {
		r.logger.Debug("close member input", slog.Any("error", err))
	}
	deadline := time.Now().Add(r.opts.StopTimeout)
	for {
		alive := 0
		for _, p := range r.group.Members() {
			if p.Probe().Alive() {
				alive++
			}
		}
		if alive == 0 {
			return
		}
		if time.Now().After(deadline) {
			r.logger.Warn("members still running after end of stream", slog.Int("alive", alive))
			return
		}
		time.Sleep(r.opts.PollInterval)
	}
}

func (r *Runner) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	r.retryPending()
	err := r.group.Monitor()
	for _, me := range supervise.MemberErrors(err) {
		r.logger.Warn("monitor failed", slog.String("member", me.Name), slog.Any("error", me.Err))
		events.Send(r.events, events.Event{
			Member:  me.Name,
			Type:    events.TypeMonitorFailed,
			Err:     me.Err,
			Message: me.Err.Error(),
		})
	}
}

func (r *Runner) retryPending() {
	for _, p := range r.group.Members() {
		if !r.isPending(p.Name()) {
			continue
		}
		if err := p.Start(); err != nil {
			continue
		}
		r.setPending(p.Name(), false)
		r.logger.Info("pending member started", slog.String("member", p.Name()))
	}
}

// pump copies the producer into the group chunk by chunk. Failed writes are
// not retried; the member is recovered by the next monitor tick.
func (r *Runner) pump(producer io.Reader) error {
	buf := make([]byte, r.opts.ChunkSize)
	for {
		if r.closing.Load() {
			return nil
		}
		n, err := producer.Read(buf)
		if n > 0 && !r.closing.Load() {
			r.pumped.Add(int64(n))
			if werr := r.group.WriteBuffer(buf, 0, n); werr != nil {
				r.reportWriteErrors(werr)
			}
		}
		if errors.Is(err, io.EOF) {
			r.logger.Info("producer reached end of stream", slog.Int64("bytes", r.pumped.Load()))
			return nil
		}
		if err != nil {
			return fmt.Errorf("read producer: %w", err)
		}
	}
}

func (r *Runner) reportWriteErrors(err error) {
	now := time.Now()
	for _, me := range supervise.MemberErrors(err) {
		events.Send(r.events, events.Event{
			Member:  me.Name,
			Type:    events.TypeWriteError,
			Err:     me.Err,
			Message: me.Err.Error(),
		})

		state := r.writeLog[me.Name]
		if state == nil {
			state = &writeErrorLog{}
			r.writeLog[me.Name] = state
		}
		if !state.last.IsZero() && now.Sub(state.last) < r.opts.WriteLogInterval {
			state.suppressed++
			continue
		}
		r.logger.Warn("write failed",
			slog.String("member", me.Name),
			slog.Int("suppressed", state.suppressed),
			slog.Any("error", me.Err))
		state.last = now
		state.suppressed = 0
	}
}

func (r *Runner) markPending(err error) {
	for _, name := range supervise.FailedMembers(err) {
		r.setPending(name, true)
	}
}

func (r *Runner) setPending(name string, pending bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pending {
		r.pending[name] = true
		return
	}
	delete(r.pending, name)
}

func (r *Runner) isPending(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[name]
}

func (r *Runner) member(name string) *supervise.Process {
	for _, p := range r.group.Members() {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Status implements api.Controller.
func (r *Runner) Status(context.Context) (*api.StatusReport, error) {
	report := &api.StatusReport{
		Mode:        r.opts.Mode,
		GeneratedAt: time.Now(),
		BytesPumped: r.pumped.Load(),
	}
	for _, st := range r.group.Status() {
		member := api.MemberReport{
			Name:       st.Name,
			Command:    st.Command,
			Running:    st.Running,
			Alive:      st.Alive,
			PID:        st.PID,
			Generation: st.Generation,
			Restarts:   st.Restarts,
			RunID:      st.RunID,
			StartedAt:  st.StartedAt,
			Pending:    r.isPending(st.Name),
		}
		if st.LastExit != nil {
			member.LastExit = &api.ExitReport{State: st.LastExit.State.String(), ExitCode: st.LastExit.ExitCode}
			if st.LastExit.Err != nil {
				member.LastExit.Error = st.LastExit.Err.Error()
			}
		}
		report.Members = append(report.Members, member)
	}
	return report, nil
}

// RestartMember stops and relaunches one member. It implements api.Controller.
func (r *Runner) RestartMember(ctx context.Context, name string) (*api.RestartResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.ctlMu.Lock()
	defer r.ctlMu.Unlock()
	if !r.active || r.closing.Load() {
		return nil, api.ErrNotRunning
	}
	p := r.member(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownMember, name)
	}

	r.logger.Info("restart requested", slog.String("member", name))
	p.Stop()
	if err := p.Start(); err != nil {
		r.setPending(name, true)
		return nil, err
	}
	r.setPending(name, false)

	st := p.Status()
	return &api.RestartResult{
		Member:      name,
		PID:         st.PID,
		Generation:  st.Generation,
		CompletedAt: time.Now(),
	}, nil
}

var _ api.Controller = (*Runner)(nil)
