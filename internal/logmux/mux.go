package logmux

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Paintersrp/streamsup/internal/events"
)

const (
	defaultRetry   = 100 * time.Millisecond
	maxLineLength  = 1 << 20
	initialLineBuf = 64 * 1024
)

// Mux drains child output streams line by line and delivers them as log
// events through a bounded channel. When the consumer falls behind, lines are
// dropped and a synthesized warning reports how many were discarded.
//
// Child stderr must be drained continuously: an encoder blocked on a full
// stderr pipe stops consuming its input.
type Mux struct {
	out   chan events.Event
	retry time.Duration

	mu      sync.Mutex
	drops   map[string]int
	sources sync.WaitGroup
}

// Option configures a Mux.
type Option func(*Mux)

// WithRetry sets how long a drain waits before re-reading a source whose
// child has gone away but is still supervised.
func WithRetry(d time.Duration) Option {
	return func(m *Mux) {
		if d > 0 {
			m.retry = d
		}
	}
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int, opts ...Option) *Mux {
	if size <= 0 {
		size = 1
	}
	m := &Mux{
		out:   make(chan events.Event, size),
		retry: defaultRetry,
		drops: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan events.Event {
	return m.out
}

// Attach starts draining r on behalf of member. When a read ends while alive
// still reports true the drain waits and resumes on the same reader, which
// lets it follow a supervised process across respawns. The drain exits once
// ctx is done or alive reports false.
func (m *Mux) Attach(ctx context.Context, member, source string, r io.Reader, alive func() bool) {
	if r == nil {
		return
	}
	if alive == nil {
		alive = func() bool { return false }
	}
	m.sources.Add(1)
	go func() {
		defer m.sources.Done()
		for {
			m.drain(member, source, r)
			if ctx.Err() != nil || !alive() {
				return
			}
			timer := time.NewTimer(m.retry)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// Close waits for every attached source to finish, emits pending drop
// notices and closes the output channel. Sources only finish once their
// reader fails, so supervised processes must be stopped first.
func (m *Mux) Close() {
	m.sources.Wait()
	for member, count := range m.collectDrops() {
		m.out <- dropEvent(member, count)
	}
	close(m.out)
}

func (m *Mux) drain(member, source string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuf), maxLineLength)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m.deliver(events.Event{
			Timestamp: time.Now(),
			Member:    member,
			Type:      events.TypeLog,
			Message:   line,
			Source:    source,
			Level:     inferLevel(line, source),
		})
	}
}

func (m *Mux) deliver(evt events.Event) {
	if !m.flushPending(evt.Member) {
		m.recordDrops(evt.Member, 1)
		return
	}
	if !m.trySend(evt) {
		m.recordDrops(evt.Member, 1)
	}
}

func (m *Mux) flushPending(member string) bool {
	m.mu.Lock()
	count := m.drops[member]
	delete(m.drops, member)
	m.mu.Unlock()
	if count == 0 {
		return true
	}
	if m.trySend(dropEvent(member, count)) {
		return true
	}
	m.recordDrops(member, count)
	return false
}

func (m *Mux) recordDrops(member string, count int) {
	m.mu.Lock()
	m.drops[member] += count
	m.mu.Unlock()
}

func (m *Mux) collectDrops() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.drops
	m.drops = make(map[string]int)
	return pending
}

func (m *Mux) trySend(evt events.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func dropEvent(member string, count int) events.Event {
	return events.Event{
		Timestamp: time.Now(),
		Member:    member,
		Type:      events.TypeLog,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Source:    events.SourceSystem,
		Reason:    events.ReasonDropped,
	}
}

// scanLines splits on \n and on the bare \r that encoders use to redraw
// their progress line.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
