package supervise

import (
	"errors"
	"fmt"
	"sync"
)

// Group presents several processes as one logical write target. Every
// operation visits members in insertion order and attempts each of them even
// when an earlier member fails; failures come back joined, one *MemberError
// per failing member.
type Group struct {
	mu      sync.RWMutex
	members []*Process
}

// NewGroup returns a group holding the provided members in order.
func NewGroup(members ...*Process) *Group {
	g := &Group{}
	for _, p := range members {
		g.Add(p)
	}
	return g
}

// Add appends p. Distinctness is the caller's responsibility.
func (g *Group) Add(p *Process) {
	if p == nil {
		return
	}
	g.mu.Lock()
	g.members = append(g.members, p)
	g.mu.Unlock()
}

// Members returns the members in insertion order.
func (g *Group) Members() []*Process {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Process(nil), g.members...)
}

// Len reports the number of members.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Start starts every member.
func (g *Group) Start() error {
	return g.each(func(p *Process) error { return p.Start() })
}

// Monitor runs Monitor on every member.
func (g *Group) Monitor() error {
	return g.each(func(p *Process) error { return p.Monitor() })
}

// Stop stops every member. Each member contains its own failures, so Stop
// cannot fail; it may block for up to the sum of the members' stop timeouts.
func (g *Group) Stop() {
	for _, p := range g.Members() {
		p.Stop()
	}
}

// CloseInput closes every member's standard input.
func (g *Group) CloseInput() error {
	return g.each(func(p *Process) error { return p.CloseInput() })
}

// WriteBuffer delivers data[offset:offset+length] to every member's input.
// All members receive byte-identical data.
func (g *Group) WriteBuffer(data []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset > len(data) || length > len(data)-offset {
		return fmt.Errorf("%w: offset=%d length=%d size=%d", ErrInvalidRange, offset, length, len(data))
	}
	chunk := data[offset : offset+length]
	return g.each(func(p *Process) error {
		n, err := p.Stdin().Write(chunk)
		if err == nil && n < len(chunk) {
			err = &TransientWriteError{Member: p.Name(), Err: fmt.Errorf("short write: %d of %d bytes", n, len(chunk))}
		}
		return err
	})
}

// Write implements io.Writer over WriteBuffer. It always reports len(b) so a
// failing member never truncates delivery to the others.
func (g *Group) Write(b []byte) (int, error) {
	return len(b), g.WriteBuffer(b, 0, len(b))
}

// Status snapshots every member in order.
func (g *Group) Status() []Status {
	members := g.Members()
	out := make([]Status, 0, len(members))
	for _, p := range members {
		out = append(out, p.Status())
	}
	return out
}

func (g *Group) each(fn func(*Process) error) error {
	var errs []error
	for i, p := range g.Members() {
		if err := fn(p); err != nil {
			errs = append(errs, &MemberError{Index: i, Name: p.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}
