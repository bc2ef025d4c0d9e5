package supervise

import (
	"io"

	"github.com/Paintersrp/streamsup/internal/metrics"
)

// inputSink forwards writes to whichever child is attached when the write is
// issued. The handle is fetched under the owner's lock and the write itself
// happens outside it, so a respawn racing a write fails that single write.
type inputSink struct {
	p *Process
}

func (s *inputSink) Write(b []byte) (int, error) {
	h := s.p.currentHandle()
	if h == nil {
		metrics.IncrementWriteError(s.p.name)
		return 0, &TransientWriteError{Member: s.p.name, Err: ErrNotRunning}
	}
	if h.isReleased() {
		metrics.IncrementWriteError(s.p.name)
		return 0, &TransientWriteError{Member: s.p.name, Generation: h.generation, Err: io.ErrClosedPipe}
	}
	n, err := h.stdin.Write(b)
	metrics.AddBytesWritten(s.p.name, n)
	if err != nil {
		metrics.IncrementWriteError(s.p.name)
		return n, &TransientWriteError{Member: s.p.name, Generation: h.generation, Err: err}
	}
	return n, nil
}

// outputSource reads from one of the attached child's output pipes. Reads see
// io.EOF or a closed-pipe error when the child dies; after the next respawn
// the same outputSource reads from the replacement.
type outputSource struct {
	p    *Process
	pick func(*handle) io.Reader
}

func (s *outputSource) Read(b []byte) (int, error) {
	h := s.p.currentHandle()
	if h == nil {
		return 0, ErrNotRunning
	}
	return s.pick(h).Read(b)
}
