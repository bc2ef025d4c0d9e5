package supervise

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is reported by endpoints and probes when no child is attached.
	ErrNotRunning = errors.New("process is not running")
	// ErrEmptyCommand is wrapped in a LaunchError when the argument list is empty.
	ErrEmptyCommand = errors.New("empty command line")
	// ErrInvalidRange is returned by WriteBuffer when offset and length fall outside the buffer.
	ErrInvalidRange = errors.New("write range out of bounds")
)

// LaunchError reports that the operating system refused to create a child.
type LaunchError struct {
	Member  string
	Command []string
	Err     error
}

func (e *LaunchError) Error() string {
	bin := ""
	if len(e.Command) > 0 {
		bin = e.Command[0]
	}
	return fmt.Sprintf("launch %s (%s): %v", e.Member, bin, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TransientWriteError reports a write that landed on a dead or absent child.
// The next Monitor tick recovers the member; the bytes are not retried.
type TransientWriteError struct {
	Member     string
	Generation int
	Err        error
}

func (e *TransientWriteError) Error() string {
	return fmt.Sprintf("write to %s (generation %d): %v", e.Member, e.Generation, e.Err)
}

func (e *TransientWriteError) Unwrap() error { return e.Err }

// ResourceReleaseError reports a failure closing one endpoint during Stop. It is
// logged and never returned to callers.
type ResourceReleaseError struct {
	Member   string
	Endpoint string
	Err      error
}

func (e *ResourceReleaseError) Error() string {
	return fmt.Sprintf("release %s %s: %v", e.Member, e.Endpoint, e.Err)
}

func (e *ResourceReleaseError) Unwrap() error { return e.Err }

// MemberError attributes a group operation failure to one member.
type MemberError struct {
	Index int
	Name  string
	Err   error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("member %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *MemberError) Unwrap() error { return e.Err }

// MemberErrors returns the MemberErrors joined into err, in member order.
func MemberErrors(err error) []*MemberError {
	if err == nil {
		return nil
	}
	var out []*MemberError
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case *MemberError:
			out = append(out, e)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}

// FailedMembers lists the members named by the MemberErrors joined into err.
func FailedMembers(err error) []string {
	var out []string
	for _, me := range MemberErrors(err) {
		out = append(out, me.Name)
	}
	return out
}
