package api

import (
	stdcontext "context"
	"errors"
	"time"
)

var (
	ErrUnknownMember = errors.New("unknown member")
	ErrNotRunning    = errors.New("runner not active")
)

// ExitReport describes the most recent unexpected exit of a member.
type ExitReport struct {
	State    string `json:"state"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// MemberReport describes the runtime state for a single supervised member.
type MemberReport struct {
	Name       string      `json:"name"`
	Command    []string    `json:"command"`
	Running    bool        `json:"running"`
	Alive      bool        `json:"alive"`
	PID        int         `json:"pid"`
	Generation int         `json:"generation"`
	Restarts   int         `json:"restarts"`
	RunID      string      `json:"run_id,omitempty"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	LastExit   *ExitReport `json:"last_exit,omitempty"`
	Pending    bool        `json:"pending"`
}

// StatusReport aggregates group-wide status information.
type StatusReport struct {
	Mode        string         `json:"mode"`
	GeneratedAt time.Time      `json:"generated_at"`
	BytesPumped int64          `json:"bytes_pumped"`
	Members     []MemberReport `json:"members"`
}

// RestartResult captures the outcome of a restart operation.
type RestartResult struct {
	Member      string    `json:"member"`
	PID         int       `json:"pid"`
	Generation  int       `json:"generation"`
	CompletedAt time.Time `json:"completed_at"`
}

// Controller exposes runner operations required by control servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	RestartMember(stdcontext.Context, string) (*RestartResult, error)
}
