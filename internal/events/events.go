package events

import (
	"time"
)

// Type captures high level lifecycle notifications emitted by supervised
// processes and the runner driving them.
type Type string

const (
	TypeStarting      Type = "starting"
	TypeStarted       Type = "started"
	TypeExited        Type = "exited"
	TypeRestarting    Type = "restarting"
	TypeLaunchFailed  Type = "launch_failed"
	TypeStopping      Type = "stopping"
	TypeStopped       Type = "stopped"
	TypeLog           Type = "log"
	TypeWriteError    Type = "write_error"
	TypeMonitorFailed Type = "monitor_failed"
)

const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"
	SourceSystem = "system"
)

const (
	ReasonInitialStart = "initial_start"
	ReasonRespawn      = "respawn"
	ReasonStopRequest  = "stop_request"
	ReasonStopTimeout  = "stop_timeout"
	ReasonForceKill    = "force_kill"
	ReasonProbeError   = "probe_error"
	ReasonDropped      = "dropped"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp  time.Time
	Member     string
	Type       Type
	Message    string
	Level      string
	Source     string
	Err        error
	Generation int
	RunID      string
	Reason     string
}

// Send delivers the event without blocking. Callers on the monitor and write
// paths must never stall behind a slow consumer, so a full channel drops the
// event and reports false.
func Send(ch chan<- Event, evt Event) bool {
	if ch == nil {
		return false
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Level == "" {
		evt.Level = levelFor(evt)
	}
	if evt.Source == "" {
		evt.Source = SourceSystem
	}
	select {
	case ch <- evt:
		return true
	default:
		return false
	}
}

func levelFor(evt Event) string {
	switch evt.Type {
	case TypeLaunchFailed, TypeMonitorFailed:
		return "error"
	case TypeExited, TypeWriteError:
		return "warn"
	case TypeLog:
		if evt.Source == SourceStderr {
			return "warn"
		}
	}
	return "info"
}
