package tui

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/streamsup/internal/events"
)

func startedEvent(member string, gen int) events.Event {
	return events.Event{Member: member, Type: events.TypeStarted, Generation: gen, Reason: events.ReasonInitialStart}
}

func TestApplyEventTracksLifecycle(t *testing.T) {
	ui := New()
	base := time.Now()

	ui.applyEvent(events.Event{Member: "video", Type: events.TypeStarting, Generation: 1, Timestamp: base})
	ui.applyEvent(events.Event{Member: "video", Type: events.TypeStarted, Generation: 1, Timestamp: base.Add(time.Millisecond)})

	state := ui.members["video"]
	if state == nil || !state.alive || state.generation != 1 {
		t.Fatalf("unexpected state after start: %+v", state)
	}

	ui.applyEvent(events.Event{Member: "video", Type: events.TypeExited, Generation: 1, Message: "exited (code 1)"})
	if state.alive {
		t.Fatalf("expected member to be marked dead after exit")
	}
	ui.applyEvent(events.Event{Member: "video", Type: events.TypeRestarting, Generation: 2, Reason: events.ReasonRespawn})
	ui.applyEvent(events.Event{Member: "video", Type: events.TypeStarted, Generation: 2, Reason: events.ReasonRespawn})

	if !state.alive || state.generation != 2 || state.restarts != 1 {
		t.Fatalf("unexpected state after respawn: %+v", state)
	}
	if state.message != "respawn" {
		t.Fatalf("expected reason as message, got %q", state.message)
	}
	if !state.firstSeen.Equal(base) {
		t.Fatalf("first seen changed: %v", state.firstSeen)
	}

	ui.applyEvent(events.Event{Member: "video", Type: events.TypeWriteError, Err: errors.New("broken pipe")})
	if state.state != events.TypeStarted || !state.alive {
		t.Fatalf("write errors must not change lifecycle state: %+v", state)
	}
	if state.message != "broken pipe" {
		t.Fatalf("unexpected write error message %q", state.message)
	}
}

func TestApplyEventRetainsBoundedLogs(t *testing.T) {
	ui := New(WithMaxLogs(2))
	for _, line := range []string{"one", "two", "three"} {
		ui.applyEvent(events.Event{Member: "audio", Type: events.TypeLog, Source: events.SourceStderr, Message: line})
	}
	ui.applyEvent(events.Event{Type: events.TypeLog, Message: "no member"})

	state := ui.members["audio"]
	if len(state.logs) != 2 || state.logs[0].Message != "two" || state.logs[1].Message != "three" {
		t.Fatalf("unexpected retained logs: %+v", state.logs)
	}
	if len(ui.members) != 1 {
		t.Fatalf("events without a member should be ignored")
	}
}

func TestRefreshTableFiltersAndSelects(t *testing.T) {
	ui := New()
	ui.applyEvent(startedEvent("video", 1))
	ui.applyEvent(startedEvent("audio", 1))
	ui.applyEvent(events.Event{Member: "video", Type: events.TypeLog, Source: events.SourceStderr, Level: "warn", Message: "Past duration too large"})

	ui.mu.Lock()
	defer ui.mu.Unlock()
	ui.refreshTableLocked()
	if got := ui.table.GetCell(1, 0).Text; got != "audio" {
		t.Fatalf("expected sorted rows, first is %q", got)
	}
	if ui.selected != "audio" {
		t.Fatalf("expected first row selected, got %q", ui.selected)
	}

	ui.filter = "vid"
	ui.filterExpr = regexp.MustCompile("vid")
	ui.refreshTableLocked()
	if len(ui.visible) != 1 || ui.visible[0] != "video" {
		t.Fatalf("expected filter to keep only video, got %v", ui.visible)
	}
	if ui.selected != "video" {
		t.Fatalf("expected selection to follow filter, got %q", ui.selected)
	}
	ui.renderLogsLocked()
	if text := ui.logs.GetText(true); !strings.Contains(text, "WARN  [stderr] Past duration too large") {
		t.Fatalf("unexpected log pane %q", text)
	}
}

func TestFormatEventMessage(t *testing.T) {
	tests := []struct {
		name string
		evt  events.Event
		want string
	}{
		{
			name: "message only",
			evt:  events.Event{Message: "exited (code 0)"},
			want: "exited (code 0)",
		},
		{
			name: "error only",
			evt:  events.Event{Err: errors.New("broken pipe")},
			want: "broken pipe",
		},
		{
			name: "message and error",
			evt:  events.Event{Message: "write failed", Err: errors.New("broken pipe")},
			want: "write failed: broken pipe",
		},
		{
			name: "message already carries error",
			evt:  events.Event{Message: "launch video (ffmpeg): not found", Err: errors.New("not found")},
			want: "launch video (ffmpeg): not found",
		},
		{
			name: "reason only",
			evt:  events.Event{Reason: events.ReasonForceKill},
			want: "force_kill",
		},
		{
			name: "message and reason",
			evt:  events.Event{Message: "stopped", Reason: events.ReasonStopTimeout},
			want: "stopped (stop_timeout)",
		},
		{
			name: "secret redacted",
			evt:  events.Event{Err: errors.New("rtmp://h.example.com/live/abc123: connection refused")},
			want: "rtmp://h.example.com/live/[redacted] connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatEventMessage(tt.evt); got != tt.want {
				t.Fatalf("formatEventMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatState(t *testing.T) {
	if got := formatState(events.TypeLaunchFailed); got != "Launch failed" {
		t.Fatalf("unexpected state label %q", got)
	}
	if got := formatState(""); got != "-" {
		t.Fatalf("unexpected empty state label %q", got)
	}
}
