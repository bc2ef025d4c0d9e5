package cliutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/streamsup/internal/events"
)

func TestEncodeLogEventDefaults(t *testing.T) {
	var out bytes.Buffer
	var errBuf bytes.Buffer

	EncodeLogEvent(json.NewEncoder(&out), &errBuf, events.Event{
		Timestamp: time.Unix(0, 0),
		Member:    "video",
		Type:      events.TypeLog,
		Message:   "frame=  42 fps=25",
	})
	if errBuf.Len() != 0 {
		t.Fatalf("unexpected stderr output: %s", errBuf.String())
	}

	var record LogRecord
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("failed to unmarshal log record: %v", err)
	}
	if record.Level != "info" || record.Source != events.SourceSystem || record.Member != "video" || record.Type != "log" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestEncodeLogEventKeepsProvidedLevel(t *testing.T) {
	var out bytes.Buffer
	var errBuf bytes.Buffer

	EncodeLogEvent(json.NewEncoder(&out), &errBuf, events.Event{
		Timestamp: time.Unix(0, 0),
		Message:   "custom level",
		Level:     "debug",
		Source:    events.SourceStderr,
	})

	var record LogRecord
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("failed to unmarshal log record: %v", err)
	}
	if record.Level != "debug" || record.Source != events.SourceStderr {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestEncodeLogEventFillsTimestampAndMessage(t *testing.T) {
	var out bytes.Buffer
	EncodeLogEvent(json.NewEncoder(&out), &bytes.Buffer{}, events.Event{
		Member: "audio",
		Type:   events.TypeLaunchFailed,
		Err:    errors.New("exec: \"ffmpeg\": executable file not found in $PATH"),
	})

	var record LogRecord
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("failed to unmarshal log record: %v", err)
	}
	if record.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be filled")
	}
	if !strings.Contains(record.Message, "executable file not found") {
		t.Fatalf("expected message from error, got %q", record.Message)
	}
}

func TestEncodeLogEventNilEncoder(t *testing.T) {
	EncodeLogEvent(nil, &bytes.Buffer{}, events.Event{Message: "ignored"})
}

func TestLogEventRedactsDestination(t *testing.T) {
	var out bytes.Buffer
	logger, err := NewLogger(&out, "debug", "json")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	LogEvent(logger, events.Event{
		Member:  "live",
		Type:    events.TypeLog,
		Level:   "error",
		Source:  events.SourceStderr,
		Message: "rtmp://ingest.example.com/live/abcd-1234: I/O error",
	})

	var line map[string]any
	if err := json.Unmarshal(out.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, out.String())
	}
	if line["level"] != "ERROR" {
		t.Fatalf("expected ERROR level, got %v", line["level"])
	}
	msg, _ := line["msg"].(string)
	if strings.Contains(msg, "abcd-1234") || !strings.Contains(msg, "[redacted]") {
		t.Fatalf("expected stream key to be redacted, got %q", msg)
	}
	if line["member"] != "live" || line["source"] != "stderr" {
		t.Fatalf("missing attributes: %v", line)
	}
}

func TestNewLoggerValidatesInput(t *testing.T) {
	if _, err := NewLogger(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := NewLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}

	var out bytes.Buffer
	logger, err := NewLogger(&out, "warn", "")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(out.String(), "hidden") || !strings.Contains(out.String(), "shown") {
		t.Fatalf("unexpected text output %q", out.String())
	}
}
