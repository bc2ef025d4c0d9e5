package cliutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Paintersrp/streamsup/internal/events"
)

// NewLogger builds the process logger. format is "text" or "json"; level is
// one of debug, info, warn or error.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel maps a level name onto slog.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// LogRecord represents a structured log event ready for JSON encoding.
type LogRecord struct {
	Timestamp  time.Time `json:"ts"`
	Member     string    `json:"member"`
	Type       string    `json:"type"`
	Generation int       `json:"generation,omitempty"`
	Level      string    `json:"level"`
	Message    string    `json:"msg"`
	Source     string    `json:"source"`
	Reason     string    `json:"reason,omitempty"`
}

// NewLogRecord converts a runner event into a structured log record. Messages
// are passed through RedactSecrets since encoder banners echo their output URL.
func NewLogRecord(event events.Event) LogRecord {
	level := event.Level
	if level == "" {
		level = "info"
	}
	source := event.Source
	if source == "" {
		source = events.SourceSystem
	}
	msg := event.Message
	if msg == "" && event.Err != nil {
		msg = event.Err.Error()
	}
	return LogRecord{
		Timestamp:  event.Timestamp,
		Member:     event.Member,
		Type:       string(event.Type),
		Generation: event.Generation,
		Level:      level,
		Message:    RedactSecrets(msg),
		Source:     source,
		Reason:     event.Reason,
	}
}

// EncodeLogEvent encodes a log event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event events.Event) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}

// LogEvent writes a child output line through logger at the event's level.
func LogEvent(logger *slog.Logger, event events.Event) {
	if logger == nil {
		return
	}
	record := NewLogRecord(event)
	lvl, err := ParseLevel(record.Level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("member", record.Member),
		slog.String("source", record.Source),
	}
	if record.Reason != "" {
		attrs = append(attrs, slog.String("reason", record.Reason))
	}
	logger.LogAttrs(context.Background(), lvl, record.Message, attrs...)
}
