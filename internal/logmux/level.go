package logmux

import (
	"regexp"
	"strings"

	"github.com/Paintersrp/streamsup/internal/events"
)

var levelTokenPattern = regexp.MustCompile(`(?i)\b(fatal|error|warning|warn|info|debug)\b`)

// inferLevel maps an encoder log line onto a level. Lines without a level
// token default by stream: stderr is where encoders report, so it is info
// rather than warn.
func inferLevel(line, source string) string {
	if matches := levelTokenPattern.FindStringSubmatch(line); len(matches) == 2 {
		switch strings.ToLower(matches[1]) {
		case "fatal", "error":
			return "error"
		case "warning", "warn":
			return "warn"
		case "debug":
			return "debug"
		default:
			return "info"
		}
	}
	if source == events.SourceSystem {
		return "warn"
	}
	return "info"
}
