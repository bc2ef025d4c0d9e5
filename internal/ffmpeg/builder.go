// Package ffmpeg builds the argument lists for the encoder processes fed by
// the supervisor. Building is pure: no process is started here.
package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/docker/go-connections/nat"
)

// DefaultBinary is used when Settings.Binary is empty.
const DefaultBinary = "ffmpeg"

// DefaultPortOffset separates the audio branch of a dual stream from the
// video branch.
const DefaultPortOffset = 1

// Mode selects how the producer stream is forwarded.
type Mode string

const (
	// ModePassthrough re-containerises the stream into MPEG-TS without re-encoding.
	ModePassthrough Mode = "passthrough"
	// ModeLivePush re-encodes audio to AAC and pushes FLV (RTMP style).
	ModeLivePush Mode = "live-push"
	// ModeDualStream splits the stream into an MJPEG video branch and a WAV
	// audio branch on a derived port.
	ModeDualStream Mode = "dual-stream"
)

// Modes lists the supported modes in their legacy numeric order.
func Modes() []Mode {
	return []Mode{ModePassthrough, ModeLivePush, ModeDualStream}
}

// ParseMode accepts a mode name or its legacy stream_type number ("1".."3").
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "1", string(ModePassthrough), "mpegts":
		return ModePassthrough, nil
	case "2", string(ModeLivePush), "rtmp":
		return ModeLivePush, nil
	case "3", string(ModeDualStream), "mpjpeg":
		return ModeDualStream, nil
	}
	return "", fmt.Errorf("unknown stream mode %q", value)
}

// Settings is the user supplied configuration consumed by Build.
type Settings struct {
	Mode        Mode
	Destination string
	PortOffset  int
	Binary      string
	// GlobalArgs are inserted between the binary and the per-mode arguments,
	// e.g. "-hide_banner" or "-loglevel warning".
	GlobalArgs []string
}

// Command is one ready to execute argument list.
type Command struct {
	// Name identifies the branch, e.g. "video" or "audio".
	Name        string
	Args        []string
	Destination string
}

// Argv returns the full argument vector with the binary first.
func (c Command) Argv() []string {
	return append([]string(nil), c.Args...)
}

// Build produces one Command per OS process required by the settings.
func Build(s Settings) ([]Command, error) {
	if strings.TrimSpace(s.Destination) == "" {
		return nil, &InvalidDestinationError{Destination: s.Destination, Reason: "destination is empty"}
	}
	mode := s.Mode
	if mode == "" {
		mode = ModePassthrough
	}

	switch mode {
	case ModePassthrough:
		return []Command{s.command("mpegts", mpegtsArgs(), s.Destination)}, nil
	case ModeLivePush:
		return []Command{s.command("flv", flvArgs(), s.Destination)}, nil
	case ModeDualStream:
		offset := s.PortOffset
		if offset == 0 {
			offset = DefaultPortOffset
		}
		audioDest, err := OffsetPort(s.Destination, offset)
		if err != nil {
			return nil, err
		}
		return []Command{
			s.command("video", mpjpegArgs(), s.Destination),
			s.command("audio", wavArgs(), audioDest),
		}, nil
	}
	return nil, fmt.Errorf("unknown stream mode %q", mode)
}

func (s Settings) command(name string, modeArgs []string, dest string) Command {
	bin := s.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	args := make([]string, 0, 1+len(s.GlobalArgs)+len(modeArgs)+1)
	args = append(args, bin)
	args = append(args, s.GlobalArgs...)
	args = append(args, modeArgs...)
	args = append(args, dest)
	return Command{Name: name, Args: args, Destination: dest}
}

func mpegtsArgs() []string {
	return []string{"-i", "-", "-codec:v", "copy", "-codec:a", "copy", "-bsf:v", "dump_extra", "-f", "mpegts"}
}

func flvArgs() []string {
	return []string{"-i", "-", "-strict", "-2", "-codec:v", "copy", "-codec:a", "aac", "-b:a", "128k", "-f", "flv"}
}

func mpjpegArgs() []string {
	return []string{"-an", "-i", "-", "-codec:v", "mjpeg", "-qmin", "1", "-qmax", "1", "-f", "mpjpeg"}
}

func wavArgs() []string {
	return []string{"-vn", "-i", "-", "-codec:a", "pcm_s16le", "-f", "wav"}
}

// OffsetPort adds offset to the port that follows the last ':' in dest. Any
// text after the port digits, such as a path or query, is kept as is.
func OffsetPort(dest string, offset int) (string, error) {
	idx := strings.LastIndex(dest, ":")
	if idx < 0 {
		return "", &InvalidDestinationError{Destination: dest, Reason: "destination has no port"}
	}
	start := idx + 1
	end := start
	for end < len(dest) && unicode.IsDigit(rune(dest[end])) {
		end++
	}
	if end == start {
		return "", &InvalidDestinationError{Destination: dest, Reason: "destination has no numeric port"}
	}

	port, err := strconv.Atoi(dest[start:end])
	if err != nil {
		return "", &InvalidDestinationError{Destination: dest, Reason: "port out of range", Err: err}
	}
	derived := port + offset
	if _, err := nat.ParsePort(strconv.Itoa(derived)); err != nil || derived <= 0 {
		return "", &InvalidDestinationError{
			Destination: dest,
			Reason:      fmt.Sprintf("derived port %d is not a valid port", derived),
			Err:         err,
		}
	}
	return dest[:start] + strconv.Itoa(derived) + dest[end:], nil
}

// InvalidDestinationError reports a destination that cannot be used with the
// selected mode. It is raised before any process exists.
type InvalidDestinationError struct {
	Destination string
	Reason      string
	Err         error
}

func (e *InvalidDestinationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid destination %q: %s: %v", e.Destination, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid destination %q: %s", e.Destination, e.Reason)
}

func (e *InvalidDestinationError) Unwrap() error { return e.Err }
