package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Paintersrp/streamsup/internal/ffmpeg"
)

const (
	defaultMonitorInterval = 2 * time.Second
	defaultStopTimeout     = 10 * time.Second
	defaultPollInterval    = 100 * time.Millisecond
	defaultChunkSize       = 64 * 1024
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the streamsup.yaml document structure.
type Config struct {
	Version    string         `yaml:"version"`
	Stream     StreamSpec     `yaml:"stream"`
	Supervisor SupervisorSpec `yaml:"supervisor"`
	Logging    LoggingSpec    `yaml:"logging"`
	Server     ServerSpec     `yaml:"server"`

	// Source is the absolute path the document was read from, if any.
	Source string `yaml:"-"`
}

// StreamSpec selects the encoder mode and where its output goes.
type StreamSpec struct {
	Mode        string            `yaml:"mode"`
	Destination string            `yaml:"destination"`
	PortOffset  *int              `yaml:"portOffset"`
	FFmpeg      string            `yaml:"ffmpeg"`
	GlobalArgs  []string          `yaml:"globalArgs"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
	Workdir     string            `yaml:"workdir"`
}

// SupervisorSpec tunes monitoring cadence and shutdown.
type SupervisorSpec struct {
	MonitorInterval Duration `yaml:"monitorInterval"`
	StopTimeout     Duration `yaml:"stopTimeout"`
	PollInterval    Duration `yaml:"pollInterval"`
	ForceKill       *bool    `yaml:"forceKill"`
	ChunkSize       int      `yaml:"chunkSize"`
}

// LoggingSpec controls the process logger.
type LoggingSpec struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerSpec configures the optional status and metrics listener.
type ServerSpec struct {
	Listen string `yaml:"listen"`
}

// Default returns a configuration with every default applied and no
// destination set.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() error {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Stream.Mode == "" {
		c.Stream.Mode = string(ffmpeg.ModePassthrough)
	}
	if c.Stream.FFmpeg == "" {
		c.Stream.FFmpeg = ffmpeg.DefaultBinary
	}
	if c.Stream.PortOffset == nil {
		offset := ffmpeg.DefaultPortOffset
		c.Stream.PortOffset = &offset
	}
	if !c.Supervisor.MonitorInterval.IsSet() {
		c.Supervisor.MonitorInterval.Duration = defaultMonitorInterval
	}
	if !c.Supervisor.StopTimeout.IsSet() {
		c.Supervisor.StopTimeout.Duration = defaultStopTimeout
	}
	if !c.Supervisor.PollInterval.IsSet() {
		c.Supervisor.PollInterval.Duration = defaultPollInterval
	}
	if c.Supervisor.ForceKill == nil {
		force := true
		c.Supervisor.ForceKill = &force
	}
	if c.Supervisor.ChunkSize == 0 {
		c.Supervisor.ChunkSize = defaultChunkSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	return nil
}

// Validate checks the configuration for semantic errors, including whether
// the destination can be used with the selected mode.
func (c *Config) Validate() error {
	mode, err := ffmpeg.ParseMode(c.Stream.Mode)
	if err != nil {
		return fmt.Errorf("%s: %w", fieldPath("stream", "mode"), err)
	}
	c.Stream.Mode = string(mode)

	if strings.TrimSpace(c.Stream.Destination) == "" {
		return fmt.Errorf("%s: destination is required", fieldPath("stream", "destination"))
	}
	if c.Stream.PortOffset != nil && *c.Stream.PortOffset < 0 {
		return fmt.Errorf("%s: must not be negative", fieldPath("stream", "portOffset"))
	}
	if _, err := ffmpeg.Build(c.Settings()); err != nil {
		return fmt.Errorf("%s: %w", fieldPath("stream", "destination"), err)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"monitorInterval", c.Supervisor.MonitorInterval.Duration},
		{"stopTimeout", c.Supervisor.StopTimeout.Duration},
		{"pollInterval", c.Supervisor.PollInterval.Duration},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s: must be positive", fieldPath("supervisor", d.name))
		}
	}
	if c.Supervisor.PollInterval.Duration > c.Supervisor.StopTimeout.Duration {
		return fmt.Errorf("%s: must not exceed stopTimeout", fieldPath("supervisor", "pollInterval"))
	}
	if c.Supervisor.ChunkSize <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("supervisor", "chunkSize"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s: unsupported level %q", fieldPath("logging", "level"), c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%s: unsupported format %q", fieldPath("logging", "format"), c.Logging.Format)
	}
	return nil
}

// Settings converts the stream section into command builder input.
func (c *Config) Settings() ffmpeg.Settings {
	mode, _ := ffmpeg.ParseMode(c.Stream.Mode)
	s := ffmpeg.Settings{
		Mode:        mode,
		Destination: c.Stream.Destination,
		Binary:      c.Stream.FFmpeg,
		GlobalArgs:  append([]string(nil), c.Stream.GlobalArgs...),
	}
	if c.Stream.PortOffset != nil {
		s.PortOffset = *c.Stream.PortOffset
	}
	return s
}

// EnvList renders the child environment as sorted KEY=VALUE pairs.
func (c *Config) EnvList() []string {
	keys := make([]string, 0, len(c.Stream.Env))
	for k := range c.Stream.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Stream.Env[k])
	}
	return out
}

// ForceKill reports the effective force kill setting.
func (c *Config) ForceKill() bool {
	return c.Supervisor.ForceKill == nil || *c.Supervisor.ForceKill
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}
