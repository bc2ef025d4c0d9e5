package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces the environment overrides read by ApplyEnv.
const EnvPrefix = "STREAMSUP_"

// Load reads a configuration file from path, expands ${VAR} references,
// validates it against the embedded schema, applies environment overrides and
// defaults, and checks the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Source, err)
	}
	return cfg, nil
}

// Read parses the file at path and applies environment overrides. Defaults
// and semantic checks are left to Finalize so callers can layer flag
// overrides first.
func Read(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Source = absPath
	if err := cfg.resolvePaths(filepath.Dir(absPath)); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Finalize applies defaults and validates the result.
func (c *Config) Finalize() error {
	if err := c.ApplyDefaults(); err != nil {
		return err
	}
	return c.Validate()
}

// Parse decodes a YAML document without applying defaults or overrides.
func Parse(raw []byte) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(raw)))

	var tree map[string]any
	if err := yaml.Unmarshal(expanded, &tree); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := validateAgainstSchema(tree); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(expanded))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &cfg, nil
}

func (c *Config) resolvePaths(base string) error {
	if c.Stream.Workdir != "" && !filepath.IsAbs(c.Stream.Workdir) {
		c.Stream.Workdir = filepath.Clean(filepath.Join(base, c.Stream.Workdir))
	}
	if c.Stream.EnvFromFile == "" {
		return nil
	}
	envPath := c.Stream.EnvFromFile
	if !filepath.IsAbs(envPath) {
		envPath = filepath.Clean(filepath.Join(base, envPath))
	}
	c.Stream.EnvFromFile = envPath

	fileEnv, err := loadEnvFile(envPath)
	if err != nil {
		return fmt.Errorf("%s: %w", fieldPath("stream", "envFromFile"), err)
	}
	merged := make(map[string]string, len(fileEnv)+len(c.Stream.Env))
	for k, v := range fileEnv {
		merged[k] = v
	}
	// Inline values win over the file.
	for k, v := range c.Stream.Env {
		merged[k] = v
	}
	c.Stream.Env = merged
	return nil
}

// ApplyEnv overrides fields from STREAMSUP_* variables resolved by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	get := func(key string) (string, bool) {
		value, ok := lookup(EnvPrefix + key)
		if !ok {
			return "", false
		}
		value = strings.TrimSpace(value)
		return value, value != ""
	}

	if v, ok := get("MODE"); ok {
		c.Stream.Mode = v
	}
	if v, ok := get("DESTINATION"); ok {
		c.Stream.Destination = v
	}
	if v, ok := get("FFMPEG"); ok {
		c.Stream.FFmpeg = v
	}
	if v, ok := get("PORT_OFFSET"); ok {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT_OFFSET: %w", EnvPrefix, err)
		}
		c.Stream.PortOffset = &offset
	}
	durations := []struct {
		key string
		dst *Duration
	}{
		{"MONITOR_INTERVAL", &c.Supervisor.MonitorInterval},
		{"STOP_TIMEOUT", &c.Supervisor.StopTimeout},
		{"POLL_INTERVAL", &c.Supervisor.PollInterval},
	}
	for _, d := range durations {
		if v, ok := get(d.key); ok {
			if err := d.dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, d.key, err)
			}
		}
	}
	if v, ok := get("FORCE_KILL"); ok {
		force, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sFORCE_KILL: %w", EnvPrefix, err)
		}
		c.Supervisor.ForceKill = &force
	}
	if v, ok := get("CHUNK_SIZE"); ok {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCHUNK_SIZE: %w", EnvPrefix, err)
		}
		c.Supervisor.ChunkSize = size
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := get("LISTEN"); ok {
		c.Server.Listen = v
	}
	return nil
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		value = strings.TrimSpace(value)
		switch {
		case strings.HasPrefix(value, `"`):
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		case strings.HasPrefix(value, "'"):
			if len(value) < 2 || !strings.HasSuffix(value, "'") {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		default:
			if comment := strings.IndexRune(value, '#'); comment >= 0 {
				value = strings.TrimSpace(value[:comment])
			}
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
