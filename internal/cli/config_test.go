package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func executeRoot(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCmd()
	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func writeConfigFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamsup.yaml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigValidateSuccess(t *testing.T) {
	path := writeConfigFile(t,
		"stream:",
		"  mode: dual-stream",
		"  destination: tcp://127.0.0.1:5000",
	)
	stdout, stderr, err := executeRoot(t, "", "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	want := fmt.Sprintf("%s: OK\n", path)
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
	if stderr != "" {
		t.Fatalf("unexpected stderr output: %q", stderr)
	}
}

func TestConfigValidateSchemaViolation(t *testing.T) {
	path := writeConfigFile(t,
		"stream:",
		"  destination: out.ts",
		"  bitrate: 128k",
	)
	stdout, stderr, err := executeRoot(t, "", "config", "validate", "-c", path)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, "schema validation failed") {
		t.Fatalf("stderr does not mention schema failure: %q", stderr)
	}
}

func TestConfigValidateDualStreamNeedsPort(t *testing.T) {
	path := writeConfigFile(t,
		"stream:",
		"  mode: dual-stream",
		"  destination: example.com",
	)
	_, stderr, err := executeRoot(t, "", "config", "validate", "-c", path)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(stderr, "stream.destination") {
		t.Fatalf("expected error to name the destination field: %q", stderr)
	}
}

func TestConfigValidateRequiresPath(t *testing.T) {
	_, _, err := executeRoot(t, "", "config", "validate")
	if err == nil || !strings.Contains(err.Error(), "--config") {
		t.Fatalf("expected missing --config error, got %v", err)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := writeConfigFile(t,
		"stream:",
		"  mode: live-push",
		"  destination: rtmp://live.example.com/app/sk_live_123",
		"  env:",
		"    STREAM_KEY: sk_live_123",
	)
	stdout, _, err := executeRoot(t, "", "config", "show", "-c", path, "--log-level", "debug")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if strings.Contains(stdout, "sk_live_123") {
		t.Fatalf("secret leaked into output:\n%s", stdout)
	}
	for _, want := range []string{
		"mode: live-push",
		"destination: rtmp://live.example.com/app/[redacted]",
		"STREAM_KEY: '[redacted]'",
		"monitorInterval: 2s",
		"level: debug",
	} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in output:\n%s", want, stdout)
		}
	}

	stdout, _, err = executeRoot(t, "", "config", "show", "-c", path, "--show-secrets")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(stdout, "STREAM_KEY: sk_live_123") {
		t.Fatalf("expected unmasked env with --show-secrets:\n%s", stdout)
	}
}

func TestConfigShowFromEnvironment(t *testing.T) {
	t.Setenv("STREAMSUP_DESTINATION", "udp://239.0.0.1:7000")
	t.Setenv("STREAMSUP_MODE", "3")
	stdout, _, err := executeRoot(t, "", "config", "show")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(stdout, "mode: dual-stream") || !strings.Contains(stdout, "destination: udp://239.0.0.1:7000") {
		t.Fatalf("expected environment overrides in output:\n%s", stdout)
	}
}
