package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
api_addr: 127.0.0.1:9090
log_level: debug
log_format: json
log_journal: true
stop_timeout: 3s
audit_log: /var/log/icnswitch/audit.log
rate_limit: 5
rate_burst: 10
run_dir: /run/icnswitch
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIAddr != "127.0.0.1:9090" || cfg.LogLevel != "debug" || cfg.LogFormat != "json" || !cfg.LogJournal {
		t.Errorf("unexpected config %+v", cfg)
	}
	if d, _ := cfg.StopTimeoutDuration(); d != 3*time.Second {
		t.Errorf("stop timeout = %v", d)
	}
	if cfg.RateLimit != 5 || cfg.RateBurst != 10 || cfg.RunDir != "/run/icnswitch" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.RateLimit != DefaultRateLimit {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadCommentsOnly(t *testing.T) {
	cfg, err := Load(writeConfig(t, "# nothing here\n# yet\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log_level: warn\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.StopTimeout != DefaultStopTimeout.String() {
		t.Errorf("stop timeout = %q", cfg.StopTimeout)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	for _, data := range []string{"stop_timeout: later\n", "stop_timeout: -1s\n", "rate_limit: -2\n", "log_level: [a\n"} {
		if _, err := Load(writeConfig(t, data)); err == nil {
			t.Errorf("%q: expected error", data)
		}
	}
}

func TestHomeOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ICNSWITCH_HOME", dir)
	if SocketPath() != filepath.Join(dir, "icnswitch.sock") {
		t.Errorf("SocketPath = %q", SocketPath())
	}
	if Default().RunDir != filepath.Join(dir, "run") {
		t.Errorf("RunDir = %q", Default().RunDir)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ICNSWITCH_LOG_LEVEL", "error")
	t.Setenv("ICNSWITCH_LOG_JOURNAL", "true")
	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.LogLevel != "error" || !cfg.LogJournal {
		t.Errorf("unexpected config %+v", cfg)
	}

	t.Setenv("ICNSWITCH_LOG_JOURNAL", "maybe")
	if err := Default().ApplyEnv(); err == nil {
		t.Error("expected error for bad bool")
	}
}

func TestApplyFlagsOnlyChanged(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log_level: debug\nlog_format: json\n"))
	if err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("daemon", pflag.ContinueOnError)
	Default().RegisterFlags(fs)
	if err := fs.Parse([]string{"--log-format=text", "--rate-limit=2.5"}); err != nil {
		t.Fatal(err)
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		t.Fatalf("ApplyFlags: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("unchanged flag overrode file value: %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" || cfg.RateLimit != 2.5 {
		t.Errorf("changed flags not applied: %+v", cfg)
	}
}
