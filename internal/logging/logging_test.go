package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: FormatJSON, Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("dropped")
	logger.With("service", "forwarder").Warn("worker exited unexpectedly", "exit_code", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["service"] != "forwarder" || rec["msg"] != "worker exited unexpectedly" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("worker started", "service", "http")
	if !strings.Contains(buf.String(), "service=http") {
		t.Errorf("unexpected text output %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("expected error")
	}
}

func TestJournalFields(t *testing.T) {
	h := NewJournalHandler(slog.LevelInfo).
		WithAttrs([]slog.Attr{slog.String("service", "forwarder")}).
		WithGroup("worker").(*JournalHandler)

	r := slog.NewRecord(time.Now(), slog.LevelWarn, "worker exited", 0)
	r.AddAttrs(
		slog.Int("exit-code", 3),
		slog.Bool("crashed", true),
		slog.Duration("uptime", 90*time.Second),
		slog.Group("run", slog.String("id", "abc")),
	)

	fields := h.fields(r)
	want := map[string]string{
		"SYSLOG_IDENTIFIER": SyslogIdentifier,
		"SERVICE":           "forwarder",
		"WORKER_EXIT_CODE":  "3",
		"WORKER_CRASHED":    "true",
		"WORKER_UPTIME":     "1m30s",
		"WORKER_RUN_ID":     "abc",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %q, want %q", k, fields[k], v)
		}
	}
}

func TestJournalAttrsKeepTheirGroups(t *testing.T) {
	h := NewJournalHandler(slog.LevelInfo).
		WithGroup("daemon").
		WithAttrs([]slog.Attr{slog.String("component", "watcher")}).
		WithGroup("reload").
		WithAttrs([]slog.Attr{slog.Int("added", 2)}).(*JournalHandler)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "reload complete", 0)
	r.AddAttrs(slog.Int("removed", 1))

	fields := h.fields(r)
	want := map[string]string{
		"DAEMON_COMPONENT":      "watcher",
		"DAEMON_RELOAD_ADDED":   "2",
		"DAEMON_RELOAD_REMOVED": "1",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %q, want %q", k, fields[k], v)
		}
	}
	if _, ok := fields["DAEMON_RELOAD_COMPONENT"]; ok {
		t.Error("attribute picked up a group added after it")
	}
}

func TestJournalEnabled(t *testing.T) {
	h := NewJournalHandler(slog.LevelWarn)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be filtered")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should pass")
	}
}

func TestMultiHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h).With("component", "daemon")

	logger.Debug("reloading specs")
	logger.Error("spec invalid")

	if strings.Count(a.String(), "\n") != 2 {
		t.Errorf("debug handler got %q", a.String())
	}
	if strings.Count(b.String(), "\n") != 1 || !strings.Contains(b.String(), "component=daemon") {
		t.Errorf("error handler got %q", b.String())
	}
}
