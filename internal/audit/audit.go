// Package audit records controller lifecycle edges and preference changes
// to an append-only newline-delimited JSON file (~/.icnswitch/audit.log).
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionStart       Action = "service_start"
	ActionStartFailed Action = "service_start_failed"
	ActionStop        Action = "service_stop"
	ActionCrash       Action = "service_crash"
	ActionCommand     Action = "service_command"
	ActionPrefWrite   Action = "pref_write"
	ActionPrefDelete  Action = "pref_delete"
	ActionSecretRead  Action = "secret_read"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Service   string    `json:"service,omitempty"`
	Key       string    `json:"key,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`   // "cli", "daemon", "ui"
	Trigger   string    `json:"trigger,omitempty"` // "api", "autostart", "cascade", "worker_exit"
	Command   string    `json:"command,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file. A nil *Logger discards
// everything, so callers never need to check whether auditing is enabled.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if l == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}
