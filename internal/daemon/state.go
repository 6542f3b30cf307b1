package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// stateFile persists the workers of running services so a restarted daemon
// can adopt them.
type stateFile struct {
	path string
	mu   sync.Mutex
}

// ServiceRecord is the persisted state of a running service.
type ServiceRecord struct {
	Type       string `json:"type"`
	PID        int    `json:"pid,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	ConfigPath string `json:"config_path,omitempty"`
	StartedAt  int64  `json:"started_at,omitempty"` // Unix timestamp
	Command    string `json:"command,omitempty"`    // rendered command for PID reuse detection
	StartTime  int64  `json:"start_time,omitempty"` // OS-reported process start time for PID reuse detection
}

func newStateFile(path string) *stateFile {
	return &stateFile{path: path}
}

func (sf *stateFile) load() (map[string]ServiceRecord, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.loadLocked()
}

func (sf *stateFile) save(records map[string]ServiceRecord) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.saveLocked(records)
}

func (sf *stateFile) set(name string, rec ServiceRecord) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	records, err := sf.loadLocked()
	if err != nil || records == nil {
		records = make(map[string]ServiceRecord)
	}
	records[name] = rec
	return sf.saveLocked(records)
}

func (sf *stateFile) remove(name string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	records, err := sf.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := records[name]; !ok {
		return nil
	}
	delete(records, name)
	return sf.saveLocked(records)
}

// loadLocked reads the file; caller must hold sf.mu.
func (sf *stateFile) loadLocked() (map[string]ServiceRecord, error) {
	data, err := os.ReadFile(sf.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var records map[string]ServiceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return records, nil
}

func (sf *stateFile) saveLocked(records map[string]ServiceRecord) error {
	if err := os.MkdirAll(filepath.Dir(sf.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := sf.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, sf.path)
}
