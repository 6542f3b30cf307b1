package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStateFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sf := newStateFile(filepath.Join(dir, "state.json"))

	// Initially empty
	records, err := sf.load()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil, got %v", records)
	}

	if err := sf.set("fwd", ServiceRecord{Type: "native", PID: 12345, RunID: "run-1"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	records, err = sf.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec, ok := records["fwd"]; !ok || rec.PID != 12345 || rec.RunID != "run-1" {
		t.Errorf("unexpected record: %v", records)
	}

	if err := sf.set("web", ServiceRecord{Type: "native", PID: 2}); err != nil {
		t.Fatalf("set: %v", err)
	}
	records, _ = sf.load()
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}

	if err := sf.remove("fwd"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := sf.remove("fwd"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	records, _ = sf.load()
	if _, ok := records["fwd"]; ok || len(records) != 1 {
		t.Errorf("expected only web left, got %v", records)
	}

	info, err := os.Stat(sf.path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected mode 0600, got %o", perm)
	}
}

func TestStateFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := newStateFile(path).load(); err == nil {
		t.Fatal("expected error for corrupt state file")
	}

	// set starts over rather than failing forever.
	sf := newStateFile(path)
	if err := sf.set("fwd", ServiceRecord{Type: "native", PID: 1}); err != nil {
		t.Fatalf("set over corrupt file: %v", err)
	}
	records, err := sf.load()
	if err != nil || len(records) != 1 {
		t.Errorf("expected 1 record, got %v, %v", records, err)
	}
}
