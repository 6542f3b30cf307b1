package template

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrIO is returned when a rendered config cannot be written.
var ErrIO = errors.New("config write failed")

// IOError records the path and operation that failed while persisting.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrIO, e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// Persist writes rendered to path, creating parent directories as needed.
// Any previous file at path is replaced atomically. Rendered configs may hold
// secret preferences, so the file is 0600 and new directories 0700.
func Persist(rendered, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmpPath := path + ".tmp"
	os.Remove(tmpPath)
	if err := os.WriteFile(tmpPath, []byte(rendered), 0600); err != nil {
		return &IOError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
