package controller

import (
	"errors"
	"fmt"

	"github.com/benaskins/icnswitch/internal/template"
)

var (
	// ErrAlreadyRunning is returned by Start when the controller is not
	// stopped. It signals a no-op rather than a failure.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning is returned by Stop when the controller is stopped.
	ErrNotRunning = errors.New("not running")

	// ErrConfig covers everything wrong with a worker's configuration:
	// missing placeholders, unreadable templates, rejected directives.
	ErrConfig = errors.New("config error")

	// ErrIO is returned when the rendered config cannot be written.
	ErrIO = template.ErrIO

	// ErrSpawn is returned when the worker fails to launch.
	ErrSpawn = errors.New("spawn failed")

	// ErrShutdown is returned when the worker could not be reaped.
	ErrShutdown = errors.New("shutdown failed")
)

// StateError reports a start or stop that was a no-op, with the state the
// controller was in.
type StateError struct {
	Service string
	State   State
	Err     error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s (state %s)", e.Service, e.Err, e.State)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// ConfigError wraps a configuration failure.
type ConfigError struct {
	Service string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, ErrConfig, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfig, e.Err}
}

// SpawnError wraps a worker launch failure.
type SpawnError struct {
	Service string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, ErrSpawn, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

// ShutdownError wraps a stop that could not reap the worker.
type ShutdownError struct {
	Service string
	Err     error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, ErrShutdown, e.Err)
}

func (e *ShutdownError) Unwrap() []error {
	return []error{ErrShutdown, e.Err}
}
