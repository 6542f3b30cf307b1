// Package driver launches and supervises the single worker behind a
// controller: a forked process, a Docker container, an in-process function,
// or a process left over from a previous daemon run.
package driver

import (
	"context"
	"errors"
	"time"
)

// State represents the lifecycle state of a worker as seen by its driver.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

const (
	// DefaultBufSize is the number of output lines kept per worker.
	DefaultBufSize = 1000

	// DefaultKillGrace bounds the wait for a worker to be reaped after SIGKILL.
	DefaultKillGrace = 5 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a driver that has a live worker.
	ErrAlreadyStarted = errors.New("worker already started")

	// ErrNotStarted is returned by Wait before Start.
	ErrNotStarted = errors.New("worker not started")

	// ErrStopTimeout is returned by Stop when the worker could not be reaped
	// even after forced termination.
	ErrStopTimeout = errors.New("worker did not exit after forced termination")
)

// ProcessInfo holds runtime information about a worker.
type ProcessInfo struct {
	PID         int
	ContainerID string
	State       State
	StartedAt   time.Time
	ExitCode    int
	Error       string
}

// Driver is the worker capability a controller depends on. One driver value
// runs at most one worker, once.
type Driver interface {
	// Start launches the worker and returns once it has been spawned. ctx
	// bounds the launch only; the worker outlives it.
	Start(ctx context.Context) error

	// Stop asks the worker to exit, waits up to timeout, then forces it.
	// It returns ErrStopTimeout if the worker still has not been reaped.
	Stop(ctx context.Context, timeout time.Duration) error

	// Info returns current worker state and metadata.
	Info() ProcessInfo

	// Wait blocks until the worker exits and returns its exit code.
	Wait() (int, error)

	// LogLines returns up to the last n lines of worker output.
	LogLines(n int) []string
}
