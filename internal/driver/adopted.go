package driver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// AdoptedDriver supervises a worker started by a previous daemon run. The
// daemon is not its parent, so exit is detected by polling.
type AdoptedDriver struct {
	pid          int
	pollInterval time.Duration

	mu        sync.Mutex
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	done      chan struct{}
	stopCh    chan struct{}
}

// NewAdopted starts watching an already running process. It fails if pid is
// not alive.
func NewAdopted(pid int, startedAt time.Time) (*AdoptedDriver, error) {
	if err := unix.Kill(pid, 0); err != nil {
		return nil, fmt.Errorf("process %d not alive: %w", pid, err)
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	d := &AdoptedDriver{
		pid:          pid,
		pollInterval: time.Second,
		state:        StateRunning,
		startedAt:    startedAt,
		done:         make(chan struct{}),
		stopCh:       make(chan struct{}),
	}
	go d.monitor()
	return d, nil
}

func (d *AdoptedDriver) monitor() {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !alive(d.pid) {
				d.markExited(-1, "process exited")
				return
			}
		case <-d.stopCh:
			return
		}
	}
}

func (d *AdoptedDriver) markExited(code int, errMsg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateStopping:
		d.state = StateStopped
	case StateRunning:
		d.state = StateFailed
	default:
		return
	}
	d.exitCode = code
	d.exitErr = errMsg
	close(d.done)
}

// Start is a no-op: the worker is already running.
func (d *AdoptedDriver) Start(ctx context.Context) error {
	return nil
}

func (d *AdoptedDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	d.mu.Unlock()

	close(d.stopCh)

	if err := unix.Kill(d.pid, unix.SIGTERM); err != nil {
		d.markExited(0, "")
		return nil
	}

	if d.pollUntilGone(timeout) {
		d.markExited(0, "")
		return nil
	}

	_ = unix.Kill(d.pid, unix.SIGKILL)
	if !d.pollUntilGone(DefaultKillGrace) {
		return fmt.Errorf("pid %d: %w", d.pid, ErrStopTimeout)
	}
	d.markExited(137, "killed")
	return ctx.Err()
}

// pollUntilGone reports whether the process exited within timeout.
func (d *AdoptedDriver) pollUntilGone(timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !alive(d.pid) {
				return true
			}
		case <-deadline:
			return !alive(d.pid)
		}
	}
}

func (d *AdoptedDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	return ProcessInfo{
		PID:       d.pid,
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}
}

func (d *AdoptedDriver) Wait() (int, error) {
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode, nil
}

// LogLines returns nothing: an adopted worker's output went to the previous
// daemon.
func (d *AdoptedDriver) LogLines(n int) []string {
	return nil
}

// alive reports whether pid exists and is not a zombie.
func alive(pid int) bool {
	if err := unix.Kill(pid, 0); err != nil {
		return false
	}
	return !isZombie(pid)
}

// VerifyProcess checks that pid still runs the expected program and started
// at the recorded time, so a recycled PID is never adopted. Zero values skip
// the respective check.
func VerifyProcess(pid int, expectedCommand string, expectedStartTime int64) bool {
	if expectedCommand == "" && expectedStartTime == 0 {
		return true
	}

	if expectedStartTime != 0 {
		actual, err := processStartTime(pid)
		if err != nil || actual != expectedStartTime {
			return false
		}
	}

	parts := strings.Fields(expectedCommand)
	if len(parts) == 0 {
		return true
	}

	actual, err := processName(pid)
	if err != nil {
		return false
	}
	// Kernels truncate the recorded name (15 bytes on Linux).
	want := filepath.Base(parts[0])
	return actual == want || (len(actual) >= 15 && strings.HasPrefix(want, actual))
}

// ProcessStartTime returns the OS-reported start time for a process. The unit
// is platform specific but stable for the lifetime of the process.
func ProcessStartTime(pid int) (int64, error) {
	return processStartTime(pid)
}
