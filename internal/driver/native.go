package driver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/benaskins/icnswitch/internal/logbuf"
)

// NativeConfig holds configuration for a forked worker process.
type NativeConfig struct {
	// Command is split on whitespace into program and arguments unless Args
	// is set, in which case Command is the program and Args are passed as is.
	Command    string
	Args       []string
	Env        []string
	WorkingDir string
	BufSize    int           // output ring size in lines, 0 for default
	KillGrace  time.Duration // wait after SIGKILL, 0 for default
}

// NativeDriver manages a native (fork/exec) worker in its own process group.
type NativeDriver struct {
	command    string
	args       []string
	env        []string
	workingDir string
	killGrace  time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	buf       *logbuf.Ring
	done      chan struct{}
}

// NewNative creates a new native process driver.
func NewNative(cfg NativeConfig) *NativeDriver {
	command, args := cfg.Command, cfg.Args
	if args == nil {
		parts := strings.Fields(cfg.Command)
		if len(parts) > 0 {
			command = parts[0]
			args = parts[1:]
		}
	}

	bufSize := cfg.BufSize
	if bufSize <= 0 {
		bufSize = DefaultBufSize
	}
	killGrace := cfg.KillGrace
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}

	return &NativeDriver{
		command:    command,
		args:       args,
		env:        cfg.Env,
		workingDir: cfg.WorkingDir,
		killGrace:  killGrace,
		state:      StateStopped,
		buf:        logbuf.New(bufSize),
	}
}

func (d *NativeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd != nil {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The worker must not die with the request that started it, so no
	// CommandContext here.
	cmd := exec.Command(d.command, d.args...)
	cmd.Env = d.env
	if d.workingDir != "" {
		cmd.Dir = d.workingDir
	}
	cmd.Stdout = d.buf
	cmd.Stderr = d.buf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	d.state = StateStarting
	if err := cmd.Start(); err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		return fmt.Errorf("starting process: %w", err)
	}

	d.cmd = cmd
	d.state = StateRunning
	d.startedAt = time.Now()
	d.done = make(chan struct{})

	go d.reap()
	return nil
}

func (d *NativeDriver) reap() {
	err := d.cmd.Wait()
	d.buf.Flush()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStopping {
		d.state = StateStopped
	} else {
		d.state = StateFailed
	}

	d.exitCode = 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			d.exitCode = exitErr.ExitCode()
		} else {
			d.exitCode = -1
		}
		d.exitErr = err.Error()
	}
	close(d.done)
}

func (d *NativeDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	pid := d.cmd.Process.Pid
	done := d.done
	d.mu.Unlock()

	_ = unix.Kill(-pid, unix.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return d.kill(pid, done, nil)
	case <-ctx.Done():
		return d.kill(pid, done, ctx.Err())
	}
}

// kill sends SIGKILL to the process group and waits a bounded time for the
// reaper. cause is returned if the worker is reaped in time.
func (d *NativeDriver) kill(pid int, done <-chan struct{}, cause error) error {
	_ = unix.Kill(-pid, unix.SIGKILL)
	select {
	case <-done:
		return cause
	case <-time.After(d.killGrace):
		return fmt.Errorf("pid %d: %w", pid, ErrStopTimeout)
	}
}

func (d *NativeDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := ProcessInfo{
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}
	if d.cmd != nil && d.cmd.Process != nil {
		info.PID = d.cmd.Process.Pid
	}
	return info
}

func (d *NativeDriver) Wait() (int, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return -1, ErrNotStarted
	}
	<-done

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode, nil
}

func (d *NativeDriver) LogLines(n int) []string {
	return d.buf.Last(n)
}
