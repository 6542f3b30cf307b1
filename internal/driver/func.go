package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benaskins/icnswitch/internal/logbuf"
)

// WorkerFunc is an in-process worker entry point. It receives the rendered
// config path, blocks until the worker stops, and must return once ctx is
// cancelled. Output written to out is kept in the driver's log buffer.
type WorkerFunc func(ctx context.Context, configPath string, out io.Writer) error

// FuncConfig holds configuration for an in-process worker.
type FuncConfig struct {
	Name       string
	ConfigPath string
	Run        WorkerFunc
	BufSize    int
}

// FuncDriver runs a WorkerFunc on its own goroutine. Stop cancels the
// function's context; a function that ignores cancellation cannot be forced,
// so Stop reports ErrStopTimeout after the timeout instead.
type FuncDriver struct {
	cfg FuncConfig

	mu        sync.Mutex
	cancel    context.CancelFunc
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	buf       *logbuf.Ring
	done      chan struct{}
}

// NewFunc creates a driver for an in-process worker.
func NewFunc(cfg FuncConfig) *FuncDriver {
	if cfg.BufSize <= 0 {
		cfg.BufSize = DefaultBufSize
	}
	return &FuncDriver{
		cfg:   cfg,
		state: StateStopped,
		buf:   logbuf.New(cfg.BufSize),
	}
}

func (d *FuncDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done != nil {
		return ErrAlreadyStarted
	}
	if d.cfg.Run == nil {
		d.state = StateFailed
		d.exitErr = "no worker function"
		return fmt.Errorf("worker %s: no worker function", d.cfg.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.state = StateRunning
	d.startedAt = time.Now()
	d.done = make(chan struct{})

	go d.run(runCtx)
	return nil
}

func (d *FuncDriver) run(ctx context.Context) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panic: %v", r)
			}
		}()
		err = d.cfg.Run(ctx, d.cfg.ConfigPath, d.buf)
	}()
	d.buf.Flush()

	d.mu.Lock()
	defer d.mu.Unlock()

	stopping := d.state == StateStopping
	if stopping {
		d.state = StateStopped
	} else {
		d.state = StateFailed
	}

	switch {
	case err == nil, stopping && errors.Is(err, context.Canceled):
		d.exitCode = 0
	default:
		d.exitCode = 1
		d.exitErr = err.Error()
	}
	d.cancel()
	close(d.done)
}

func (d *FuncDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	done := d.done
	d.cancel()
	d.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker %s: %w", d.cfg.Name, ErrStopTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *FuncDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ProcessInfo{
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}
}

func (d *FuncDriver) Wait() (int, error) {
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

func (d *FuncDriver) LogLines(n int) []string {
	return d.buf.Last(n)
}
