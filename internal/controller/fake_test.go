package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benaskins/icnswitch/internal/driver"
)

// fakeDriver is a worker that runs until stopped or crashed.
type fakeDriver struct {
	run        Run
	startDelay time.Duration
	startErr   error
	stopErr    error

	mu      sync.Mutex
	state   driver.State
	code    int
	done    chan struct{}
	stopped bool
}

func (d *fakeDriver) Start(ctx context.Context) error {
	if d.startDelay > 0 {
		time.Sleep(d.startDelay)
	}
	if d.startErr != nil {
		return d.startErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = driver.StateRunning
	d.done = make(chan struct{})
	return nil
}

func (d *fakeDriver) Stop(ctx context.Context, timeout time.Duration) error {
	if d.stopErr != nil {
		return d.stopErr
	}
	d.exit(0, driver.StateStopped)
	return nil
}

func (d *fakeDriver) crash(code int) {
	d.exit(code, driver.StateFailed)
}

func (d *fakeDriver) exit(code int, st driver.State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.code = code
	d.state = st
	close(d.done)
}

func (d *fakeDriver) Info() driver.ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.ProcessInfo{PID: 4242, State: d.state, ExitCode: d.code}
}

func (d *fakeDriver) Wait() (int, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return -1, driver.ErrNotStarted
	}
	<-done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.code, nil
}

func (d *fakeDriver) LogLines(n int) []string {
	return []string{"fake worker for " + d.run.Service}
}

// fakeFactory records every driver it hands out.
type fakeFactory struct {
	startDelay time.Duration
	startErr   error
	stopErr    error
	factoryErr error

	spawns  atomic.Int32
	mu      sync.Mutex
	drivers []*fakeDriver
}

func (f *fakeFactory) New(run Run) (driver.Driver, error) {
	if f.factoryErr != nil {
		return nil, f.factoryErr
	}
	f.spawns.Add(1)
	d := &fakeDriver{run: run, startDelay: f.startDelay, startErr: f.startErr, stopErr: f.stopErr}
	f.mu.Lock()
	f.drivers = append(f.drivers, d)
	f.mu.Unlock()
	return d, nil
}

func (f *fakeFactory) last() *fakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.drivers) == 0 {
		return nil
	}
	return f.drivers[len(f.drivers)-1]
}

var errBoom = errors.New("boom")
