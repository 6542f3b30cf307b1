// Package controller owns the lifecycle of one worker per logical service.
//
// A Controller renders the worker's config from a template and the service's
// preferences, writes it to a fixed path, launches the worker through an
// injected driver and tracks it through stopped, starting, running and
// stopping. Start and Stop are idempotent and safe for concurrent callers:
// any number of simultaneous starts spawn exactly one worker.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/benaskins/icnswitch/internal/audit"
	"github.com/benaskins/icnswitch/internal/driver"
	"github.com/benaskins/icnswitch/internal/notify"
	"github.com/benaskins/icnswitch/internal/prefs"
	"github.com/benaskins/icnswitch/internal/template"
)

// State is the lifecycle state of a controller.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// DefaultStopTimeout bounds the graceful part of Stop.
const DefaultStopTimeout = 10 * time.Second

// Run describes one start of a worker. Config is fixed for the whole run.
type Run struct {
	ID         string
	Service    string
	ConfigPath string
	Config     template.Config
}

// DriverFactory builds the driver for a run. It is called once per start,
// after the config has been written.
type DriverFactory func(run Run) (driver.Driver, error)

// Options configure a controller.
type Options struct {
	Name string

	// Template is the config template text. TemplatePath, if set instead, is
	// read at every start. With neither, no config file is written and the
	// worker receives only the resolved parameters.
	Template     string
	TemplatePath string
	// ConfigPath is where the rendered config is written.
	ConfigPath string

	// Keys are the preference keys read at start. Defaults fill the gaps.
	Keys     []string
	Defaults map[string]string
	Prefs    prefs.Store

	// Validate, if set, checks the rendered config before anything is
	// written. Its errors are config errors.
	Validate func(rendered string) error

	NewDriver   DriverFactory
	StopTimeout time.Duration

	Presenter notify.Presenter
	Events    *Bus
	Audit     *audit.Logger
	Logger    *slog.Logger
}

// Status is a point-in-time view of a controller.
type Status struct {
	Name       string       `json:"name"`
	State      State        `json:"state"`
	RunID      string       `json:"run_id,omitempty"`
	PID        int          `json:"pid,omitempty"`
	Container  string       `json:"container,omitempty"`
	ConfigPath string       `json:"config_path,omitempty"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	Uptime     string       `json:"uptime,omitempty"`
	Starts     int          `json:"starts"`
	LastExit   int          `json:"last_exit_code,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	Driver     driver.State `json:"driver_state,omitempty"`
}

// Controller supervises a single worker.
type Controller struct {
	opts   Options
	logger *slog.Logger

	// opMu serialises the work of starting and stopping. It is never held
	// while waiting for callers, only while a transition is in progress.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	drv       driver.Driver
	run       *Run
	exited    chan struct{}
	starts    int
	startedAt time.Time
	lastExit  int
	lastErr   error

	// snapshot mirrors state for lock-free reads.
	snapshot atomic.Value
}

// New creates a stopped controller.
func New(opts Options) (*Controller, error) {
	if opts.Name == "" {
		return nil, errors.New("controller needs a name")
	}
	if opts.NewDriver == nil {
		return nil, fmt.Errorf("controller %s: no driver factory", opts.Name)
	}
	if opts.Template != "" && opts.TemplatePath != "" {
		return nil, fmt.Errorf("controller %s: both inline template and template path set", opts.Name)
	}
	if (opts.Template != "" || opts.TemplatePath != "") && opts.ConfigPath == "" {
		return nil, fmt.Errorf("controller %s: template without config path", opts.Name)
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Presenter == nil {
		opts.Presenter = notify.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		opts:   opts,
		logger: logger.With("service", opts.Name),
		state:  StateStopped,
	}
	c.snapshot.Store(StateStopped)
	recordState(opts.Name, StateStopped)
	return c, nil
}

// Name returns the service name.
func (c *Controller) Name() string {
	return c.opts.Name
}

// State returns the current state without blocking.
func (c *Controller) State() State {
	return c.snapshot.Load().(State)
}

// IsRunning reports, without blocking, whether the worker is running.
func (c *Controller) IsRunning() bool {
	return c.State() == StateRunning
}

// setState must be called with mu held. It returns the event to publish once
// mu is released.
func (c *Controller) setState(to State, crashed bool, err error) StateChanged {
	from := c.state
	c.state = to
	c.snapshot.Store(to)
	recordState(c.opts.Name, to)

	ev := StateChanged{
		Service: c.opts.Name,
		From:    from,
		To:      to,
		Crashed: crashed,
		At:      time.Now(),
	}
	if c.run != nil {
		ev.RunID = c.run.ID
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// Start renders and writes the config, spawns the worker and presents it.
// It returns a *StateError wrapping ErrAlreadyRunning, without touching the
// config file, unless the controller is stopped.
func (c *Controller) Start(ctx context.Context) error {
	if st := c.State(); st != StateStopped {
		return &StateError{Service: c.opts.Name, State: st, Err: ErrAlreadyRunning}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateStopped {
		st := c.state
		c.mu.Unlock()
		return &StateError{Service: c.opts.Name, State: st, Err: ErrAlreadyRunning}
	}
	run := &Run{
		ID:         uuid.NewString(),
		Service:    c.opts.Name,
		ConfigPath: c.opts.ConfigPath,
	}
	c.run = run
	ev := c.setState(StateStarting, false, nil)
	c.mu.Unlock()
	c.opts.Events.Publish(ev)

	drv, err := c.launch(ctx, run)
	if err != nil {
		c.failStart(run, err)
		return err
	}

	exited := make(chan struct{})
	c.mu.Lock()
	c.drv = drv
	c.exited = exited
	c.starts++
	c.startedAt = time.Now()
	c.lastErr = nil
	ev = c.setState(StateRunning, false, nil)
	c.mu.Unlock()

	workerStarts.WithLabelValues(c.opts.Name).Inc()
	go c.watch(drv, run, exited)

	if err := c.opts.Presenter.Present(c.opts.Name, "running"); err != nil {
		c.logger.Warn("presenting background task failed", "error", err)
	}

	info := drv.Info()
	c.logger.Info("worker started", "run_id", run.ID, "pid", info.PID, "config", run.ConfigPath)
	c.opts.Audit.Log(audit.Entry{
		Action:  audit.ActionStart,
		Service: c.opts.Name,
		RunID:   run.ID,
		Actor:   "daemon",
	})
	c.opts.Events.Publish(ev)
	return nil
}

// Render resolves the preferences and renders the config exactly as the
// next start would, without writing anything. For a service without a
// template the rendered text is empty.
func (c *Controller) Render() (string, template.Config, error) {
	return c.render(c.opts.ConfigPath)
}

// RenderMasked is Render with the values of the secret keys replaced by
// mask, in both the returned config and the rendered text.
func (c *Controller) RenderMasked(secret []string, mask string) (string, template.Config, error) {
	rendered, cfg, err := c.render(c.opts.ConfigPath)
	if err != nil {
		return "", nil, err
	}
	masked := cfg.Clone()
	hidden := false
	for _, k := range secret {
		if v, ok := masked[k]; ok && v != "" {
			masked[k] = mask
			hidden = true
		}
	}
	if !hidden || rendered == "" {
		return rendered, masked, nil
	}
	tmpl, err := c.template()
	if err != nil {
		return "", nil, &ConfigError{Service: c.opts.Name, Err: err}
	}
	rendered, err = template.Render(tmpl, masked)
	if err != nil {
		return "", nil, &ConfigError{Service: c.opts.Name, Err: err}
	}
	return rendered, masked, nil
}

func (c *Controller) template() (string, error) {
	if c.opts.TemplatePath != "" {
		return template.Load(c.opts.TemplatePath)
	}
	return c.opts.Template, nil
}

func (c *Controller) render(configPath string) (string, template.Config, error) {
	cfg, err := prefs.Resolve(c.opts.Prefs, c.opts.Keys, c.opts.Defaults)
	if err != nil {
		return "", nil, &ConfigError{Service: c.opts.Name, Err: err}
	}
	if configPath != "" {
		cfg["config_path"] = configPath
	}

	tmpl, err := c.template()
	if err != nil {
		return "", cfg, &ConfigError{Service: c.opts.Name, Err: err}
	}
	if tmpl == "" {
		return "", cfg, nil
	}

	rendered, err := template.Render(tmpl, cfg)
	if err != nil {
		return "", cfg, &ConfigError{Service: c.opts.Name, Err: err}
	}
	if c.opts.Validate != nil {
		if err := c.opts.Validate(rendered); err != nil {
			return "", cfg, &ConfigError{Service: c.opts.Name, Err: err}
		}
	}
	return rendered, cfg, nil
}

// launch does the work of the starting state: resolve, render, validate,
// persist, spawn.
func (c *Controller) launch(ctx context.Context, run *Run) (driver.Driver, error) {
	rendered, cfg, err := c.render(run.ConfigPath)
	if err != nil {
		return nil, err
	}
	run.Config = cfg

	if c.hasTemplate() {
		if err := template.Persist(rendered, run.ConfigPath); err != nil {
			return nil, fmt.Errorf("%s: %w", c.opts.Name, err)
		}
	}

	drv, err := c.opts.NewDriver(*run)
	if err != nil {
		return nil, &SpawnError{Service: c.opts.Name, Err: err}
	}
	if err := drv.Start(ctx); err != nil {
		return nil, &SpawnError{Service: c.opts.Name, Err: err}
	}
	return drv, nil
}

func (c *Controller) hasTemplate() bool {
	return c.opts.Template != "" || c.opts.TemplatePath != ""
}

func (c *Controller) failStart(run *Run, err error) {
	kind := "spawn"
	switch {
	case errors.Is(err, ErrConfig):
		kind = "config"
	case errors.Is(err, ErrIO):
		kind = "io"
	}
	recordStartFailure(c.opts.Name, kind)

	c.mu.Lock()
	c.lastErr = err
	ev := c.setState(StateStopped, false, err)
	c.mu.Unlock()

	c.logger.Error("start failed", "run_id", run.ID, "error", err)
	c.opts.Audit.Log(audit.Entry{
		Action:  audit.ActionStartFailed,
		Service: c.opts.Name,
		RunID:   run.ID,
		Actor:   "daemon",
		Error:   err.Error(),
	})
	c.opts.Events.Publish(ev)
}

// watch waits for the worker to exit. An exit while running is a crash: the
// controller goes straight to stopped and observers are told. Exits during
// stopping belong to Stop.
func (c *Controller) watch(drv driver.Driver, run *Run, exited chan struct{}) {
	code, _ := drv.Wait()
	close(exited)

	c.mu.Lock()
	if c.drv != drv || c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	info := drv.Info()
	crashErr := fmt.Errorf("worker exited with code %d", code)
	if info.Error != "" {
		crashErr = fmt.Errorf("worker exited with code %d: %s", code, info.Error)
	}
	c.lastExit = code
	c.lastErr = crashErr
	ev := c.setState(StateStopped, true, crashErr)
	c.mu.Unlock()

	workerCrashes.WithLabelValues(c.opts.Name).Inc()
	if err := c.opts.Presenter.Withdraw(c.opts.Name); err != nil {
		c.logger.Warn("withdrawing background task failed", "error", err)
	}
	c.logger.Warn("worker exited unexpectedly", "run_id", run.ID, "exit_code", code, "error", info.Error)
	c.opts.Audit.Log(audit.Entry{
		Action:  audit.ActionCrash,
		Service: c.opts.Name,
		RunID:   run.ID,
		Trigger: "worker_exit",
		Error:   crashErr.Error(),
	})
	c.opts.Events.Publish(ev)
}

// Stop terminates the worker: graceful signal, bounded wait, forced kill.
// It returns a *StateError wrapping ErrNotRunning if there is nothing to
// stop. A stop issued while a start is in progress waits for the start and
// then stops the new worker. If the worker cannot be reaped the controller
// still ends stopped and a *ShutdownError is returned.
func (c *Controller) Stop(ctx context.Context) error {
	if c.State() == StateStopped {
		return &StateError{Service: c.opts.Name, State: StateStopped, Err: ErrNotRunning}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateRunning {
		st := c.state
		c.mu.Unlock()
		return &StateError{Service: c.opts.Name, State: st, Err: ErrNotRunning}
	}
	drv, run, exited := c.drv, c.run, c.exited
	ev := c.setState(StateStopping, false, nil)
	c.mu.Unlock()
	c.opts.Events.Publish(ev)

	c.logger.Info("stopping worker", "run_id", run.ID, "timeout", c.opts.StopTimeout)
	stopErr := drv.Stop(ctx, c.opts.StopTimeout)
	if stopErr == nil {
		select {
		case <-exited:
		case <-time.After(driver.DefaultKillGrace):
			stopErr = driver.ErrStopTimeout
		}
	}

	var result error
	if stopErr != nil {
		result = &ShutdownError{Service: c.opts.Name, Err: stopErr}
	}

	c.mu.Lock()
	c.lastExit = drv.Info().ExitCode
	c.lastErr = result
	ev = c.setState(StateStopped, false, result)
	c.mu.Unlock()

	if err := c.opts.Presenter.Withdraw(c.opts.Name); err != nil {
		c.logger.Warn("withdrawing background task failed", "error", err)
	}

	entry := audit.Entry{
		Action:  audit.ActionStop,
		Service: c.opts.Name,
		RunID:   run.ID,
		Actor:   "daemon",
	}
	if result != nil {
		entry.Error = result.Error()
		c.logger.Error("worker did not shut down cleanly", "run_id", run.ID, "error", result)
	} else {
		c.logger.Info("worker stopped", "run_id", run.ID)
	}
	c.opts.Audit.Log(entry)
	c.opts.Events.Publish(ev)
	return result
}

// Adopt takes over a worker left running by a previous daemon, moving the
// controller straight to running without rendering or spawning.
func (c *Controller) Adopt(drv driver.Driver, runID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateStopped {
		st := c.state
		c.mu.Unlock()
		return &StateError{Service: c.opts.Name, State: st, Err: ErrAlreadyRunning}
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	run := &Run{ID: runID, Service: c.opts.Name, ConfigPath: c.opts.ConfigPath}
	exited := make(chan struct{})
	c.run = run
	c.drv = drv
	c.exited = exited
	c.startedAt = drv.Info().StartedAt
	ev := c.setState(StateRunning, false, nil)
	c.mu.Unlock()

	go c.watch(drv, run, exited)
	if err := c.opts.Presenter.Present(c.opts.Name, "running"); err != nil {
		c.logger.Warn("presenting background task failed", "error", err)
	}
	c.logger.Info("adopted running worker", "run_id", runID, "pid", drv.Info().PID)
	c.opts.Events.Publish(ev)
	return nil
}

// Release forgets a running worker without stopping it, so a restarted
// daemon can adopt it. The controller ends stopped.
func (c *Controller) Release() (driver.ProcessInfo, string, bool) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateRunning || c.drv == nil {
		c.mu.Unlock()
		return driver.ProcessInfo{}, "", false
	}
	info := c.drv.Info()
	runID := c.run.ID
	c.drv = nil
	ev := c.setState(StateStopped, false, nil)
	ev.Detached = true
	c.mu.Unlock()

	if err := c.opts.Presenter.Withdraw(c.opts.Name); err != nil {
		c.logger.Warn("withdrawing background task failed", "error", err)
	}
	c.opts.Events.Publish(ev)
	return info, runID, true
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Name:       c.opts.Name,
		State:      c.state,
		ConfigPath: c.opts.ConfigPath,
		Starts:     c.starts,
		LastExit:   c.lastExit,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.run != nil {
		st.RunID = c.run.ID
	}
	if c.drv != nil {
		info := c.drv.Info()
		st.Driver = info.State
		st.Container = info.ContainerID
		if c.state == StateRunning {
			st.PID = info.PID
			st.StartedAt = c.startedAt
			if !c.startedAt.IsZero() {
				st.Uptime = time.Since(c.startedAt).Truncate(time.Second).String()
			}
		}
	}
	return st
}

// Run returns the current or most recent run, if any.
func (c *Controller) Run() (Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return Run{}, false
	}
	return *c.run, true
}

// Logs returns the last n lines of the current or most recent worker.
func (c *Controller) Logs(n int) []string {
	c.mu.Lock()
	drv := c.drv
	c.mu.Unlock()
	if drv == nil {
		return nil
	}
	return drv.LogLines(n)
}
