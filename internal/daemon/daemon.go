// Package daemon hosts the controllers of every configured service: it loads
// service specs, starts and stops workers in dependency order, persists
// running workers for adoption after a restart and reloads specs on change.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benaskins/icnswitch/internal/audit"
	"github.com/benaskins/icnswitch/internal/command"
	"github.com/benaskins/icnswitch/internal/controller"
	"github.com/benaskins/icnswitch/internal/driver"
	"github.com/benaskins/icnswitch/internal/notify"
	"github.com/benaskins/icnswitch/internal/prefs"
	"github.com/benaskins/icnswitch/internal/spec"
	"github.com/benaskins/icnswitch/internal/template"
)

var (
	// ErrNotFound is returned for a service name no spec defines.
	ErrNotFound = errors.New("service not found")

	// ErrUnknownKey is returned when a preference key is not declared by the
	// service.
	ErrUnknownKey = errors.New("unknown preference key")

	// ErrShutdown is returned for lifecycle requests after Stop or Detach.
	ErrShutdown = errors.New("daemon is shutting down")
)

// SecretMask replaces secret values in listings.
const SecretMask = "********"

// Daemon is the top-level service host.
type Daemon struct {
	specDir     string
	prefsDir    string
	runDir      string
	state       *stateFile
	secrets     prefs.Store
	audit       *audit.Logger
	presenter   notify.Presenter
	events      *controller.Bus
	ownsEvents  bool
	workers     map[string]driver.WorkerFunc
	stopTimeout time.Duration
	logger      *slog.Logger

	// opMu serialises start, stop, restart and reload so a reload never
	// retires a controller that a concurrent start is bringing up.
	opMu   sync.Mutex
	closed bool

	mu          sync.RWMutex
	services    map[string]*Service
	deps        *depGraph
	ctx         context.Context
	unsubscribe func()
}

// Option configures the daemon.
type Option func(*Daemon)

// WithStatePath sets the file recording running workers.
func WithStatePath(path string) Option {
	return func(d *Daemon) { d.state = newStateFile(path) }
}

// WithPrefsDir sets the directory holding per-service preference files.
func WithPrefsDir(dir string) Option {
	return func(d *Daemon) { d.prefsDir = dir }
}

// WithRunDir sets the directory rendered configs default to.
func WithRunDir(dir string) Option {
	return func(d *Daemon) { d.runDir = dir }
}

// WithSecrets sets the store secret preferences are kept in. Without it
// secrets live in memory for the life of the daemon.
func WithSecrets(s prefs.Store) Option {
	return func(d *Daemon) { d.secrets = s }
}

// WithAudit sets the audit log.
func WithAudit(l *audit.Logger) Option {
	return func(d *Daemon) { d.audit = l }
}

// WithPresenter sets how running workers are surfaced to the host.
func WithPresenter(p notify.Presenter) Option {
	return func(d *Daemon) { d.presenter = p }
}

// WithEvents shares an event bus with the daemon's controllers.
func WithEvents(b *controller.Bus) Option {
	return func(d *Daemon) { d.events = b }
}

// WithWorkers registers the in-process workers func services can name.
func WithWorkers(w map[string]driver.WorkerFunc) Option {
	return func(d *Daemon) { d.workers = w }
}

// WithStopTimeout sets the graceful stop timeout for services that do not
// set their own.
func WithStopTimeout(t time.Duration) Option {
	return func(d *Daemon) { d.stopTimeout = t }
}

// WithLogger sets the daemon's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// NewDaemon creates a daemon for the specs in specDir.
func NewDaemon(specDir string, opts ...Option) *Daemon {
	d := &Daemon{
		specDir:     specDir,
		prefsDir:    filepath.Join(specDir, "prefs"),
		runDir:      filepath.Join(specDir, "run"),
		stopTimeout: controller.DefaultStopTimeout,
		presenter:   notify.Nop{},
		services:    make(map[string]*Service),
		logger:      slog.Default(),
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.state == nil {
		d.state = newStateFile(filepath.Join(specDir, "state.json"))
	}
	if d.events == nil {
		d.events = controller.NewBus()
		d.ownsEvents = true
	}
	d.logger = d.logger.With("component", "daemon")
	return d
}

// Events returns the bus carrying every controller transition.
func (d *Daemon) Events() *controller.Bus {
	return d.events
}

// Start loads all specs, adopts workers left by a previous run and starts
// autostart services in dependency order. It then watches the spec
// directory until ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	specs, err := spec.LoadDir(d.specDir)
	if err != nil {
		return fmt.Errorf("loading specs: %w", err)
	}
	d.logger.Info("loaded service specs", "count", len(specs), "dir", d.specDir)

	g := newDepGraph(specs)
	order, err := g.startOrder()
	if err != nil {
		return fmt.Errorf("dependency resolution: %w", err)
	}
	d.logger.Info("start order resolved", "order", order)

	services := make(map[string]*Service, len(specs))
	for _, s := range specs {
		svc, err := d.newService(s)
		if err != nil {
			d.logger.Error("failed to create service", "service", s.Service.Name, "error", err)
			continue
		}
		services[s.Service.Name] = svc
	}

	d.mu.Lock()
	d.ctx = ctx
	d.deps = g
	d.services = services
	d.unsubscribe = d.events.Subscribe(d.onStateChanged)
	d.mu.Unlock()

	prev, err := d.state.load()
	if err != nil {
		d.logger.Warn("failed to load previous state", "error", err)
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	for _, name := range order {
		svc, ok := services[name]
		if !ok {
			continue
		}
		if rec, ok := prev[name]; ok {
			delete(prev, name)
			if d.adopt(svc, rec) {
				continue
			}
			if err := d.state.remove(name); err != nil {
				d.logger.Warn("failed to clear stale state", "service", name, "error", err)
			}
		}
		if !svc.spec.Autostart {
			continue
		}
		if err := d.startService(ctx, name); err != nil && !errors.Is(err, controller.ErrAlreadyRunning) {
			d.logger.Error("failed to start service", "service", name, "error", err)
		}
	}
	for name := range prev {
		if err := d.state.remove(name); err != nil {
			d.logger.Warn("failed to clear stale state", "service", name, "error", err)
		}
	}

	go func() {
		if err := d.StartWatcher(ctx); err != nil {
			d.logger.Error("spec file watcher failed", "error", err)
		}
	}()
	return nil
}

// adopt takes over a native worker recorded by a previous daemon run.
func (d *Daemon) adopt(svc *Service, rec ServiceRecord) bool {
	name := svc.Name()
	if rec.Type != spec.TypeNative || svc.spec.Service.Type != spec.TypeNative || rec.PID <= 0 {
		return false
	}
	if !driver.VerifyProcess(rec.PID, rec.Command, rec.StartTime) {
		d.logger.Warn("PID reuse detected, skipping adoption",
			"service", name, "pid", rec.PID, "expected_command", rec.Command)
		return false
	}
	var startedAt time.Time
	if rec.StartedAt > 0 {
		startedAt = time.Unix(rec.StartedAt, 0)
	}
	drv, err := driver.NewAdopted(rec.PID, startedAt)
	if err != nil {
		d.logger.Info("previous worker not running", "service", name, "pid", rec.PID)
		return false
	}
	if err := svc.ctrl.Adopt(drv, rec.RunID); err != nil {
		d.logger.Error("failed to adopt worker", "service", name, "error", err)
		return false
	}
	return true
}

// onStateChanged keeps health probes and the state file in step with the
// controllers.
func (d *Daemon) onStateChanged(ev controller.StateChanged) {
	d.mu.RLock()
	svc, ok := d.services[ev.Service]
	ctx := d.ctx
	d.mu.RUnlock()
	if !ok {
		// Removed by a reload before its stop was observed.
		if ev.To == controller.StateStopped && !ev.Detached {
			d.state.remove(ev.Service)
		}
		return
	}

	switch ev.To {
	case controller.StateRunning:
		svc.workerUp(ctx)
		if svc.spec.Service.Type != spec.TypeNative {
			return
		}
		if err := d.state.set(ev.Service, d.record(svc)); err != nil {
			d.logger.Warn("failed to save service state", "service", ev.Service, "error", err)
		}
	case controller.StateStopped:
		svc.workerDown()
		if ev.Detached {
			return
		}
		if err := d.state.remove(ev.Service); err != nil {
			d.logger.Warn("failed to clear service state", "service", ev.Service, "error", err)
		}
	}
}

func (d *Daemon) record(svc *Service) ServiceRecord {
	st := svc.ctrl.Status()
	rec := ServiceRecord{
		Type:       svc.spec.Service.Type,
		PID:        st.PID,
		RunID:      st.RunID,
		ConfigPath: st.ConfigPath,
	}
	if !st.StartedAt.IsZero() {
		rec.StartedAt = st.StartedAt.Unix()
	}
	if cmd, err := template.Render(svc.spec.Command(), svc.runConfig()); err == nil {
		rec.Command = cmd
	}
	if st.PID > 0 {
		if t, err := driver.ProcessStartTime(st.PID); err == nil {
			rec.StartTime = t
		}
	}
	return rec
}

// Stop stops every service in reverse dependency order and clears the
// state file.
func (d *Daemon) Stop(ctx context.Context) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	d.closed = true

	d.mu.Lock()
	g := d.deps
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()

	var order []string
	if g != nil {
		var err error
		if order, err = g.stopOrder(); err != nil {
			d.logger.Warn("stop order failed, stopping in name order", "error", err)
			order = g.names()
		}
	}

	var errs []error
	for _, name := range order {
		svc, err := d.service(name)
		if err != nil {
			continue
		}
		if err := svc.ctrl.Stop(ctx); err != nil && !errors.Is(err, controller.ErrNotRunning) {
			d.logger.Error("error stopping service", "service", name, "error", err)
			errs = append(errs, err)
		}
		svc.workerDown()
	}

	if unsubscribe != nil {
		unsubscribe()
	}
	if err := d.state.save(map[string]ServiceRecord{}); err != nil {
		d.logger.Warn("failed to clear state on shutdown", "error", err)
	}
	d.closeEvents()
	d.logger.Info("all services stopped")
	return errors.Join(errs...)
}

// Detach leaves native workers running for the next daemon to adopt and
// stops everything else.
func (d *Daemon) Detach(ctx context.Context) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	d.closed = true

	d.mu.Lock()
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	services := make([]*Service, 0, len(d.services))
	for _, svc := range d.services {
		services = append(services, svc)
	}
	d.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	var errs []error
	for _, svc := range services {
		svc.workerDown()
		if svc.spec.Service.Type == spec.TypeNative {
			if info, runID, ok := svc.ctrl.Release(); ok {
				d.logger.Info("leaving worker running", "service", svc.Name(), "pid", info.PID, "run_id", runID)
				continue
			}
		}
		if err := svc.ctrl.Stop(ctx); err != nil && !errors.Is(err, controller.ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	d.closeEvents()
	return errors.Join(errs...)
}

func (d *Daemon) closeEvents() {
	if d.ownsEvents {
		d.events.Close()
	}
}

func (d *Daemon) service(name string) (*Service, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	svc, ok := d.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return svc, nil
}

func (d *Daemon) graph() *depGraph {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deps
}

// StartService starts a service after its hard dependencies. Starting a
// running service returns an error wrapping controller.ErrAlreadyRunning.
func (d *Daemon) StartService(ctx context.Context, name string) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	if d.closed {
		return ErrShutdown
	}
	return d.startService(ctx, name)
}

func (d *Daemon) startService(ctx context.Context, name string) error {
	svc, err := d.service(name)
	if err != nil {
		return err
	}
	if g := d.graph(); g != nil {
		for _, dep := range g.requiredBy(name) {
			depSvc, err := d.service(dep)
			if err != nil {
				continue
			}
			err = depSvc.ctrl.Start(ctx)
			if err != nil && !errors.Is(err, controller.ErrAlreadyRunning) {
				return fmt.Errorf("starting %s required by %s: %w", dep, name, err)
			}
		}
	}
	return svc.ctrl.Start(ctx)
}

// StopService stops a service after every service that requires it.
// Stopping a stopped service returns an error wrapping
// controller.ErrNotRunning.
func (d *Daemon) StopService(ctx context.Context, name string) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	if d.closed {
		return ErrShutdown
	}
	return d.stopService(ctx, name)
}

func (d *Daemon) stopService(ctx context.Context, name string) error {
	svc, err := d.service(name)
	if err != nil {
		return err
	}
	if g := d.graph(); g != nil {
		for _, dep := range g.cascadeStopTargets(name) {
			depSvc, err := d.service(dep)
			if err != nil {
				continue
			}
			d.logger.Info("cascade stopping dependent", "service", dep, "because", name)
			if err := depSvc.ctrl.Stop(ctx); err != nil && !errors.Is(err, controller.ErrNotRunning) {
				d.logger.Error("error cascade stopping", "service", dep, "error", err)
			}
		}
	}
	return svc.ctrl.Stop(ctx)
}

// RestartService stops a service if it is running and starts it again with
// freshly resolved preferences.
func (d *Daemon) RestartService(ctx context.Context, name string) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	if d.closed {
		return ErrShutdown
	}
	if err := d.stopService(ctx, name); err != nil && !errors.Is(err, controller.ErrNotRunning) {
		return err
	}
	return d.startService(ctx, name)
}

// ServiceStates returns the state of every service, sorted by name.
func (d *Daemon) ServiceStates() []ServiceState {
	d.mu.RLock()
	services := make([]*Service, 0, len(d.services))
	for _, svc := range d.services {
		services = append(services, svc)
	}
	d.mu.RUnlock()

	slices.SortFunc(services, func(a, b *Service) int {
		return strings.Compare(a.Name(), b.Name())
	})
	states := make([]ServiceState, 0, len(services))
	for _, svc := range services {
		states = append(states, svc.State())
	}
	return states
}

// ServiceState returns the state of a single service.
func (d *Daemon) ServiceState(name string) (ServiceState, error) {
	svc, err := d.service(name)
	if err != nil {
		return ServiceState{}, err
	}
	return svc.State(), nil
}

// ServiceLogs returns the last n output lines of a service's worker.
func (d *Daemon) ServiceLogs(name string, n int) ([]string, error) {
	svc, err := d.service(name)
	if err != nil {
		return nil, err
	}
	return svc.ctrl.Logs(n), nil
}

// SendCommand forwards an admin command to a running service's worker.
func (d *Daemon) SendCommand(ctx context.Context, name, cmd string, payload []byte, actor string) ([]byte, error) {
	svc, err := d.service(name)
	if err != nil {
		return nil, err
	}
	if svc.forwarder == nil {
		return nil, fmt.Errorf("%s: %w", name, command.ErrNoControl)
	}
	resp, err := svc.forwarder.Send(ctx, command.Request{Name: cmd, Payload: payload, Actor: actor})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Render shows the config the next start of a service would write, with
// secret values masked.
func (d *Daemon) Render(name string) (string, template.Config, error) {
	svc, err := d.service(name)
	if err != nil {
		return "", nil, err
	}
	return svc.ctrl.RenderMasked(svc.spec.SecretKeys(), SecretMask)
}

// SetPref stores a preference. It takes effect at the service's next start.
func (d *Daemon) SetPref(name, key, value string) error {
	svc, err := d.service(name)
	if err != nil {
		return err
	}
	if !slices.Contains(svc.spec.Keys(), key) {
		return fmt.Errorf("%w: %s has no key %q", ErrUnknownKey, name, key)
	}
	return svc.prefs.Set(key, value)
}

// GetPref returns a preference's stored value, or its default.
func (d *Daemon) GetPref(name, key string) (string, error) {
	svc, err := d.service(name)
	if err != nil {
		return "", err
	}
	if !slices.Contains(svc.spec.Keys(), key) {
		return "", fmt.Errorf("%w: %s has no key %q", ErrUnknownKey, name, key)
	}
	v, err := svc.prefs.Get(key)
	if errors.Is(err, prefs.ErrNotFound) {
		if def, ok := svc.spec.Defaults()[key]; ok {
			return def, nil
		}
	}
	return v, err
}

// ListPrefs returns every declared key with its stored or default value.
// Secret values are masked. Keys with neither are omitted.
func (d *Daemon) ListPrefs(name string) (map[string]string, error) {
	svc, err := d.service(name)
	if err != nil {
		return nil, err
	}
	keys := svc.spec.Keys()
	values, err := svc.prefs.GetMultiple(keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for k, v := range svc.spec.Defaults() {
		out[k] = v
	}
	for k, v := range values {
		out[k] = v
	}
	for _, k := range svc.spec.SecretKeys() {
		if _, ok := out[k]; ok {
			out[k] = SecretMask
		}
	}
	return out, nil
}

// DeletePref removes a stored preference so the default applies again.
func (d *Daemon) DeletePref(name, key string) error {
	svc, err := d.service(name)
	if err != nil {
		return err
	}
	if !slices.Contains(svc.spec.Keys(), key) {
		return fmt.Errorf("%w: %s has no key %q", ErrUnknownKey, name, key)
	}
	return svc.prefs.Delete(key)
}

// ReloadResult summarizes what changed during a reload.
type ReloadResult struct {
	Added     []string `json:"added,omitempty"`
	Removed   []string `json:"removed,omitempty"`
	Restarted []string `json:"restarted,omitempty"`
}

// Reload re-reads specs and reconciles: new services are added (and
// started if autostart), removed ones are stopped and dropped, and changed
// ones are replaced, restarting them if they were running.
func (d *Daemon) Reload(ctx context.Context) (*ReloadResult, error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	if d.closed {
		return nil, ErrShutdown
	}

	specs, err := spec.LoadDir(d.specDir)
	if err != nil {
		return nil, fmt.Errorf("loading specs: %w", err)
	}
	g := newDepGraph(specs)
	if _, err := g.startOrder(); err != nil {
		return nil, fmt.Errorf("dependency resolution: %w", err)
	}

	d.mu.RLock()
	old := make(map[string]*Service, len(d.services))
	for name, svc := range d.services {
		old[name] = svc
	}
	d.mu.RUnlock()

	result := &ReloadResult{}
	fresh := make(map[string]*Service, len(specs))
	var toStart []string

	for _, s := range specs {
		name := s.Service.Name
		prev, exists := old[name]
		if exists && prev.hash == s.Hash() {
			fresh[name] = prev
			continue
		}
		svc, err := d.newService(s)
		if err != nil {
			d.logger.Error("failed to create service", "service", name, "error", err)
			if exists {
				fresh[name] = prev
			}
			continue
		}
		if exists {
			wasRunning := prev.ctrl.State() != controller.StateStopped
			d.stopReplaced(ctx, prev)
			if wasRunning {
				toStart = append(toStart, name)
			}
			result.Restarted = append(result.Restarted, name)
		} else {
			if s.Autostart {
				toStart = append(toStart, name)
			}
			result.Added = append(result.Added, name)
		}
		fresh[name] = svc
	}
	for name, prev := range old {
		if _, ok := fresh[name]; ok {
			continue
		}
		d.logger.Info("removing service", "service", name)
		d.stopReplaced(ctx, prev)
		result.Removed = append(result.Removed, name)
	}
	slices.Sort(result.Removed)

	d.mu.Lock()
	d.services = fresh
	d.deps = g
	d.mu.Unlock()

	for _, name := range toStart {
		if err := d.startService(ctx, name); err != nil && !errors.Is(err, controller.ErrAlreadyRunning) {
			d.logger.Error("failed to start service after reload", "service", name, "error", err)
		}
	}
	return result, nil
}

func (d *Daemon) stopReplaced(ctx context.Context, svc *Service) {
	if err := svc.ctrl.Stop(ctx); err != nil && !errors.Is(err, controller.ErrNotRunning) {
		d.logger.Error("error stopping service", "service", svc.Name(), "error", err)
	}
	svc.workerDown()
}
