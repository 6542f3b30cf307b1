package daemon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/benaskins/icnswitch/internal/command"
	"github.com/benaskins/icnswitch/internal/controller"
	"github.com/benaskins/icnswitch/internal/directive"
	"github.com/benaskins/icnswitch/internal/health"
	"github.com/benaskins/icnswitch/internal/spec"
	"github.com/benaskins/icnswitch/internal/template"
)

// ServiceState is the externally-visible state of a managed service.
type ServiceState struct {
	controller.Status
	Kind      spec.Kind     `json:"kind"`
	Type      string        `json:"type"`
	Health    health.Status `json:"health,omitempty"`
	Autostart bool          `json:"autostart,omitempty"`
	Keys      []string      `json:"keys,omitempty"`
	Commands  []string      `json:"commands,omitempty"`
	Requires  []string      `json:"requires,omitempty"`
}

// Service ties a spec to its controller, preference store, admin command
// forwarder and optional health probe.
type Service struct {
	spec      *spec.ServiceSpec
	hash      string
	ctrl      *controller.Controller
	prefs     *servicePrefs
	forwarder *command.Forwarder
	logger    *slog.Logger

	mu      sync.Mutex
	monitor *health.Monitor
}

func (d *Daemon) newService(s *spec.ServiceSpec) (*Service, error) {
	name := s.Service.Name
	logger := d.logger.With("service", name)
	p := d.newServicePrefs(name, s.SecretKeys())

	inline, tmplPath := s.Template()
	stopTimeout := d.stopTimeout
	if s.StopTimeout.Duration > 0 {
		stopTimeout = s.StopTimeout.Duration
	}

	opts := controller.Options{
		Name:         name,
		Template:     inline,
		TemplatePath: tmplPath,
		ConfigPath:   s.ConfigPath(d.runDir),
		Keys:         s.Keys(),
		Defaults:     s.Defaults(),
		Prefs:        p,
		NewDriver:    d.driverFactory(s),
		StopTimeout:  stopTimeout,
		Presenter:    d.presenter,
		Events:       d.events,
		Audit:        d.audit,
		Logger:       d.logger,
	}
	if s.Kind() == spec.KindForwarder {
		opts.Validate = func(rendered string) error {
			_, err := directive.Check(rendered)
			return err
		}
	}

	ctrl, err := controller.New(opts)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		spec:   s,
		hash:   s.Hash(),
		ctrl:   ctrl,
		prefs:  p,
		logger: logger,
	}

	if c := s.Control; c != nil {
		svc.forwarder = command.NewForwarder(ctrl, command.Options{
			Names: s.ControlNames(),
			Runner: &command.Exec{
				Command:    c.Command,
				Config:     svc.runConfig,
				WorkingDir: s.Service.WorkingDir,
			},
			Timeout: c.Timeout.Duration,
			Audit:   d.audit,
			Logger:  d.logger,
		})
	}

	if h := s.Health; h != nil {
		svc.monitor = health.NewMonitor(health.Config{
			Service:  name,
			Type:     h.Type,
			Path:     h.Path,
			Port:     h.Port,
			Command:  h.Command,
			Interval: h.Interval.Duration,
			Timeout:  h.Timeout.Duration,
		}, logger, nil)
	}
	return svc, nil
}

// runConfig returns the parameters of the current run, so admin commands
// can reference the same values the worker was started with.
func (s *Service) runConfig() template.Config {
	if run, ok := s.ctrl.Run(); ok && run.Config != nil {
		return run.Config
	}
	// Adopted workers carry no run config; resolve it again.
	_, cfg, err := s.ctrl.Render()
	if err != nil {
		s.logger.Warn("resolving command parameters failed", "error", err)
		return template.Config{}
	}
	return cfg
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.spec.Service.Name
}

// Controller returns the service's controller.
func (s *Service) Controller() *controller.Controller {
	return s.ctrl
}

// workerUp starts the health probe for a freshly running worker.
func (s *Service) workerUp(ctx context.Context) {
	s.mu.Lock()
	m := s.monitor
	s.mu.Unlock()
	if m != nil {
		m.Start(ctx)
	}
}

// workerDown stops the health probe.
func (s *Service) workerDown() {
	s.mu.Lock()
	m := s.monitor
	s.mu.Unlock()
	if m != nil {
		m.Stop()
	}
}

// State returns the current service state.
func (s *Service) State() ServiceState {
	st := ServiceState{
		Status:    s.ctrl.Status(),
		Kind:      s.spec.Kind(),
		Type:      s.spec.Service.Type,
		Autostart: s.spec.Autostart,
		Keys:      s.spec.Keys(),
		Commands:  s.spec.ControlNames(),
	}
	if deps := s.spec.Dependencies; deps != nil {
		st.Requires = deps.Requires
	}
	s.mu.Lock()
	if s.monitor != nil {
		st.Health = s.monitor.CurrentStatus()
	}
	s.mu.Unlock()
	return st
}
