// Package health probes running workers and reports what it finds. Probes
// are informational: a failing probe changes the reported status and
// nothing else.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status represents the health state of a service.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

const defaultThreshold = 3

var healthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "icnswitch_health_status",
	Help: "Probe result per service: 1 healthy, 0 unhealthy, -1 unknown.",
}, []string{"service"})

// Config holds health check configuration, mapped from the spec.
type Config struct {
	Service            string
	Type               string        // "http" | "tcp" | "exec"
	Path               string        // http only
	Port               int           // http and tcp
	Command            string        // exec only
	Interval           time.Duration // time between checks
	Timeout            time.Duration // max time per check
	GracePeriod        time.Duration // delay before first check
	UnhealthyThreshold int           // consecutive failures before unhealthy
}

// Result is the outcome of a single health check.
type Result struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Monitor runs periodic health checks and tracks state.
type Monitor struct {
	cfg      Config
	logger   *slog.Logger
	onChange func(Status)

	mu               sync.Mutex
	status           Status
	last             *Result
	consecutiveFails int
	cancel           context.CancelFunc
	done             chan struct{}
}

// NewMonitor creates a health check monitor. onChange, if set, is called
// after every status transition.
func NewMonitor(cfg Config, logger *slog.Logger, onChange func(Status)) *Monitor {
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = defaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		logger:   logger.With("component", "health"),
		onChange: onChange,
		status:   StatusUnknown,
	}
}

// Start begins periodic health checking. Starting a running monitor is a
// no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.status = StatusUnknown
	m.consecutiveFails = 0
	m.last = nil
	done := m.done
	m.mu.Unlock()

	m.record(StatusUnknown)
	go m.run(ctx, done)
}

// Stop halts the health check loop and resets the status to unknown.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	m.cancel = nil
	m.status = StatusUnknown
	m.mu.Unlock()
	m.record(StatusUnknown)
}

// CurrentStatus returns the current health status.
func (m *Monitor) CurrentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastResult returns the most recent check, or nil before the first one.
func (m *Monitor) LastResult() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	r := *m.last
	return &r
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if m.cfg.GracePeriod > 0 {
		select {
		case <-time.After(m.cfg.GracePeriod):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	started := time.Now()
	err := Probe(checkCtx, m.cfg)

	// A cancelled context means the monitor is shutting down.
	if ctx.Err() != nil {
		return
	}

	result := Result{Status: StatusHealthy, Message: "ok", Duration: time.Since(started), CheckedAt: started}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}

	m.mu.Lock()
	prev := m.status
	m.last = &result
	if err == nil {
		m.consecutiveFails = 0
		m.status = StatusHealthy
	} else {
		m.consecutiveFails++
		if m.consecutiveFails >= m.cfg.UnhealthyThreshold {
			m.status = StatusUnhealthy
		}
	}
	next := m.status
	fails := m.consecutiveFails
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("health check failed", "error", err, "consecutive_fails", fails, "threshold", m.cfg.UnhealthyThreshold)
	}
	if next != prev {
		m.record(next)
		if next == StatusUnhealthy {
			m.logger.Warn("service is unhealthy", "consecutive_fails", fails, "error", err)
		} else {
			m.logger.Info("service is "+string(next))
		}
		if m.onChange != nil {
			m.onChange(next)
		}
	}
}

func (m *Monitor) record(s Status) {
	if m.cfg.Service == "" {
		return
	}
	v := -1.0
	switch s {
	case StatusHealthy:
		v = 1
	case StatusUnhealthy:
		v = 0
	}
	healthGauge.WithLabelValues(m.cfg.Service).Set(v)
}

// Probe runs one health check and returns nil if healthy.
func Probe(ctx context.Context, cfg Config) error {
	switch cfg.Type {
	case "http":
		return checkHTTP(ctx, cfg)
	case "tcp":
		return checkTCP(ctx, cfg)
	case "exec":
		return checkExec(ctx, cfg)
	default:
		return fmt.Errorf("unknown health check type: %s", cfg.Type)
	}
}

// SingleCheck runs one health check bounded by cfg.Timeout.
func SingleCheck(cfg Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	return Probe(ctx, cfg)
}

func checkHTTP(ctx context.Context, cfg Config) error {
	url := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)) + cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	client := &http.Client{Timeout: cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

func checkTCP(ctx context.Context, cfg Config) error {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("tcp connect failed: %w", err)
	}
	conn.Close()
	return nil
}

func checkExec(ctx context.Context, cfg Config) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", cfg.Command)
	if out, err := cmd.CombinedOutput(); err != nil {
		if len(out) > 0 {
			return fmt.Errorf("command failed: %w: %s", err, truncate(string(out), 200))
		}
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
