package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
)

// Systemd reports running workers through sd_notify. The unit status line
// lists every presented service; READY=1 is sent with the first one. Outside
// systemd (no NOTIFY_SOCKET) every call is a silent no-op.
type Systemd struct {
	mu     sync.Mutex
	active map[string]string
	ready  bool
}

// NewSystemd creates a systemd presenter.
func NewSystemd() *Systemd {
	return &Systemd{active: make(map[string]string)}
}

func (s *Systemd) Present(service, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active[service] = status
	state := "STATUS=" + s.statusLine()
	if !s.ready {
		state = sddaemon.SdNotifyReady + "\n" + state
	}
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		return fmt.Errorf("sd_notify: %w", err)
	}
	if sent {
		s.ready = true
	}
	return nil
}

func (s *Systemd) Withdraw(service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[service]; !ok {
		return nil
	}
	delete(s.active, service)
	if _, err := sddaemon.SdNotify(false, "STATUS="+s.statusLine()); err != nil {
		return fmt.Errorf("sd_notify: %w", err)
	}
	return nil
}

// Stopping tells systemd the daemon is shutting down.
func (s *Systemd) Stopping() error {
	_, err := sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	return err
}

// Active returns the presented services in name order.
func (s *Systemd) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.active))
	for name := range s.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Systemd) statusLine() string {
	if len(s.active) == 0 {
		return "idle"
	}
	names := make([]string, 0, len(s.active))
	for name := range s.active {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + s.active[name]
	}
	return strings.Join(parts, "; ")
}
