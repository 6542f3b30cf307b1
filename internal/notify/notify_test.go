package notify

import (
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// listenNotify points NOTIFY_SOCKET at a datagram socket and returns it.
func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("ListenUnixgram: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func readNotify(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("reading notification: %v", err)
	}
	return string(buf[:n])
}

func TestSystemdPresentAndWithdraw(t *testing.T) {
	conn := listenNotify(t)
	s := NewSystemd()

	if err := s.Present("forwarder", "running"); err != nil {
		t.Fatalf("Present: %v", err)
	}
	msg := readNotify(t, conn)
	if !strings.Contains(msg, "READY=1") || !strings.Contains(msg, "STATUS=forwarder: running") {
		t.Errorf("unexpected first notification %q", msg)
	}

	s.Present("http", "running")
	msg = readNotify(t, conn)
	if strings.Contains(msg, "READY=1") {
		t.Errorf("READY should only be sent once, got %q", msg)
	}
	if msg != "STATUS=forwarder: running; http: running" {
		t.Errorf("unexpected status %q", msg)
	}

	s.Withdraw("forwarder")
	if msg := readNotify(t, conn); msg != "STATUS=http: running" {
		t.Errorf("unexpected status after withdraw %q", msg)
	}
	s.Withdraw("http")
	if msg := readNotify(t, conn); msg != "STATUS=idle" {
		t.Errorf("unexpected idle status %q", msg)
	}

	if got := s.Active(); len(got) != 0 {
		t.Errorf("Active = %v, want empty", got)
	}
}

func TestSystemdWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	s := NewSystemd()

	if err := s.Present("forwarder", "running"); err != nil {
		t.Errorf("Present outside systemd: %v", err)
	}
	if got := s.Active(); len(got) != 1 || got[0] != "forwarder" {
		t.Errorf("Active = %v", got)
	}
	if err := s.Withdraw("unknown"); err != nil {
		t.Errorf("Withdraw unknown: %v", err)
	}
}

type recorder struct {
	presented []string
	withdrawn []string
	err       error
}

func (r *recorder) Present(service, status string) error {
	r.presented = append(r.presented, service+"="+status)
	return r.err
}

func (r *recorder) Withdraw(service string) error {
	r.withdrawn = append(r.withdrawn, service)
	return r.err
}

func TestMultiFansOut(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("bus gone")}
	m := Multi{a, b, NewLog(nil), Nop{}}

	err := m.Present("igetter", "downloading")
	if err == nil || !strings.Contains(err.Error(), "bus gone") {
		t.Errorf("expected joined error, got %v", err)
	}
	m.Withdraw("igetter")

	for _, r := range []*recorder{a, b} {
		if len(r.presented) != 1 || r.presented[0] != "igetter=downloading" {
			t.Errorf("presented = %v", r.presented)
		}
		if len(r.withdrawn) != 1 {
			t.Errorf("withdrawn = %v", r.withdrawn)
		}
	}
}
