package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benaskins/icnswitch/internal/audit"
	"github.com/benaskins/icnswitch/internal/template"
)

type fakeTarget struct {
	name    string
	running bool
}

func (t *fakeTarget) Name() string    { return t.name }
func (t *fakeTarget) IsRunning() bool { return t.running }

type recordingRunner struct {
	got  []Request
	resp []byte
	err  error
}

func (r *recordingRunner) Run(_ context.Context, req Request) ([]byte, error) {
	r.got = append(r.got, req)
	return r.resp, r.err
}

func TestSendRunningWorker(t *testing.T) {
	runner := &recordingRunner{resp: []byte("interests=4\n")}
	f := NewForwarder(&fakeTarget{name: "forwarder", running: true}, Options{
		Names:  ForwarderNames,
		Runner: runner,
	})

	resp, err := f.Send(context.Background(), Request{Name: "stats"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Payload) != "interests=4\n" {
		t.Errorf("payload = %q", resp.Payload)
	}
	if len(runner.got) != 1 || runner.got[0].Name != "stats" {
		t.Errorf("runner got %v", runner.got)
	}
}

func TestSendRejectsUnknownName(t *testing.T) {
	runner := &recordingRunner{}
	f := NewForwarder(&fakeTarget{name: "forwarder", running: true}, Options{
		Names:  ForwarderNames,
		Runner: runner,
	})

	_, err := f.Send(context.Background(), Request{Name: "rm/-rf"})
	if !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
	if len(runner.got) != 0 {
		t.Error("runner should not be called for unknown names")
	}
}

func TestSendRequiresRunningWorker(t *testing.T) {
	runner := &recordingRunner{}
	f := NewForwarder(&fakeTarget{name: "forwarder"}, Options{
		Names:  ForwarderNames,
		Runner: runner,
	})

	_, err := f.Send(context.Background(), Request{Name: "stats"})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if len(runner.got) != 0 {
		t.Error("runner should not be called while stopped")
	}
}

func TestSendWithoutRunner(t *testing.T) {
	f := NewForwarder(&fakeTarget{name: "http", running: true}, Options{Names: []string{"stats"}})
	if _, err := f.Send(context.Background(), Request{Name: "stats"}); !errors.Is(err, ErrNoControl) {
		t.Fatalf("expected ErrNoControl, got %v", err)
	}
}

func TestSendAuditsFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := audit.NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	f := NewForwarder(&fakeTarget{name: "forwarder", running: true}, Options{
		Names:  ForwarderNames,
		Runner: &recordingRunner{err: errors.New("control socket refused")},
		Audit:  logger,
	})
	if _, err := f.Send(context.Background(), Request{Name: "fib/lookup", Payload: []byte("ccnx:/a"), Actor: "cli"}); err == nil {
		t.Fatal("expected error")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	for _, want := range []string{`"service_command"`, `"fib/lookup"`, "control socket refused", `"cli"`} {
		if !strings.Contains(line, want) {
			t.Errorf("audit entry %q missing %s", line, want)
		}
	}
}

func TestAllowedAndNames(t *testing.T) {
	f := NewForwarder(&fakeTarget{name: "forwarder"}, Options{Names: []string{"stats", "cs/clear"}})
	if !f.Allowed("cs/clear") || f.Allowed("pit/lookup") {
		t.Error("Allowed mismatch")
	}
	if got := f.Names(); got[0] != "cs/clear" || got[1] != "stats" {
		t.Errorf("Names = %v, want sorted", got)
	}
}

func TestExecPassesNameAndPayload(t *testing.T) {
	e := &Exec{
		Command: `printf '%s:' "%%command%%"; cat; printf ':%s' "$ICNSWITCH_COMMAND %%config_path%%"`,
		Config: func() template.Config {
			return template.Config{"config_path": "/run/icnswitch/forwarder.conf"}
		},
	}

	out, err := e.Run(context.Background(), Request{Name: "add/route", Payload: []byte("conn0 ccnx:/a 1")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "add/route:conn0 ccnx:/a 1:add/route /run/icnswitch/forwarder.conf"
	if string(out) != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestExecFailureIncludesStderr(t *testing.T) {
	e := &Exec{Command: "echo 'no such route' >&2; exit 3"}
	_, err := e.Run(context.Background(), Request{Name: "remove/route"})
	if err == nil || !strings.Contains(err.Error(), "no such route") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExecMissingPlaceholder(t *testing.T) {
	e := &Exec{Command: "metis_control --keystore %%keystore%% %%command%%"}
	_, err := e.Run(context.Background(), Request{Name: "stats"})
	if !errors.Is(err, template.ErrMissingPlaceholder) {
		t.Fatalf("expected missing placeholder, got %v", err)
	}
}

func TestExecTruncatesLargeResponses(t *testing.T) {
	e := &Exec{Command: "head -c 2000000 /dev/zero"}
	out, err := e.Run(context.Background(), Request{Name: "list/routes"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != MaxResponse {
		t.Errorf("len = %d, want %d", len(out), MaxResponse)
	}
}
