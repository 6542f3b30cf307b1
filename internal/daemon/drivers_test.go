package daemon

import (
	"slices"
	"testing"

	"github.com/benaskins/icnswitch/internal/controller"
	"github.com/benaskins/icnswitch/internal/driver"
	"github.com/benaskins/icnswitch/internal/spec"
	"github.com/benaskins/icnswitch/internal/template"
)

func TestWorkerEnv(t *testing.T) {
	s := &spec.ServiceSpec{
		Service: spec.Service{Name: "fwd", Type: spec.TypeNative, Command: "true"},
		Env:     map[string]string{"B": "2", "A": "1"},
	}
	cfg := template.Config{
		"source_ip":   "10.0.0.1",
		"cs_size":     "1000",
		"config_path": "/run/fwd.conf",
	}

	got := workerEnv(s, cfg, "/run/fwd.conf")
	want := []string{
		"A=1",
		"B=2",
		"ICNSWITCH_CS_SIZE=1000",
		"ICNSWITCH_SOURCE_IP=10.0.0.1",
		"ICNSWITCH_CONFIG=/run/fwd.conf",
	}
	if !slices.Equal(got, want) {
		t.Errorf("workerEnv =\n%v\nwant\n%v", got, want)
	}
}

func TestEnvName(t *testing.T) {
	cases := map[string]string{
		"cs_size":    "ICNSWITCH_CS_SIZE",
		"url-prefix": "ICNSWITCH_URL_PREFIX",
		"a.b":        "ICNSWITCH_A_B",
	}
	for in, want := range cases {
		if got := envName(in); got != want {
			t.Errorf("envName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderArgs(t *testing.T) {
	args, err := renderArgs([]string{"--config", "%%config_path%%"}, template.Config{"config_path": "/c"})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(args, []string{"--config", "/c"}) {
		t.Errorf("renderArgs = %v", args)
	}
	if args, err := renderArgs(nil, nil); err != nil || args != nil {
		t.Errorf("renderArgs(nil) = %v, %v", args, err)
	}
	if _, err := renderArgs([]string{"%%missing%%"}, template.Config{}); err == nil {
		t.Error("expected error for missing placeholder")
	}
}

func TestDriverFactoryNativeRendersCommand(t *testing.T) {
	d := NewDaemon(t.TempDir())
	s := &spec.ServiceSpec{
		Service: spec.Service{Name: "fwd", Kind: spec.KindForwarder, Type: spec.TypeNative},
	}
	factory := d.driverFactory(s)

	drv, err := factory(controller.Run{
		Service:    "fwd",
		ConfigPath: "/run/fwd.conf",
		Config:     template.Config{"cs_size": "500", "config_path": "/run/fwd.conf"},
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, ok := drv.(*driver.NativeDriver); !ok {
		t.Fatalf("expected native driver, got %T", drv)
	}

	if _, err := factory(controller.Run{Service: "fwd", Config: template.Config{}}); err == nil {
		t.Error("expected error when command placeholders are unresolved")
	}
}

func TestDriverFactoryUnknownEntry(t *testing.T) {
	d := NewDaemon(t.TempDir())
	s := &spec.ServiceSpec{
		Service: spec.Service{Name: "x", Type: spec.TypeFunc, Entry: "missing"},
	}
	if _, err := d.driverFactory(s)(controller.Run{Service: "x"}); err == nil {
		t.Error("expected error for unknown worker")
	}
}
