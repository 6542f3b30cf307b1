//go:build linux

package main

import (
	"strings"
	"testing"
)

func TestSystemdUnit(t *testing.T) {
	unit := systemdUnit("/usr/local/bin/icnswitch")
	for _, want := range []string{
		"Type=notify",
		"ExecStart=/usr/local/bin/icnswitch daemon --keep-workers --log-journal",
		"KillMode=process",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
}

func TestUserUnitDirHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := userUnitDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/tmp/xdg/systemd/user" {
		t.Errorf("got %q", dir)
	}
}
