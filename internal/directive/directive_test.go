package directive

import (
	"errors"
	"strings"
	"testing"
)

func TestParseSkipsBlankAndComments(t *testing.T) {
	text := "# forwarder config\n\n   add listener tcp local0 127.0.0.1 9695  \n\t# indented comment\nadd\troute conn0 ccnx:/a 1\n"
	dirs := Parse(text)
	if len(dirs) != 2 {
		t.Fatalf("expected 2 directives, got %d: %v", len(dirs), dirs)
	}
	if dirs[0].Line != 3 {
		t.Errorf("first directive line = %d, want 3", dirs[0].Line)
	}
	if got := dirs[1].Args; len(got) != 5 || got[1] != "route" {
		t.Errorf("tab-separated args not split: %v", got)
	}
}

func TestCheckForwarderConfig(t *testing.T) {
	text := strings.Join([]string{
		"add listener tcp local0 127.0.0.1 9695",
		"add listener udp remote0 10.0.0.5 11111",
		"add connection udp conn0 10.60.17.200 11111 10.0.0.5 11111",
		"add route conn0 ccnx:/webserver 1",
	}, "\n")

	dirs, err := Check(text)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(dirs) != 4 {
		t.Errorf("expected 4 directives, got %d", len(dirs))
	}
}

func TestValidateAccepted(t *testing.T) {
	tests := []string{
		"add listener udp localhost6 ::1 9695",
		"add listener ether nic0 en0 0x0801",
		"add listener tcp homenet metis.local 9695",
		"add connection tcp conn1 1.1.1.1 1200",
		"add connection tcp conn3 ccn.parc.com 9695",
		"add connection udp barney2 fe80::aa20:66ff:fe00:314a 1300",
		"add connection ether conn7 e8-06-88-cd-28-de em3",
		"add connection ether bcast0 FFFFFFFFFFFF eth0",
		"add route 7 lci:/foo 3",
		"set debug",
		"list routes",
	}
	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			d := Parse(line)[0]
			if err := Validate(d); err != nil {
				t.Errorf("Validate(%q): %v", line, err)
			}
		})
	}
}

func TestValidateRejected(t *testing.T) {
	tests := []struct {
		line   string
		reason string
	}{
		{"add listener sctp l0 127.0.0.1 9695", "unrecognized protocol"},
		{"add listener tcp 0local 127.0.0.1 9695", "symbolic"},
		{"add listener tcp loc_al 127.0.0.1 9695", "symbolic"},
		{"add listener tcp local0 127.0.0.1 70000", "invalid port"},
		{"add listener tcp local0 127.0.0.1", "usage"},
		{"add listener ether nic0 en0 0x1FFFF", "ethertype"},
		{"add connection mcast m0 en0 224.0.0.1 9695", "not implemented"},
		{"add connection udp conn0 10.0.0.1", "usage"},
		{"add connection ether c0 zz:zz eth0", "mac"},
		{"add route conn0 /webserver 1", "ccnx:/"},
		{"add route conn0 ccnx:/a -1", "cost"},
		{"add face foo", "unknown resource"},
		{"launch rockets", "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := Validate(Parse(tt.line)[0])
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("error %q does not mention %q", err, tt.reason)
			}
		})
	}
}

func TestCheckStopsAtFirstFailure(t *testing.T) {
	text := "add listener tcp local0 127.0.0.1 9695\nadd route conn0 bad 1\nadd route conn0 alsobad 1\n"
	_, err := Check(text)

	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if derr.Line != 2 {
		t.Errorf("Line = %d, want 2", derr.Line)
	}
}
