// Package directive parses and checks forwarder configuration files.
//
// A forwarder config is a list of commands, one per line. Lines are trimmed,
// blank lines and lines starting with '#' are skipped, and the remainder is
// split on spaces and tabs. Checking stops at the first bad line.
package directive

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalid is returned for a directive the forwarder would reject.
var ErrInvalid = errors.New("invalid directive")

var (
	symbolicRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
	hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]*[a-zA-Z0-9])?$`)
	ifnameRe   = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,32}$`)
)

// Directive is one non-comment line of a config file.
type Directive struct {
	Line int
	Args []string
}

func (d Directive) String() string {
	return strings.Join(d.Args, " ")
}

// Error locates a bad directive.
type Error struct {
	Line   int
	Text   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s on line %d (%q): %s", ErrInvalid, e.Line, e.Text, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalid
}

// Parse splits text into directives.
func Parse(text string) []Directive {
	var out []Directive
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, Directive{
			Line: i + 1,
			Args: strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\t' }),
		})
	}
	return out
}

// Check parses text and validates every directive, returning the first error.
func Check(text string) ([]Directive, error) {
	dirs := Parse(text)
	for _, d := range dirs {
		if err := Validate(d); err != nil {
			return nil, err
		}
	}
	return dirs, nil
}

// Validate checks a single directive.
func Validate(d Directive) error {
	fail := func(format string, args ...any) error {
		return &Error{Line: d.Line, Text: d.String(), Reason: fmt.Sprintf(format, args...)}
	}

	switch d.Args[0] {
	case "add":
		if len(d.Args) < 2 {
			return fail("add requires a resource (listener, connection, route)")
		}
		var reason string
		switch d.Args[1] {
		case "listener":
			reason = checkListener(d.Args[2:])
		case "connection":
			reason = checkConnection(d.Args[2:])
		case "route":
			reason = checkRoute(d.Args[2:])
		default:
			reason = fmt.Sprintf("unknown resource %q", d.Args[1])
		}
		if reason != "" {
			return fail("%s", reason)
		}
		return nil
	case "remove", "set", "unset", "list", "cache":
		return nil
	default:
		return fail("unknown command %q", d.Args[0])
	}
}

// add listener <protocol> <symbolic> <localAddress> <PortOrEtherType>
func checkListener(args []string) string {
	if len(args) != 4 {
		return "usage: add listener <protocol> <symbolic> <localAddress> <PortOrEtherType>"
	}
	proto, symbolic, addr, port := args[0], args[1], args[2], args[3]
	if !symbolicRe.MatchString(symbolic) {
		return "symbolic name must begin with an alpha and be alphanum after"
	}
	switch proto {
	case "tcp", "udp":
		if !validHost(addr) {
			return fmt.Sprintf("invalid local address %q", addr)
		}
		if !validPort(port) {
			return fmt.Sprintf("invalid port %q", port)
		}
	case "ether":
		if !ifnameRe.MatchString(addr) {
			return fmt.Sprintf("invalid interface name %q", addr)
		}
		if !validEtherType(port) {
			return fmt.Sprintf("invalid ethertype %q", port)
		}
	default:
		return fmt.Sprintf("unrecognized protocol %q", proto)
	}
	return ""
}

// add connection tcp|udp <symbolic> <remote> <remote_port> [<local> [<local_port>]]
// add connection ether <symbolic> <destination_mac> <local_interface>
func checkConnection(args []string) string {
	if len(args) < 1 {
		return "usage: add connection <protocol> ..."
	}
	proto := args[0]
	switch proto {
	case "tcp", "udp":
		rest := args[1:]
		if len(rest) < 3 || len(rest) > 5 {
			return fmt.Sprintf("usage: add connection %s <symbolic> <remote_ip|hostname> <remote_port> [<local_ip|hostname> [<local_port>]]", proto)
		}
		if !symbolicRe.MatchString(rest[0]) {
			return "invalid symbolic name, must begin with alpha and contain only alphanum"
		}
		if !validHost(rest[1]) {
			return fmt.Sprintf("invalid remote address %q", rest[1])
		}
		if !validPort(rest[2]) {
			return fmt.Sprintf("invalid remote port %q", rest[2])
		}
		if len(rest) >= 4 && !validHost(rest[3]) {
			return fmt.Sprintf("invalid local address %q", rest[3])
		}
		if len(rest) == 5 && !validPort(rest[4]) {
			return fmt.Sprintf("invalid local port %q", rest[4])
		}
	case "ether":
		rest := args[1:]
		if len(rest) != 3 {
			return "usage: add connection ether <symbolic> <destination_mac> <local_interface>"
		}
		if !symbolicRe.MatchString(rest[0]) {
			return "invalid symbolic name, must begin with alpha and contain only alphanum"
		}
		if !validMAC(rest[1]) {
			return fmt.Sprintf("invalid destination mac %q", rest[1])
		}
		if !ifnameRe.MatchString(rest[2]) {
			return fmt.Sprintf("invalid interface name %q", rest[2])
		}
	case "mcast":
		return "mcast connections are not implemented by the forwarder"
	default:
		return fmt.Sprintf("unrecognized protocol %q", proto)
	}
	return ""
}

// add route <symbolic|connid> <prefix> <cost>
func checkRoute(args []string) string {
	if len(args) != 3 {
		return "usage: add route <symbolic | connid> <prefix> <cost>"
	}
	conn, prefix, cost := args[0], args[1], args[2]
	if !symbolicRe.MatchString(conn) {
		if _, err := strconv.ParseUint(conn, 10, 32); err != nil {
			return fmt.Sprintf("invalid connection %q", conn)
		}
	}
	if !strings.HasPrefix(prefix, "ccnx:/") && !strings.HasPrefix(prefix, "lci:/") {
		return fmt.Sprintf("prefix %q must be a ccnx:/ or lci:/ name", prefix)
	}
	if _, err := strconv.ParseUint(cost, 10, 32); err != nil {
		return fmt.Sprintf("invalid cost %q", cost)
	}
	return ""
}

func validHost(s string) bool {
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	return hostnameRe.MatchString(s)
}

func validPort(s string) bool {
	n, err := strconv.ParseUint(s, 10, 16)
	return err == nil && n > 0
}

func validEtherType(s string) bool {
	_, err := strconv.ParseUint(s, 0, 16)
	return err == nil
}

// validMAC accepts 12 hex digits with optional ':' or '-' separators.
func validMAC(s string) bool {
	if _, err := net.ParseMAC(s); err == nil {
		return true
	}
	if len(s) != 12 {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 64)
	return err == nil
}
