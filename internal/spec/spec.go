// Package spec loads and validates service definitions from
// ~/.icnswitch/services/*.yaml.
package spec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/icnswitch/internal/command"
	"github.com/benaskins/icnswitch/internal/template"
)

var serviceNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Worker driver types.
const (
	TypeNative    = "native"
	TypeContainer = "container"
	TypeFunc      = "func"
)

// ServiceSpec is the top-level structure for a service definition.
type ServiceSpec struct {
	Service      Service           `yaml:"service"`
	Config       *ConfigFile       `yaml:"config,omitempty"`
	Preferences  *Preferences      `yaml:"preferences,omitempty"`
	Health       *HealthCheck      `yaml:"health,omitempty"`
	Control      *Control          `yaml:"control,omitempty"`
	Dependencies *Dependencies     `yaml:"dependencies,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Volumes      map[string]string `yaml:"volumes,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	StopTimeout  Duration          `yaml:"stop_timeout,omitempty"`
	Autostart    bool              `yaml:"autostart,omitempty"`
}

type Service struct {
	Name        string `yaml:"name"`
	Kind        Kind   `yaml:"kind,omitempty"`         // default "generic"
	Type        string `yaml:"type"`                   // "native" | "container" | "func"
	Command     string `yaml:"command,omitempty"`      // native only
	WorkingDir  string `yaml:"working_dir,omitempty"`  // native only
	Image       string `yaml:"image,omitempty"`        // container only
	NetworkMode string `yaml:"network_mode,omitempty"` // container only, default "bridge"
	Entry       string `yaml:"entry,omitempty"`        // func only
}

// ConfigFile describes the rendered worker config. Path defaults to
// <run dir>/<name>.conf when a template is in play.
type ConfigFile struct {
	Template     string `yaml:"template,omitempty"`
	TemplatePath string `yaml:"template_path,omitempty"`
	Path         string `yaml:"path,omitempty"`
}

// Preferences lists the keys read from the preference store at start.
type Preferences struct {
	Keys     []string          `yaml:"keys,omitempty"`
	Defaults map[string]string `yaml:"defaults,omitempty"`
	Secret   []string          `yaml:"secret_keys,omitempty"`
}

// HealthCheck is a status-only probe. It never restarts anything.
type HealthCheck struct {
	Type     string   `yaml:"type"` // "http" | "tcp" | "exec"
	Path     string   `yaml:"path,omitempty"`
	Port     int      `yaml:"port,omitempty"`
	Command  string   `yaml:"command,omitempty"` // exec only
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// Control forwards named admin commands to the running worker through
// Command, run with the payload on stdin.
type Control struct {
	Command  string   `yaml:"command"`
	Commands []string `yaml:"commands,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

type Dependencies struct {
	After    []string `yaml:"after,omitempty"`
	Requires []string `yaml:"requires,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10s", "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Parse decodes and validates a spec. source names it in errors.
func Parse(data []byte, source string) (*ServiceSpec, error) {
	var spec ServiceSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing spec %s: %w", source, err)
	}
	if spec.Service.Kind == "" {
		spec.Service.Kind = KindGeneric
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validating spec %s: %w", source, err)
	}
	return &spec, nil
}

// Load reads and parses a service spec from a YAML file.
func Load(path string) (*ServiceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec %s: %w", path, err)
	}
	return Parse(data, path)
}

// LoadDir reads all YAML service specs from a directory, sorted by name.
// Two specs with the same service name are an error.
func LoadDir(dir string) ([]*ServiceSpec, error) {
	var entries []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("listing specs in %s: %w", dir, err)
		}
		entries = append(entries, matches...)
	}

	seen := make(map[string]string)
	var specs []*ServiceSpec
	for _, path := range entries {
		spec, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[spec.Service.Name]; ok {
			return nil, fmt.Errorf("service %q defined in both %s and %s", spec.Service.Name, prev, path)
		}
		seen[spec.Service.Name] = path
		specs = append(specs, spec)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Service.Name < specs[j].Service.Name })
	return specs, nil
}

// Validate checks that a service spec is well-formed.
func (s *ServiceSpec) Validate() error {
	if s.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if !serviceNameRe.MatchString(s.Service.Name) {
		return fmt.Errorf("service.name %q is invalid: must match ^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$", s.Service.Name)
	}

	kind := s.kind()
	if !kind.Valid() {
		return fmt.Errorf("service.kind must be \"forwarder\", \"http\", \"downloader\" or \"generic\", got %q", s.Service.Kind)
	}

	switch s.Service.Type {
	case TypeNative:
		if s.Command() == "" {
			return fmt.Errorf("service.command is required for native services")
		}
		if s.Service.Image != "" {
			return fmt.Errorf("service.image is not valid for native services")
		}
	case TypeContainer:
		if s.Service.Image == "" {
			return fmt.Errorf("service.image is required for container services")
		}
		if s.Service.Command != "" {
			return fmt.Errorf("service.command is not valid for container services")
		}
	case TypeFunc:
		if s.Entry() == "" {
			return fmt.Errorf("service.entry is required for func services")
		}
		if s.Service.Command != "" || s.Service.Image != "" {
			return fmt.Errorf("service.command and service.image are not valid for func services")
		}
	default:
		return fmt.Errorf("service.type must be \"native\", \"container\" or \"func\", got %q", s.Service.Type)
	}

	if c := s.Config; c != nil {
		if c.Template != "" && c.TemplatePath != "" {
			return fmt.Errorf("config.template and config.template_path are mutually exclusive")
		}
		if c.Path != "" && !filepath.IsAbs(expandHome(c.Path)) {
			return fmt.Errorf("config.path %q must be absolute", c.Path)
		}
	}

	if p := s.Preferences; p != nil {
		keys := s.Keys()
		for _, k := range p.Secret {
			if !slices.Contains(keys, k) {
				return fmt.Errorf("preferences.secret_keys: %q is not a preference key", k)
			}
		}
		// Command lines show up in ps, audit logs and error text.
		lines := []string{s.Command()}
		lines = append(lines, s.Args...)
		if s.Control != nil {
			lines = append(lines, s.Control.Command)
		}
		for _, line := range lines {
			for _, name := range template.Placeholders(line) {
				if slices.Contains(p.Secret, name) {
					return fmt.Errorf("preferences.secret_keys: %q must not appear in service.command, service.args or control.command", name)
				}
			}
		}
	}

	if h := s.Health; h != nil {
		switch h.Type {
		case "http":
			if h.Path == "" {
				return fmt.Errorf("health.path is required for http health checks")
			}
			if h.Port <= 0 {
				return fmt.Errorf("health.port is required for http health checks")
			}
		case "tcp":
			if h.Port <= 0 {
				return fmt.Errorf("health.port is required for tcp health checks")
			}
		case "exec":
			if h.Command == "" {
				return fmt.Errorf("health.command is required for exec health checks")
			}
		default:
			return fmt.Errorf("health.type must be \"http\", \"tcp\", or \"exec\", got %q", h.Type)
		}

		if h.Interval.Duration <= 0 {
			return fmt.Errorf("health.interval must be positive")
		}
		if h.Timeout.Duration <= 0 {
			return fmt.Errorf("health.timeout must be positive")
		}
	}

	if c := s.Control; c != nil {
		if c.Command == "" {
			return fmt.Errorf("control.command is required")
		}
		if len(s.ControlNames()) == 0 {
			return fmt.Errorf("control.commands is required for %s services", kind)
		}
	}

	if s.StopTimeout.Duration < 0 {
		return fmt.Errorf("stop_timeout must not be negative")
	}

	if deps := s.Dependencies; deps != nil {
		for _, d := range append(slices.Clone(deps.After), deps.Requires...) {
			if d == s.Service.Name {
				return fmt.Errorf("service %q cannot depend on itself", d)
			}
		}
		for _, req := range deps.Requires {
			if !slices.Contains(deps.After, req) {
				return fmt.Errorf("dependency %q is in requires but not in after: required services must also be in the start order", req)
			}
		}
	}

	return nil
}

func (s *ServiceSpec) kind() Kind {
	if s.Service.Kind == "" {
		return KindGeneric
	}
	return s.Service.Kind
}

// Kind returns the service kind, generic when unset.
func (s *ServiceSpec) Kind() Kind {
	return s.kind()
}

// Command returns the native command line, falling back to the kind's.
func (s *ServiceSpec) Command() string {
	if s.Service.Command != "" {
		return s.Service.Command
	}
	if s.Service.Type == TypeNative {
		return s.kind().Command()
	}
	return ""
}

// Entry returns the in-process worker name, falling back to the kind's.
func (s *ServiceSpec) Entry() string {
	if s.Service.Entry != "" {
		return s.Service.Entry
	}
	return s.kind().Entry()
}

// Keys returns the preference keys read at start: the spec's own list, or
// the kind's when the spec has none.
func (s *ServiceSpec) Keys() []string {
	if s.Preferences != nil && len(s.Preferences.Keys) > 0 {
		return slices.Clone(s.Preferences.Keys)
	}
	return s.kind().Keys()
}

// Defaults returns the kind's defaults overlaid with the spec's.
func (s *ServiceSpec) Defaults() map[string]string {
	out := s.kind().Defaults()
	if s.Preferences != nil {
		for k, v := range s.Preferences.Defaults {
			out[k] = v
		}
	}
	return out
}

// SecretKeys returns the keys kept in the secret store.
func (s *ServiceSpec) SecretKeys() []string {
	if s.Preferences == nil {
		return nil
	}
	return slices.Clone(s.Preferences.Secret)
}

// Template returns the inline template and template path. At most one is
// set; both are empty for a service that writes no config file.
func (s *ServiceSpec) Template() (inline, path string) {
	if c := s.Config; c != nil && (c.Template != "" || c.TemplatePath != "") {
		return c.Template, expandHome(c.TemplatePath)
	}
	return s.kind().Template(), ""
}

// HasTemplate reports whether starting the service writes a config file.
func (s *ServiceSpec) HasTemplate() bool {
	inline, path := s.Template()
	return inline != "" || path != ""
}

// ConfigPath returns where the rendered config is written, defaulting to
// runDir/<name>.conf. It is empty when there is no template.
func (s *ServiceSpec) ConfigPath(runDir string) string {
	if !s.HasTemplate() {
		return ""
	}
	if s.Config != nil && s.Config.Path != "" {
		return expandHome(s.Config.Path)
	}
	return filepath.Join(runDir, s.Service.Name+".conf")
}

// ControlNames returns the admin commands the service accepts.
func (s *ServiceSpec) ControlNames() []string {
	if s.Control == nil {
		return nil
	}
	if len(s.Control.Commands) > 0 {
		return slices.Clone(s.Control.Commands)
	}
	if s.kind() == KindForwarder {
		return slices.Clone(command.ForwarderNames)
	}
	return nil
}

// Hash returns a digest of the spec's content, used to detect edits on reload.
func (s *ServiceSpec) Hash() string {
	data, err := yaml.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
