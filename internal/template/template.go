// Package template renders worker configuration files from %%name%% templates.
//
// Substitution is literal: each %%key%% token is replaced by the value of key,
// matched case-sensitively by its exact delimiters. A name is any run of
// characters other than '%' and newline, so %%source ip%% is a token like any
// other. Whitespace and line order are preserved byte for byte, and
// substituted values are never re-expanded.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Delimiter surrounds every placeholder name.
const Delimiter = "%%"

var tokenRe = regexp.MustCompile(`%%([^%\n]+)%%`)

// ErrMissingPlaceholder is returned when a template references a key that has
// no value in the config.
var ErrMissingPlaceholder = errors.New("missing placeholder value")

// ErrTemplate is returned when a template cannot be read.
var ErrTemplate = errors.New("unreadable template")

// Config maps placeholder names to substitution values.
type Config map[string]string

// Clone returns an independent copy of the config.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Keys returns the config keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MissingPlaceholderError lists every placeholder without a value.
type MissingPlaceholderError struct {
	Names []string
}

func (e *MissingPlaceholderError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingPlaceholder, strings.Join(e.Names, ", "))
}

func (e *MissingPlaceholderError) Unwrap() error {
	return ErrMissingPlaceholder
}

// Placeholders returns the names referenced by tmpl in first-seen order,
// without duplicates.
func Placeholders(tmpl string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range tokenRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Render substitutes every placeholder in tmpl with its value from cfg.
// It fails with a *MissingPlaceholderError if any referenced key is absent.
func Render(tmpl string, cfg Config) (string, error) {
	var missing []string
	for _, name := range Placeholders(tmpl) {
		if _, ok := cfg[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", &MissingPlaceholderError{Names: missing}
	}

	return tokenRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		return cfg[tok[len(Delimiter):len(tok)-len(Delimiter)]]
	}), nil
}

// Load reads a template file.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrTemplate, path, err)
	}
	return string(data), nil
}
