// Package prefs stores the per-service preferences a controller reads when it
// starts a worker: addresses, ports, prefixes, paths.
//
// Plain preferences live in one file per service (YAML or TOML, chosen by
// extension). Secret preferences such as upstream proxy credentials live in
// the macOS Keychain:
//   - Service: "com.icnswitch"
//   - Account: "<service>/<key>"
//
// Every store implements Store. Chain layers stores; Resolve turns a store
// plus defaults into the immutable config for one run.
package prefs

import "errors"

// ErrNotFound is returned when a preference has no stored value.
var ErrNotFound = errors.New("preference not found")

// Store is the interface for preference storage operations.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	List() ([]string, error)
	Delete(key string) error
	GetMultiple(keys []string) (map[string]string, error)
}
