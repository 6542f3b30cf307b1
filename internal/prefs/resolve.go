package prefs

import (
	"fmt"

	"github.com/benaskins/icnswitch/internal/template"
)

// Resolve reads keys from store once and fills the gaps from defaults. A key
// found in neither is left out so that rendering reports it as missing rather
// than substituting an empty value. Keys that only appear in defaults are
// included as well.
func Resolve(store Store, keys []string, defaults map[string]string) (template.Config, error) {
	cfg := make(template.Config, len(keys)+len(defaults))
	for k, v := range defaults {
		cfg[k] = v
	}
	if store == nil || len(keys) == 0 {
		return cfg, nil
	}

	stored, err := store.GetMultiple(keys)
	if err != nil {
		return nil, fmt.Errorf("reading preferences: %w", err)
	}
	for k, v := range stored {
		cfg[k] = v
	}
	return cfg, nil
}
