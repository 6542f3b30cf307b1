package prefs

import "strings"

// Scoped exposes the keys under prefix+"/" in an underlying store as a store
// of their own. One Keychain holds the secrets of every service this way.
type Scoped struct {
	inner  Store
	prefix string
}

// NewScoped returns a view of inner restricted to keys beginning with prefix.
func NewScoped(inner Store, prefix string) *Scoped {
	return &Scoped{inner: inner, prefix: prefix + "/"}
}

func (s *Scoped) Set(key, value string) error {
	return s.inner.Set(s.prefix+key, value)
}

func (s *Scoped) Get(key string) (string, error) {
	return s.inner.Get(s.prefix + key)
}

func (s *Scoped) List() ([]string, error) {
	all, err := s.inner.List()
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range all {
		if rest, ok := strings.CutPrefix(k, s.prefix); ok {
			keys = append(keys, rest)
		}
	}
	return keys, nil
}

func (s *Scoped) Delete(key string) error {
	return s.inner.Delete(s.prefix + key)
}

func (s *Scoped) GetMultiple(keys []string) (map[string]string, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	got, err := s.inner.GetMultiple(full)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(got))
	for k, v := range got {
		result[strings.TrimPrefix(k, s.prefix)] = v
	}
	return result, nil
}
