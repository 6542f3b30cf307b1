package prefs

import (
	"errors"
	"fmt"
	"sort"
)

// Chain layers stores. Reads return the first store holding a key; writes go
// to the first store; deletes apply to all of them.
type Chain []Store

func (c Chain) Set(key, value string) error {
	if len(c) == 0 {
		return fmt.Errorf("empty preference chain")
	}
	return c[0].Set(key, value)
}

func (c Chain) Get(key string) (string, error) {
	for _, s := range c {
		val, err := s.Get(key)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

func (c Chain) List() ([]string, error) {
	seen := make(map[string]bool)
	var keys []string
	for _, s := range c {
		ks, err := s.List()
		if err != nil {
			return nil, err
		}
		for _, k := range ks {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (c Chain) Delete(key string) error {
	var errs []error
	for _, s := range c {
		if err := s.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c Chain) GetMultiple(keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for i := len(c) - 1; i >= 0; i-- {
		got, err := c[i].GetMultiple(keys)
		if err != nil {
			return nil, err
		}
		for k, v := range got {
			result[k] = v
		}
	}
	return result, nil
}
