package prefs

import (
	"fmt"

	"github.com/benaskins/icnswitch/internal/audit"
)

// AuditedStore records writes and deletes on an inner store. When secret is
// set, reads are recorded too, without the value.
type AuditedStore struct {
	inner   Store
	audit   *audit.Logger
	service string
	actor   string
	secret  bool
}

// NewAuditedStore wraps inner. actor is "cli", "daemon" or "ui".
func NewAuditedStore(inner Store, log *audit.Logger, service, actor string, secret bool) *AuditedStore {
	return &AuditedStore{
		inner:   inner,
		audit:   log,
		service: service,
		actor:   actor,
		secret:  secret,
	}
}

func (s *AuditedStore) Set(key, value string) error {
	if err := s.inner.Set(key, value); err != nil {
		return fmt.Errorf("audited store set: %w", err)
	}
	s.audit.Log(audit.Entry{
		Action:  audit.ActionPrefWrite,
		Service: s.service,
		Key:     key,
		Actor:   s.actor,
	})
	return nil
}

func (s *AuditedStore) Get(key string) (string, error) {
	val, err := s.inner.Get(key)
	if err != nil {
		return "", err
	}
	if s.secret {
		s.audit.Log(audit.Entry{
			Action:  audit.ActionSecretRead,
			Service: s.service,
			Key:     key,
			Actor:   s.actor,
		})
	}
	return val, nil
}

func (s *AuditedStore) List() ([]string, error) {
	return s.inner.List()
}

func (s *AuditedStore) Delete(key string) error {
	if err := s.inner.Delete(key); err != nil {
		return fmt.Errorf("audited store delete: %w", err)
	}
	s.audit.Log(audit.Entry{
		Action:  audit.ActionPrefDelete,
		Service: s.service,
		Key:     key,
		Actor:   s.actor,
	})
	return nil
}

func (s *AuditedStore) GetMultiple(keys []string) (map[string]string, error) {
	result, err := s.inner.GetMultiple(keys)
	if err != nil {
		return nil, fmt.Errorf("audited store get multiple: %w", err)
	}
	if s.secret {
		for key := range result {
			s.audit.Log(audit.Entry{
				Action:  audit.ActionSecretRead,
				Service: s.service,
				Key:     key,
				Actor:   s.actor,
				Trigger: "service_start",
			})
		}
	}
	return result, nil
}
