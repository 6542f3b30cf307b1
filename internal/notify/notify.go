// Package notify presents running workers to the host as long-running
// background tasks, the way a foreground-service notification does on a
// phone: a controller presents its service before start returns and
// withdraws it when the worker is gone.
package notify

import (
	"errors"
	"log/slog"
)

// Presenter registers and releases the presentation of a background task.
type Presenter interface {
	Present(service, status string) error
	Withdraw(service string) error
}

// Nop presents nothing.
type Nop struct{}

func (Nop) Present(string, string) error { return nil }
func (Nop) Withdraw(string) error        { return nil }

// Log records presentations in the daemon log.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a presenter writing to logger, or slog.Default if nil.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Present(service, status string) error {
	l.logger.Info("background task presented", "service", service, "status", status)
	return nil
}

func (l *Log) Withdraw(service string) error {
	l.logger.Info("background task withdrawn", "service", service)
	return nil
}

// Multi fans out to several presenters and joins their errors.
type Multi []Presenter

func (m Multi) Present(service, status string) error {
	var errs []error
	for _, p := range m {
		if err := p.Present(service, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Withdraw(service string) error {
	var errs []error
	for _, p := range m {
		if err := p.Withdraw(service); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
