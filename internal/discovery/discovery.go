// Package discovery advertises a running mirror so hosts can find it.
//
// Announcements are best effort. A failure is reported to the caller for
// logging but never stops the mirror.
package discovery

import (
	"context"
	"errors"
)

// Service describes what is being advertised.
type Service struct {
	// Name is the service type, e.g. "udplog".
	Name string

	// Instance is the device identifier; it doubles as the hostname.
	Instance string

	// Port is the command port hosts should talk to.
	Port uint16

	// LogPort is where log lines are sent.
	LogPort uint16
}

// Announcer advertises a service until closed.
type Announcer interface {
	Announce(ctx context.Context, svc Service) error
	Close() error
}

// Multi fans one announcement out to several announcers.
type Multi []Announcer

// Announce calls every announcer and joins their errors.
func (m Multi) Announce(ctx context.Context, svc Service) error {
	var errs []error
	for _, a := range m {
		if err := a.Announce(ctx, svc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every announcer and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
