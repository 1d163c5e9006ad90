package udplog

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coffersTech/udplog/internal/discovery"
	"github.com/coffersTech/udplog/internal/dest"
	"github.com/coffersTech/udplog/internal/hook"
	"github.com/coffersTech/udplog/internal/identity"
	"github.com/coffersTech/udplog/internal/netif"
)

type (
	// Facility is the process-wide log sink a Mirror intercepts.
	Facility = hook.Facility

	// InterfaceSource lists the network interfaces broadcasts may use.
	InterfaceSource = netif.Source

	// Interface is one IPv4 address on a usable interface.
	Interface = netif.Interface

	// Announcer advertises a running mirror.
	Announcer = discovery.Announcer

	// Service is what an Announcer advertises.
	Service = discovery.Service

	// Snapshot is a consistent copy of the destination state.
	Snapshot = dest.Snapshot

	// HardwareFunc lists hardware addresses the identifier may be
	// derived from.
	HardwareFunc = identity.HardwareFunc
)

// Destination modes reported in a Snapshot.
const (
	ModeBroadcast = dest.Broadcast
	ModeUnicast   = dest.Unicast
)

// Option customises a Mirror.
type Option func(*Mirror)

// WithFacility intercepts f instead of slog's default logger.
func WithFacility(f Facility) Option {
	return func(m *Mirror) {
		m.facility = f
	}
}

// WithInterfaceSource reads interfaces from src instead of the OS.
func WithInterfaceSource(src InterfaceSource) Option {
	return func(m *Mirror) {
		m.source = src
	}
}

// WithHardware derives the identifier from fn instead of the OS.
func WithHardware(fn HardwareFunc) Option {
	return func(m *Mirror) {
		m.hardware = fn
	}
}

// WithAnnouncer adds an announcer on top of those enabled by Config.
func WithAnnouncer(a Announcer) Option {
	return func(m *Mirror) {
		m.extraAnnouncers = append(m.extraAnnouncers, a)
	}
}

// WithRegisterer exports counters to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Mirror) {
		m.registerer = reg
	}
}

// WithLogger sets the logger for the mirror's own diagnostics. It must not
// write through the intercepted facility.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mirror) {
		m.logger = l
	}
}
