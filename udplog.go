// Package udplog mirrors the process log stream to the local network over
// UDP and accepts a small text protocol for redirecting it.
//
// Once started, every record written through slog's default logger, and
// therefore through the standard log package, is still handled by the
// previously installed sink and additionally rendered into one datagram.
// Datagrams go to the subnet broadcast address of the active interface on
// LogPort, or to a single host after a bind:
//
//	udplog.Autostart()
//	slog.Info("pump started", "rpm", 1200)
//
// On the command port the mirror answers:
//
//	bind <ipv4> <port>   send only to that host
//	unbind               go back to broadcasting
//	broadcast on|off     toggle broadcast sends
//	status               one-line summary of the state
//
// Delivery is best effort. When the queue is full new lines are dropped and
// counted, unless the block policy is configured.
package udplog

import (
	"sync"
)

var (
	defaultOnce   sync.Once
	defaultMirror *Mirror
)

// Default returns the process-wide mirror, configured from DefaultConfig
// and UDPLOG_* environment variables on first use.
func Default() *Mirror {
	defaultOnce.Do(func() {
		cfg := DefaultConfig()
		ApplyEnv(&cfg)
		defaultMirror = New(cfg)
	})
	return defaultMirror
}

// Autostart starts the default mirror.
func Autostart() error { return Default().Autostart() }

// Stop stops the default mirror.
func Stop() { Default().Stop() }

// Bind points the default mirror at a single host.
func Bind(ipv4 string, port uint16) bool { return Default().Bind(ipv4, port) }

// Unbind returns the default mirror to broadcasting.
func Unbind() { Default().Unbind() }

// SetBroadcast toggles broadcast sends on the default mirror.
func SetBroadcast(enabled bool) { Default().SetBroadcast(enabled) }

// DropCount returns the default mirror's drop count.
func DropCount() uint64 { return Default().DropCount() }

// Identifier returns the default mirror's device identifier.
func Identifier() string { return Default().Identifier() }
