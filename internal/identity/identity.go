// Package identity derives the device identifier used for line prefixes,
// status replies and announcements.
package identity

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "udp-logger"

// HardwareFunc lists candidate hardware addresses in preference order.
type HardwareFunc func() ([]net.HardwareAddr, error)

// SystemHardware returns the hardware addresses of non-loopback interfaces.
func SystemHardware() ([]net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []net.HardwareAddr
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		out = append(out, ifi.HardwareAddr)
	}
	return out, nil
}

// Format builds "<prefix>-XXYY" from the last two bytes of the first
// 6-byte hardware address. Without one, two random bytes of a fresh UUID
// stand in, so the result is still well formed but not stable across
// processes.
func Format(prefix string, hw []net.HardwareAddr) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	for _, mac := range hw {
		if len(mac) == 6 {
			return fmt.Sprintf("%s-%02X%02X", prefix, mac[4], mac[5])
		}
	}
	id := uuid.New()
	return fmt.Sprintf("%s-%02X%02X", prefix, id[14], id[15])
}

// Lazy computes the identifier on first use and never changes it.
type Lazy struct {
	prefix string
	hw     HardwareFunc

	once  sync.Once
	value atomic.Pointer[string]
}

// NewLazy returns a Lazy reading hardware addresses from hw, or from the
// system when hw is nil.
func NewLazy(prefix string, hw HardwareFunc) *Lazy {
	if hw == nil {
		hw = SystemHardware
	}
	return &Lazy{prefix: prefix, hw: hw}
}

// Get returns the identifier, computing it if needed.
func (l *Lazy) Get() string {
	l.once.Do(func() {
		macs, _ := l.hw()
		v := Format(l.prefix, macs)
		l.value.Store(&v)
	})
	return *l.value.Load()
}

// Peek returns the identifier if it has been computed, or "".
func (l *Lazy) Peek() string {
	if v := l.value.Load(); v != nil {
		return *v
	}
	return ""
}
