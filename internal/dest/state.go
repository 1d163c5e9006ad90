// Package dest tracks where mirrored log lines are sent.
//
// All fields except the drop counter are guarded by one mutex. Readers call
// Snapshot and work on the returned copy; nothing inside the lock escapes.
package dest

import (
	"net/netip"
	"sync"
	"sync/atomic"
)

// Mode selects between the subnet broadcast target and a bound host.
type Mode int

const (
	Broadcast Mode = iota
	Unicast
)

// String returns the name used in status replies.
func (m Mode) String() string {
	if m == Unicast {
		return "unicast"
	}
	return "broadcast"
}

// Snapshot is an immutable copy of the destination state.
type Snapshot struct {
	Mode             Mode
	BroadcastTarget  netip.AddrPort
	BroadcastReady   bool
	UnicastTarget    netip.AddrPort
	UnicastReady     bool
	BroadcastEnabled bool
	Drops            uint64
}

// State is the mutable destination record shared by the command listener,
// the transmit worker and the lifecycle controller.
type State struct {
	mu               sync.Mutex
	mode             Mode
	broadcastTarget  netip.AddrPort
	broadcastReady   bool
	unicastTarget    netip.AddrPort
	unicastReady     bool
	broadcastEnabled bool

	// drops is read under mu for snapshots but incremented without it.
	drops atomic.Uint64
}

// NewState returns a state in broadcast mode with broadcasting enabled and
// no target derived yet.
func NewState() *State {
	return &State{
		mode:             Broadcast,
		broadcastEnabled: true,
	}
}

// Snapshot copies every field under the lock.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Mode:             s.mode,
		BroadcastTarget:  s.broadcastTarget,
		BroadcastReady:   s.broadcastReady,
		UnicastTarget:    s.unicastTarget,
		UnicastReady:     s.unicastReady,
		BroadcastEnabled: s.broadcastEnabled,
		Drops:            s.drops.Load(),
	}
}

// Bind sets the unicast target and switches to unicast mode. The caller
// validates target first; an invalid or non-IPv4 target is refused and
// leaves the state untouched.
func (s *State) Bind(target netip.AddrPort) bool {
	if !target.IsValid() || !target.Addr().Is4() || target.Port() == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unicastTarget = target
	s.unicastReady = true
	s.mode = Unicast
	return true
}

// Unbind switches back to broadcast mode. The unicast target is kept but
// no longer used.
func (s *State) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = Broadcast
}

// SetBroadcastEnabled toggles broadcast sending independently of the mode.
func (s *State) SetBroadcastEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastEnabled = enabled
}

// SetBroadcastTarget records a freshly derived subnet broadcast address.
func (s *State) SetBroadcastTarget(target netip.AddrPort) {
	if !target.IsValid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastTarget = target
	s.broadcastReady = true
}

// BroadcastReady reports whether a broadcast target has been derived.
func (s *State) BroadcastReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broadcastReady
}

// Reset clears both targets and returns to broadcast mode. The broadcast
// flag and the drop counter survive.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastReady = false
	s.unicastReady = false
	s.mode = Broadcast
}

// CountDrop records one discarded line.
func (s *State) CountDrop() {
	s.drops.Add(1)
}

// Drops returns the number of discarded lines so far.
func (s *State) Drops() uint64 {
	return s.drops.Load()
}
