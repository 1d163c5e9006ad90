package dest

import "net/netip"

// Target is the outcome of destination selection for one line.
type Target struct {
	Addr      netip.AddrPort
	Broadcast bool
}

// Select picks the destination for the next line. Unicast wins when bound;
// otherwise the broadcast target is used if it is enabled and derived. The
// second result is false when there is nowhere to send.
func Select(s Snapshot) (Target, bool) {
	if s.Mode == Unicast && s.UnicastReady {
		return Target{Addr: s.UnicastTarget}, true
	}
	if s.BroadcastEnabled && s.BroadcastReady {
		return Target{Addr: s.BroadcastTarget, Broadcast: true}, true
	}
	return Target{}, false
}
