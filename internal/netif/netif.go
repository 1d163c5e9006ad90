// Package netif enumerates IPv4 network interfaces and reports when new
// addresses appear.
package netif

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
)

// Interface is one IPv4 address assigned to an up, broadcast-capable,
// non-loopback interface.
type Interface struct {
	Name         string
	Prefix       netip.Prefix
	HardwareAddr net.HardwareAddr
}

// Broadcast returns the subnet broadcast address (addr & mask) | ^mask.
func (i Interface) Broadcast() netip.Addr {
	return BroadcastAddr(i.Prefix)
}

// Source lists the usable interfaces.
type Source interface {
	Interfaces() ([]Interface, error)
}

// System reads interfaces from the operating system.
type System struct{}

// Interfaces returns every IPv4 address on usable interfaces in the order
// the OS reports them.
func (System) Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var out []Interface
	for _, ifi := range ifaces {
		if !usable(ifi.Flags) {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			p, ok := prefixOf(ipn)
			if !ok {
				continue
			}
			out = append(out, Interface{Name: ifi.Name, Prefix: p, HardwareAddr: ifi.HardwareAddr})
		}
	}
	return out, nil
}

// usable reports whether a subnet broadcast on the interface reaches
// anyone. Point-to-point links and tunnels have no broadcast domain.
func usable(flags net.Flags) bool {
	return flags&net.FlagUp != 0 &&
		flags&net.FlagBroadcast != 0 &&
		flags&net.FlagLoopback == 0
}

func prefixOf(ipn *net.IPNet) (netip.Prefix, bool) {
	ip4 := ipn.IP.To4()
	if ip4 == nil {
		return netip.Prefix{}, false
	}
	ones, bits := ipn.Mask.Size()
	if bits == 128 {
		ones -= 96
	} else if bits != 32 {
		return netip.Prefix{}, false
	}
	addr, _ := netip.AddrFromSlice(ip4)
	return netip.PrefixFrom(addr, ones), true
}

// BroadcastAddr computes the directed broadcast address of an IPv4 prefix.
// It returns the zero Addr for anything else.
func BroadcastAddr(p netip.Prefix) netip.Addr {
	if !p.IsValid() || !p.Addr().Is4() {
		return netip.Addr{}
	}
	a := p.Addr().As4()
	bits := p.Bits()
	for i := range a {
		var mask byte
		switch {
		case bits >= 8:
			mask = 0xff
		case bits > 0:
			mask = ^byte(0xff >> bits)
		}
		bits -= 8
		if bits < 0 {
			bits = 0
		}
		a[i] = a[i]&mask | ^mask
	}
	return netip.AddrFrom4(a)
}

// Pick chooses the interface to broadcast on. Names in prefer are tried in
// order; without a match the first interface wins.
func Pick(ifaces []Interface, prefer []string) (Interface, bool) {
	for _, name := range prefer {
		if i := slices.IndexFunc(ifaces, func(ifi Interface) bool { return ifi.Name == name }); i >= 0 {
			return ifaces[i], true
		}
	}
	if len(ifaces) == 0 {
		return Interface{}, false
	}
	return ifaces[0], true
}
