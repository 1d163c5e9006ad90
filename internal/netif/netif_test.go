package netif

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastAddr(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"192.168.1.42/24", "192.168.1.255"},
		{"10.0.3.7/8", "10.255.255.255"},
		{"172.16.33.9/20", "172.16.47.255"},
		{"10.1.2.3/32", "10.1.2.3"},
		{"10.1.2.3/0", "255.255.255.255"},
		{"192.168.7.130/25", "192.168.7.255"},
		{"192.168.7.10/25", "192.168.7.127"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got := BroadcastAddr(netip.MustParsePrefix(tt.prefix))
			assert.Equal(t, netip.MustParseAddr(tt.want), got)
		})
	}
}

func TestBroadcastAddr_RejectsIPv6(t *testing.T) {
	assert.False(t, BroadcastAddr(netip.MustParsePrefix("fe80::1/64")).IsValid())
	assert.False(t, BroadcastAddr(netip.Prefix{}).IsValid())
}

func TestUsable(t *testing.T) {
	tests := []struct {
		name  string
		flags net.Flags
		want  bool
	}{
		{"ethernet", net.FlagUp | net.FlagBroadcast | net.FlagMulticast | net.FlagRunning, true},
		{"down", net.FlagBroadcast | net.FlagMulticast, false},
		{"loopback", net.FlagUp | net.FlagLoopback | net.FlagRunning, false},
		{"point to point", net.FlagUp | net.FlagPointToPoint | net.FlagMulticast | net.FlagRunning, false},
		{"tun", net.FlagUp | net.FlagRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, usable(tt.flags))
		})
	}
}

func TestPick(t *testing.T) {
	ifaces := []Interface{
		{Name: "eth0", Prefix: netip.MustParsePrefix("10.0.0.2/24")},
		{Name: "wlan0", Prefix: netip.MustParsePrefix("192.168.1.5/24")},
	}

	got, ok := Pick(ifaces, nil)
	require.True(t, ok)
	assert.Equal(t, "eth0", got.Name)

	got, ok = Pick(ifaces, []string{"usb0", "wlan0"})
	require.True(t, ok)
	assert.Equal(t, "wlan0", got.Name)
	assert.Equal(t, netip.MustParseAddr("192.168.1.255"), got.Broadcast())

	got, ok = Pick(ifaces, []string{"usb0"})
	require.True(t, ok)
	assert.Equal(t, "eth0", got.Name)

	_, ok = Pick(nil, []string{"eth0"})
	assert.False(t, ok)
}

type fakeSource struct {
	mu     sync.Mutex
	ifaces []Interface
	err    error
}

func (f *fakeSource) Interfaces() ([]Interface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Interface(nil), f.ifaces...), f.err
}

func (f *fakeSource) set(ifaces ...Interface) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ifaces = ifaces
}

func TestWatcher_PollFiresOnNewAddressOnly(t *testing.T) {
	eth := Interface{Name: "eth0", Prefix: netip.MustParsePrefix("10.0.0.2/24")}
	wlan := Interface{Name: "wlan0", Prefix: netip.MustParsePrefix("192.168.1.5/24")}
	src := &fakeSource{}

	var calls [][]Interface
	w := NewWatcher(src, time.Hour, func(ifs []Interface) { calls = append(calls, ifs) }, nil)

	assert.False(t, w.Poll(), "no interfaces yet")

	src.set(eth)
	assert.True(t, w.Poll())
	assert.False(t, w.Poll(), "same address again")

	src.set(eth, wlan)
	assert.True(t, w.Poll())

	src.set(wlan)
	assert.False(t, w.Poll(), "losing an address is not an attach")

	src.set(eth, wlan)
	assert.True(t, w.Poll(), "address came back")

	require.Len(t, calls, 3)
	assert.Equal(t, []Interface{eth}, calls[0])
	assert.Len(t, calls[1], 2)
}

func TestWatcher_PollErrorKeepsState(t *testing.T) {
	eth := Interface{Name: "eth0", Prefix: netip.MustParsePrefix("10.0.0.2/24")}
	src := &fakeSource{ifaces: []Interface{eth}}
	w := NewWatcher(src, time.Hour, nil, nil)

	require.True(t, w.Poll())
	src.err = errors.New("netlink unavailable")
	assert.False(t, w.Poll())
	src.err = nil
	assert.False(t, w.Poll())
}

func TestWatcher_RunPollsImmediatelyAndOnTick(t *testing.T) {
	src := &fakeSource{ifaces: []Interface{{Name: "eth0", Prefix: netip.MustParsePrefix("10.0.0.2/24")}}}
	attached := make(chan []Interface, 4)
	w := NewWatcher(src, 10*time.Millisecond, func(ifs []Interface) { attached <- ifs }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-attached:
	case <-time.After(2 * time.Second):
		t.Fatal("no attach on first poll")
	}

	src.set(Interface{Name: "wlan0", Prefix: netip.MustParsePrefix("192.168.1.5/24")})
	select {
	case ifs := <-attached:
		assert.Equal(t, "wlan0", ifs[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no attach after address change")
	}
}
