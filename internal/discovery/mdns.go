package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
)

// MDNS answers multicast DNS queries for "<instance>.local".
type MDNS struct {
	mu     sync.Mutex
	conn   *mdns.Conn
	sock   *net.UDPConn
	listen func() (*net.UDPConn, error)
}

// NewMDNS returns an announcer bound to the standard IPv4 mDNS group.
func NewMDNS() *MDNS {
	return &MDNS{listen: listenMulticast}
}

func listenMulticast() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp4", addr)
}

// Announce starts the responder. Announcing again replaces the previous
// name.
func (m *MDNS) Announce(_ context.Context, svc Service) error {
	if svc.Instance == "" {
		return fmt.Errorf("mdns: empty instance name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()

	sock, err := m.listen()
	if err != nil {
		return fmt.Errorf("mdns: listen: %w", err)
	}
	conn, err := mdns.Server(ipv4.NewPacketConn(sock), nil, &mdns.Config{
		LocalNames: []string{svc.Instance + ".local"},
	})
	if err != nil {
		sock.Close()
		return fmt.Errorf("mdns: start responder: %w", err)
	}
	m.conn, m.sock = conn, sock
	return nil
}

// Close stops the responder.
func (m *MDNS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *MDNS) closeLocked() error {
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	_ = m.sock.Close()
	m.conn, m.sock = nil, nil
	return err
}
