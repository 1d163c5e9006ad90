package transmit

import (
	"net"
	"net/netip"
	"sync/atomic"
)

// UDPSender sends datagrams on an unconnected UDP socket.
type UDPSender struct {
	conn      *net.UDPConn
	broadcast atomic.Bool
}

// NewUDPSender wraps conn.
func NewUDPSender(conn *net.UDPConn) *UDPSender {
	return &UDPSender{conn: conn}
}

// WriteToUDPAddrPort sends b to addr.
func (s *UDPSender) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	return s.conn.WriteToUDPAddrPort(b, addr)
}

// EnableBroadcast sets SO_BROADCAST on the socket. Only the first
// successful call touches the socket.
func (s *UDPSender) EnableBroadcast() error {
	if s.broadcast.Load() {
		return nil
	}
	if err := setBroadcast(s.conn); err != nil {
		return err
	}
	s.broadcast.Store(true)
	return nil
}
