//go:build !unix

package transmit

import "net"

// The runtime enables SO_BROADCAST on datagram sockets it creates, which is
// all non-unix platforms need.
func setBroadcast(*net.UDPConn) error { return nil }
