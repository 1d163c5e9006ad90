package command

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

const (
	// bufferSize bounds a request datagram; longer ones are truncated by
	// the socket.
	bufferSize = 512

	// pollInterval is how long a receive waits before checking for
	// shutdown.
	pollInterval = 200 * time.Millisecond
)

// Listener serves the control protocol on a UDP socket.
type Listener struct {
	conn    *net.UDPConn
	handler *Handler
	logger  *slog.Logger
}

// NewListener serves h on conn. logger must not feed back into the mirror.
func NewListener(conn *net.UDPConn, h *Handler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Listener{conn: conn, handler: h, logger: logger}
}

// Run receives and answers requests until ctx is done or the socket is
// closed.
func (l *Listener) Run(ctx context.Context) {
	buf := make([]byte, bufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
		}

		n, from, err := l.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Debug("command receive failed", "error", err)
			continue
		}

		reply, ok := l.handler.Execute(buf[:n])
		if !ok {
			continue
		}
		if _, err := l.conn.WriteToUDPAddrPort([]byte(reply), from); err != nil {
			l.logger.Debug("command reply failed", "to", from, "error", err)
		}
	}
}
