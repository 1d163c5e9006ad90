// Package transmit drains the line queue onto the network.
package transmit

import (
	"context"
	"net/netip"

	"github.com/coffersTech/udplog/internal/dest"
	"github.com/coffersTech/udplog/internal/metrics"
	"github.com/coffersTech/udplog/internal/queue"
)

// Sender writes one datagram. *UDPSender is the production implementation.
type Sender interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// broadcaster is implemented by senders that need permission before they
// may address a broadcast destination.
type broadcaster interface {
	EnableBroadcast() error
}

// Worker sends each queued line to the destination selected at send time.
type Worker struct {
	queue   *queue.Queue
	state   *dest.State
	sender  Sender
	metrics *metrics.Metrics
}

// NewWorker wires a worker. m may be nil.
func NewWorker(q *queue.Queue, s *dest.State, sender Sender, m *metrics.Metrics) *Worker {
	return &Worker{queue: q, state: s, sender: sender, metrics: m}
}

// Run sends lines until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		rec, err := w.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		w.send(rec)
	}
}

// send delivers one record on a best-effort basis and releases it.
func (w *Worker) send(rec queue.Record) {
	defer rec.Release()

	target, ok := dest.Select(w.state.Snapshot())
	if !ok {
		w.metrics.Discarded()
		return
	}

	if target.Broadcast {
		if b, ok := w.sender.(broadcaster); ok {
			if err := b.EnableBroadcast(); err != nil {
				w.metrics.SendError()
				return
			}
		}
	}

	if _, err := w.sender.WriteToUDPAddrPort(rec.Bytes(), target.Addr); err != nil {
		w.metrics.SendError()
		return
	}
	w.metrics.Sent(target.Broadcast)
}
