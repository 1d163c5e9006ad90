// Package metrics exposes optional Prometheus counters for the mirror.
//
// A nil *Metrics is valid: every method is a no-op, so components can call
// them unconditionally when no registerer was configured.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "udplog"

// Metrics holds the mirror's counters.
type Metrics struct {
	enqueued  prometheus.Counter
	dropped   prometheus.Counter
	sent      *prometheus.CounterVec
	sendErrs  prometheus.Counter
	discarded prometheus.Counter
	commands  *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg yields
// nil metrics. Counters already registered by an earlier mirror are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_enqueued_total",
			Help:      "Log lines accepted into the transmit queue",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Log lines dropped because the transmit queue was full",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_sent_total",
			Help:      "Datagrams handed to the network, by target kind",
		}, []string{"target"}),
		sendErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Datagram sends that returned an error",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_discarded_total",
			Help:      "Log lines discarded because no destination was available",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Control commands received, by command",
		}, []string{"command"}),
	}

	var err error
	m.enqueued = register(reg, m.enqueued, &err)
	m.dropped = register(reg, m.dropped, &err)
	m.sent = register(reg, m.sent, &err)
	m.sendErrs = register(reg, m.sendErrs, &err)
	m.discarded = register(reg, m.discarded, &err)
	m.commands = register(reg, m.commands, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, returning the already registered collector when an
// identical one exists. The first hard failure is kept in *errp.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		if *errp == nil {
			*errp = err
		}
	}
	return c
}

// Enqueued counts a line accepted into the queue.
func (m *Metrics) Enqueued() {
	if m == nil {
		return
	}
	m.enqueued.Inc()
}

// Dropped counts a line rejected by a full queue.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// Sent counts a datagram sent to a broadcast or unicast target.
func (m *Metrics) Sent(broadcast bool) {
	if m == nil {
		return
	}
	target := "unicast"
	if broadcast {
		target = "broadcast"
	}
	m.sent.WithLabelValues(target).Inc()
}

// SendError counts a failed send.
func (m *Metrics) SendError() {
	if m == nil {
		return
	}
	m.sendErrs.Inc()
}

// Discarded counts a line with no destination.
func (m *Metrics) Discarded() {
	if m == nil {
		return
	}
	m.discarded.Inc()
}

// Command counts a received control command. Unknown verbs are folded into
// one label to keep cardinality bounded.
func (m *Metrics) Command(verb string) {
	if m == nil {
		return
	}
	switch verb {
	case "bind", "unbind", "broadcast", "status":
	default:
		verb = "unknown"
	}
	m.commands.WithLabelValues(verb).Inc()
}
