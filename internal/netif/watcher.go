package netif

import (
	"context"
	"log/slog"
	"net/netip"
	"time"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = 2 * time.Second

// Watcher polls a Source and calls OnAttach whenever an IPv4 address shows
// up that was not present on the previous poll, including on the first
// poll.
type Watcher struct {
	src      Source
	interval time.Duration
	onAttach func([]Interface)
	logger   *slog.Logger

	seen map[netip.Addr]struct{}
}

// NewWatcher returns a Watcher. onAttach runs on the watcher goroutine
// with the full current interface list.
func NewWatcher(src Source, interval time.Duration, onAttach func([]Interface), logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		src:      src,
		interval: interval,
		onAttach: onAttach,
		logger:   logger,
		seen:     make(map[netip.Addr]struct{}),
	}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.Poll()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll checks the source once. It reports whether OnAttach was called.
// Run and Poll must not be used concurrently.
func (w *Watcher) Poll() bool {
	ifaces, err := w.src.Interfaces()
	if err != nil {
		w.logger.Debug("interface poll failed", "error", err)
		return false
	}

	current := make(map[netip.Addr]struct{}, len(ifaces))
	attached := false
	for _, ifi := range ifaces {
		addr := ifi.Prefix.Addr()
		current[addr] = struct{}{}
		if _, ok := w.seen[addr]; !ok {
			attached = true
			w.logger.Debug("address acquired", "interface", ifi.Name, "addr", ifi.Prefix)
		}
	}
	w.seen = current

	if attached && w.onAttach != nil {
		w.onAttach(ifaces)
	}
	return attached
}
