// Package hook intercepts the process-wide slog sink and copies each record
// into the transmit queue.
//
// The installed Handler is a decorator: it always hands the record to the
// handler that was installed before it, then, once the mirror is live,
// renders the record into a bounded line and enqueues it.
package hook

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// AllLevels is a minimum level below every level slog defines.
const AllLevels slog.Level = -1 << 10

// Options configures how records are rendered.
type Options struct {
	Format Format

	// Prefix is written in front of every line, e.g. "[udp-logger-7A3F] ".
	// Empty disables the prefix. Only the Text format should use it; a
	// prefix makes JSON and RFC 5424 lines unparseable.
	Prefix string

	// Attrs are added to every mirrored record but not to the previous
	// sink.
	Attrs []slog.Attr

	// Hostname and AppName fill the RFC 5424 header fields of the Syslog
	// format.
	Hostname string
	AppName  string

	// MaxLine bounds the rendered line, prefix included.
	MaxLine int

	// Level is the minimum level copied to the queue. Nil means every level.
	Level slog.Leveler
}

// Handler is the intercepting slog.Handler.
type Handler struct {
	next   slog.Handler
	format slog.Handler
	live   *atomic.Bool
	level  slog.Leveler
}

// New builds a Handler that forwards to next and, while live reports true,
// enqueues rendered lines into sink.
func New(next slog.Handler, sink Sink, live *atomic.Bool, opts Options) *Handler {
	level := opts.Level
	if level == nil {
		level = AllLevels
	}
	lw := newLineWriter(sink, opts.Prefix, opts.MaxLine)
	format := newFormatter(opts.Format, lw, opts)
	if len(opts.Attrs) > 0 {
		format = format.WithAttrs(opts.Attrs)
	}
	return &Handler{
		next:   next,
		format: format,
		live:   live,
		level:  level,
	}
}

// Enabled reports whether either the previous sink or the mirror wants
// records at level l.
func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	if h.next.Enabled(ctx, l) {
		return true
	}
	return h.mirroring(l)
}

// Handle forwards r to the previous sink first, then mirrors it. Only the
// previous sink's error is returned; mirroring never fails the caller.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if h.mirroring(r.Level) {
		_ = h.format.Handle(ctx, r)
	}
	return err
}

func (h *Handler) mirroring(l slog.Level) bool {
	return h.live.Load() && l >= h.level.Level()
}

// WithAttrs applies attrs to both the previous sink and the renderer.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.next = h.next.WithAttrs(attrs)
	h2.format = h.format.WithAttrs(attrs)
	return &h2
}

// WithGroup applies the group to both the previous sink and the renderer.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.next = h.next.WithGroup(name)
	h2.format = h.format.WithGroup(name)
	return &h2
}

// Next returns the handler this one forwards to.
func (h *Handler) Next() slog.Handler {
	return h.next
}
