package hook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/leodido/go-syslog/v4/rfc5424"
)

// Format selects how a record is rendered into a datagram payload.
type Format int

const (
	// Text renders logfmt lines with slog's TextHandler.
	Text Format = iota
	// JSON renders one JSON object per line with slog's JSONHandler.
	JSON
	// Syslog renders RFC 5424 messages so syslog collectors can ingest the
	// stream directly.
	Syslog
)

// String returns the configuration name of the format.
func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	case Syslog:
		return "syslog"
	default:
		return "unknown"
	}
}

// ParseFormat maps a configuration name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return Text, nil
	case "json":
		return JSON, nil
	case "syslog", "rfc5424":
		return Syslog, nil
	}
	return Text, fmt.Errorf("unknown line format %q", s)
}

func newFormatter(f Format, w io.Writer, opts Options) slog.Handler {
	switch f {
	case JSON:
		return slog.NewJSONHandler(w, nil)
	case Syslog:
		return &syslogHandler{w: w, hostname: opts.Hostname, appName: opts.AppName}
	default:
		return slog.NewTextHandler(w, nil)
	}
}

// Sink receives finished lines. The queue implements it.
type Sink interface {
	Enqueue(line []byte) bool
}

// lineWriter adapts a Sink to the io.Writer the slog handlers expect. The
// standard handlers call Write exactly once per record, so each Write is
// one line.
type lineWriter struct {
	sink    Sink
	prefix  string
	maxLine int
	scratch sync.Pool
}

func newLineWriter(sink Sink, prefix string, maxLine int) *lineWriter {
	lw := &lineWriter{sink: sink, prefix: prefix, maxLine: maxLine}
	lw.scratch.New = func() any {
		b := make([]byte, 0, maxLine)
		return &b
	}
	return lw
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	// Cut before copying so an oversized record never grows the buffer.
	if lw.maxLine > 0 {
		if budget := max(lw.maxLine-len(lw.prefix), 0); len(p) > budget {
			p = p[:budget]
		}
	}
	bp := lw.scratch.Get().(*[]byte)
	line := truncate(append(append((*bp)[:0], lw.prefix...), p...), lw.maxLine)
	lw.sink.Enqueue(line)
	*bp = line[:0]
	lw.scratch.Put(bp)
	return n, nil
}

// truncate cuts b to at most n bytes.
func truncate(b []byte, n int) []byte {
	if n > 0 && len(b) > n {
		return b[:n]
	}
	return b
}

// syslogHandler renders records as RFC 5424 messages.
type syslogHandler struct {
	w        io.Writer
	hostname string
	appName  string
	attrs    attrText
}

func (h *syslogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *syslogHandler) Handle(_ context.Context, r slog.Record) error {
	msg := h.attrs.appendRecord([]byte(r.Message), r)

	m := &rfc5424.SyslogMessage{}
	m.SetVersion(1)
	m.SetPriority(userFacility*8 + severity(r.Level))
	if !r.Time.IsZero() {
		m.SetTimestamp(r.Time.UTC().Format(rfc5424Micro))
	}
	if h.hostname != "" {
		m.SetHostname(h.hostname)
	}
	if h.appName != "" {
		m.SetAppname(h.appName)
	}
	m.SetMessage(string(msg))

	out, err := m.String()
	if err != nil {
		return err
	}
	_, err = io.WriteString(h.w, out+"\n")
	return err
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = h.attrs.withAttrs(attrs)
	return &h2
}

func (h *syslogHandler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.attrs = h.attrs.withGroup(name)
	return &h2
}

const (
	userFacility = 1
	rfc5424Micro = "2006-01-02T15:04:05.000000Z07:00"
)

// severity maps slog levels onto syslog severities.
func severity(l slog.Level) uint8 {
	switch {
	case l >= slog.LevelError:
		return 3
	case l >= slog.LevelWarn:
		return 4
	case l >= slog.LevelInfo:
		return 6
	default:
		return 7
	}
}
