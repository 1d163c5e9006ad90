package hook

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
)

// Facility is the process-wide log sink being intercepted.
type Facility interface {
	// Intercept installs wrap(prev) as the sink, where prev is the sink
	// active before the call. The returned function reinstates prev.
	Intercept(wrap func(prev slog.Handler) slog.Handler) (restore func())
}

// Slog is the Facility backed by slog's default logger. Since
// slog.SetDefault also redirects the log package, the standard log
// functions are intercepted too.
var Slog Facility = &slogFacility{}

type slogFacility struct {
	mu sync.Mutex
}

func (f *slogFacility) Intercept(wrap func(prev slog.Handler) slog.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	prevLogger := slog.Default()
	out, flags, prefix := log.Writer(), log.Flags(), log.Prefix()

	prev := prevLogger.Handler()
	if isBuiltinHandler(prev) {
		// The built-in handler writes through the log package, which
		// SetDefault is about to point back at us. Write to the original
		// destination directly instead.
		prev = newStdlogHandler(prev, log.New(out, prefix, flags))
	}
	slog.SetDefault(slog.New(wrap(prev)))

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		slog.SetDefault(prevLogger)
		log.SetOutput(out)
		log.SetFlags(flags)
		log.SetPrefix(prefix)
	}
}

// isBuiltinHandler reports whether h is slog's unexported default handler.
func isBuiltinHandler(h slog.Handler) bool {
	return fmt.Sprintf("%T", h) == "*slog.defaultHandler"
}

// stdlogHandler reproduces the built-in handler's "LEVEL msg k=v" output on
// a private *log.Logger.
type stdlogHandler struct {
	builtin slog.Handler // consulted for Enabled only
	out     *log.Logger
	source  int // log.Lshortfile, log.Llongfile or 0
	attrs   attrText
}

func newStdlogHandler(builtin slog.Handler, l *log.Logger) *stdlogHandler {
	flags := l.Flags()
	source := flags & (log.Lshortfile | log.Llongfile)
	l.SetFlags(flags &^ (log.Lshortfile | log.Llongfile))
	return &stdlogHandler{builtin: builtin, out: l, source: source}
}

func (h *stdlogHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.builtin.Enabled(ctx, l)
}

func (h *stdlogHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 128)
	if h.source != 0 && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		file := frame.File
		if h.source&log.Lshortfile != 0 {
			file = filepath.Base(file)
		}
		buf = append(buf, file...)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, int64(frame.Line), 10)
		buf = append(buf, ": "...)
	}
	buf = append(buf, r.Level.String()...)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	buf = h.attrs.appendRecord(buf, r)
	return h.out.Output(0, string(buf))
}

func (h *stdlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = h.attrs.withAttrs(attrs)
	return &h2
}

func (h *stdlogHandler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.attrs = h.attrs.withGroup(name)
	return &h2
}
