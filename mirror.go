package udplog

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coffersTech/udplog/internal/command"
	"github.com/coffersTech/udplog/internal/dest"
	"github.com/coffersTech/udplog/internal/discovery"
	"github.com/coffersTech/udplog/internal/hook"
	"github.com/coffersTech/udplog/internal/identity"
	"github.com/coffersTech/udplog/internal/metrics"
	"github.com/coffersTech/udplog/internal/netif"
	"github.com/coffersTech/udplog/internal/queue"
	"github.com/coffersTech/udplog/internal/transmit"
)

// State is the lifecycle state of a Mirror.
type State int32

const (
	// Uninitialized: Autostart has not succeeded yet.
	Uninitialized State = iota
	// Initializing: set up and waiting for a usable interface.
	Initializing
	// Running: sockets open, transmit worker running, hook installed.
	Running
	// Stopped: torn down by Stop. Autostart starts it again.
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Mirror copies the process log stream to the local network.
type Mirror struct {
	cfg             Config
	facility        Facility
	source          InterfaceSource
	hardware        HardwareFunc
	extraAnnouncers []Announcer
	registerer      prometheus.Registerer
	logger          *slog.Logger

	dest  *dest.State
	ident *identity.Lazy
	live  atomic.Bool

	mu        sync.Mutex
	state     State
	inited    bool
	settings  settings
	level     *slog.LevelVar
	queue     *queue.Queue
	metrics   *metrics.Metrics
	announcer discovery.Multi

	txConn    *net.UDPConn
	cmdConn   *net.UDPConn
	cancel    context.CancelFunc
	stopWatch context.CancelFunc
	wg        sync.WaitGroup
	restore   func()
}

// New returns an idle Mirror. Nothing is opened until Autostart.
func New(cfg Config, opts ...Option) *Mirror {
	m := &Mirror{
		cfg:      cfg,
		facility: hook.Slog,
		source:   netif.System{},
		dest:     dest.NewState(),
		level:    new(slog.LevelVar),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		// Captured now, before any hook exists, so the mirror never
		// mirrors its own diagnostics.
		m.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	m.logger = m.logger.With("component", "udplog")
	m.ident = identity.NewLazy(cfg.IdentifierPrefix, m.hardware)
	return m
}

// Autostart brings the mirror up. It is safe to call from many goroutines
// and more than once: while initializing or running it does nothing. A
// configuration error leaves the mirror Uninitialized and is returned.
// When no interface is usable yet the mirror stays Initializing and starts
// as soon as one appears.
func (m *Mirror) Autostart() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Initializing, Running:
		return nil
	}

	if !m.inited {
		if err := m.initLocked(); err != nil {
			return err
		}
	}
	m.ident.Get()

	m.state = Initializing

	watchCtx, stopWatch := context.WithCancel(context.Background())
	m.stopWatch = stopWatch
	w := netif.NewWatcher(m.source, m.cfg.WatchInterval, m.attach, m.logger)
	go w.Run(watchCtx)

	ifaces, err := m.source.Interfaces()
	if err != nil {
		m.logger.Debug("initial interface scan failed", "error", err)
	}
	m.refreshBroadcastLocked(ifaces)
	m.startLocked()
	return nil
}

// initLocked allocates the queue and everything derived from the config.
func (m *Mirror) initLocked() error {
	s, err := m.cfg.settings()
	if err != nil {
		return err
	}

	mt, err := metrics.New(m.registerer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	q, err := queue.New(m.cfg.QueueDepth, m.cfg.MaxLine, s.policy, queue.WithDropCallback(func() {
		m.dest.CountDrop()
		mt.Dropped()
	}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	m.settings = s
	m.level.Set(s.level)
	m.metrics = mt
	m.queue = q

	var announcers discovery.Multi
	if m.cfg.MDNS {
		announcers = append(announcers, discovery.NewMDNS())
	}
	if m.cfg.RegistryURL != "" {
		announcers = append(announcers, discovery.NewRegistry(m.cfg.RegistryURL, m.cfg.RegistryKey, m.level))
	}
	m.announcer = append(announcers, m.extraAnnouncers...)

	m.inited = true
	return nil
}

// attach handles a newly acquired address.
func (m *Mirror) attach(ifaces []netif.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Initializing && m.state != Running {
		return
	}
	m.refreshBroadcastLocked(ifaces)
	m.startLocked()
}

func (m *Mirror) refreshBroadcastLocked(ifaces []netif.Interface) {
	ifi, ok := netif.Pick(ifaces, m.cfg.Interfaces)
	if !ok {
		return
	}
	target := netip.AddrPortFrom(ifi.Broadcast(), m.cfg.LogPort)
	m.dest.SetBroadcastTarget(target)
	m.logger.Debug("broadcast target derived", "interface", ifi.Name, "target", target)
}

// startLocked moves Initializing to Running once both sockets are open and
// a broadcast target is known. Failures leave the mirror Initializing for
// the next attach.
func (m *Mirror) startLocked() {
	if m.state == Running {
		return
	}

	if err := m.openSocketsLocked(); err != nil {
		m.logger.Warn("open sockets", "error", err)
		return
	}
	if !m.dest.BroadcastReady() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	worker := transmit.NewWorker(m.queue, m.dest, transmit.NewUDPSender(m.txConn), m.metrics)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		worker.Run(ctx)
	}()

	handler := command.NewHandler(m.dest, m.ident.Peek, m.metrics)
	listener := command.NewListener(m.cmdConn, handler, m.logger)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		listener.Run(ctx)
	}()

	m.announceLocked(ctx)
	m.installHookLocked()

	m.live.Store(true)
	m.state = Running
	m.logger.Info("mirror running",
		"identifier", m.ident.Get(),
		"command_addr", m.cmdConn.LocalAddr().String(),
		"broadcast", m.dest.Snapshot().BroadcastTarget,
		"queue_depth", m.queue.Cap(),
		"max_line", m.queue.MaxLine(),
		"policy", m.queue.Policy())
}

func (m *Mirror) openSocketsLocked() error {
	if m.txConn == nil {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
		if err != nil {
			return fmt.Errorf("transmit socket: %w", err)
		}
		m.txConn = conn
	}
	if m.cmdConn == nil {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(m.cfg.CommandPort)})
		if err != nil {
			return fmt.Errorf("command socket on port %d: %w", m.cfg.CommandPort, err)
		}
		m.cmdConn = conn
	}
	return nil
}

func (m *Mirror) announceLocked(ctx context.Context) {
	if len(m.announcer) == 0 {
		return
	}
	svc := discovery.Service{
		Name:     m.cfg.ServiceName,
		Instance: m.ident.Get(),
		Port:     m.cmdConn.LocalAddr().(*net.UDPAddr).AddrPort().Port(),
		LogPort:  m.cfg.LogPort,
	}
	announcer := m.announcer
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := announcer.Announce(ctx, svc); err != nil {
			m.logger.Warn("announcement failed", "error", err)
		}
	}()
}

func (m *Mirror) installHookLocked() {
	if m.restore != nil {
		return
	}
	opts := hook.Options{
		Format:   m.settings.format,
		Hostname: m.ident.Get(),
		AppName:  m.cfg.ServiceName,
		MaxLine:  m.cfg.MaxLine,
		Level:    m.level,
	}
	if m.cfg.PrefixIdentifier {
		// Syslog lines already carry the identifier as HOSTNAME.
		switch m.settings.format {
		case hook.Text:
			opts.Prefix = "[" + m.ident.Get() + "] "
		case hook.JSON:
			opts.Attrs = []slog.Attr{slog.String("host", m.ident.Get())}
		}
	}
	sink := queueSink{queue: m.queue, metrics: m.metrics}
	m.restore = m.facility.Intercept(func(prev slog.Handler) slog.Handler {
		return hook.New(prev, sink, &m.live, opts)
	})
}

// Stop uninstalls the hook, stops both workers, closes both sockets and
// clears the destination targets. The queue, the broadcast flag and the
// drop count survive, so Autostart can bring the mirror back.
func (m *Mirror) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Initializing && m.state != Running {
		return
	}

	m.live.Store(false)
	if m.restore != nil {
		m.restore()
		m.restore = nil
	}

	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.cmdConn != nil {
		m.cmdConn.Close()
		m.cmdConn = nil
	}
	if m.txConn != nil {
		m.txConn.Close()
		m.txConn = nil
	}
	m.wg.Wait()

	if err := m.announcer.Close(); err != nil {
		m.logger.Debug("close announcers", "error", err)
	}

	m.dest.Reset()
	m.state = Stopped
}

// Bind sends subsequent lines only to ipv4:port. It reports false, leaving
// the destination unchanged, for a malformed address or port 0.
func (m *Mirror) Bind(ipv4 string, port uint16) bool {
	addr, err := netip.ParseAddr(ipv4)
	if err != nil || !addr.Is4() {
		return false
	}
	return m.dest.Bind(netip.AddrPortFrom(addr, port))
}

// Unbind returns to broadcasting. The bound target is remembered but unused.
func (m *Mirror) Unbind() {
	m.dest.Unbind()
}

// SetBroadcast enables or disables broadcast sends without changing mode.
func (m *Mirror) SetBroadcast(enabled bool) {
	m.dest.SetBroadcastEnabled(enabled)
}

// DropCount returns how many lines were discarded because the queue was
// full.
func (m *Mirror) DropCount() uint64 {
	return m.dest.Drops()
}

// Identifier returns the device identifier, deriving it on first use.
func (m *Mirror) Identifier() string {
	return m.ident.Get()
}

// State returns the lifecycle state.
func (m *Mirror) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of the destination state.
func (m *Mirror) Status() Snapshot {
	return m.dest.Snapshot()
}

// CommandAddr returns the local address of the control socket.
func (m *Mirror) CommandAddr() (netip.AddrPort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Running || m.cmdConn == nil {
		return netip.AddrPort{}, ErrStopped
	}
	return m.cmdConn.LocalAddr().(*net.UDPAddr).AddrPort(), nil
}

// MinLevel returns the level variable gating which records are mirrored.
// A registry handshake may change it at runtime.
func (m *Mirror) MinLevel() *slog.LevelVar {
	return m.level
}

// queueSink feeds rendered lines into the transmit queue.
type queueSink struct {
	queue   *queue.Queue
	metrics *metrics.Metrics
}

func (s queueSink) Enqueue(line []byte) bool {
	if len(line) == 0 {
		return true
	}
	ok := s.queue.Enqueue(line)
	if ok {
		s.metrics.Enqueued()
	}
	return ok
}
