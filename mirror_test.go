package udplog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leodido/go-syslog/v4/rfc5424"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFacility stands in for slog's default logger so tests never touch
// process-wide state.
type fakeFacility struct {
	mu         sync.Mutex
	base       slog.Handler
	current    slog.Handler
	intercepts int
	restores   int
}

func newFakeFacility() *fakeFacility {
	base := slog.NewTextHandler(io.Discard, nil)
	return &fakeFacility{base: base, current: base}
}

func (f *fakeFacility) Intercept(wrap func(prev slog.Handler) slog.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intercepts++
	prev := f.current
	f.current = wrap(prev)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.restores++
		f.current = prev
	}
}

func (f *fakeFacility) logger() *slog.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slog.New(f.current)
}

func (f *fakeFacility) counts() (intercepts, restores int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intercepts, f.restores
}

type staticSource struct {
	mu     sync.Mutex
	ifaces []Interface
}

func (s *staticSource) Interfaces() ([]Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Interface(nil), s.ifaces...), nil
}

func (s *staticSource) set(ifaces ...Interface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ifaces = ifaces
}

// loopback has a /32 prefix, so its broadcast address is 127.0.0.1 and
// broadcast lines land on a local receiver.
var loopback = Interface{Name: "lo", Prefix: netip.MustParsePrefix("127.0.0.1/32")}

func testHardware() ([]net.HardwareAddr, error) {
	mac, err := net.ParseMAC("24:0a:c4:12:7a:3f")
	return []net.HardwareAddr{mac}, err
}

type receiver struct {
	conn *net.UDPConn
}

func newReceiver(t *testing.T) *receiver {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &receiver{conn: conn}
}

func (r *receiver) port() uint16 {
	return uint16(r.conn.LocalAddr().(*net.UDPAddr).Port)
}

func (r *receiver) expect(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, r.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := r.conn.ReadFromUDP(buf)
	require.NoError(t, err, "no datagram received")
	return string(buf[:n])
}

func (r *receiver) expectNone(t *testing.T) {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, r.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	n, _, err := r.conn.ReadFromUDP(buf)
	if err == nil {
		t.Fatalf("unexpected datagram: %q", buf[:n])
	}
}

type harness struct {
	mirror   *Mirror
	facility *fakeFacility
	source   *staticSource
	rx       *receiver
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	h := &harness{
		facility: newFakeFacility(),
		source:   &staticSource{ifaces: []Interface{loopback}},
		rx:       newReceiver(t),
	}

	cfg := DefaultConfig()
	cfg.LogPort = h.rx.port()
	cfg.CommandPort = 0
	cfg.WatchInterval = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	opts = append([]Option{
		WithFacility(h.facility),
		WithInterfaceSource(h.source),
		WithHardware(testHardware),
		WithLogger(slog.New(slog.DiscardHandler)),
	}, opts...)
	h.mirror = New(cfg, opts...)
	t.Cleanup(h.mirror.Stop)
	return h
}

// command sends one control request and returns the reply.
func (h *harness) command(t *testing.T, req string) string {
	t.Helper()
	addr, err := h.mirror.CommandAddr()
	require.NoError(t, err)
	to := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), addr.Port())

	client, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.WriteToUDPAddrPort([]byte(req), to)
	require.NoError(t, err)

	buf := make([]byte, 512)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := client.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestMirror_MirrorsLogLines(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mirror.Autostart())
	require.Equal(t, Running, h.mirror.State())
	assert.Equal(t, "udp-logger-7A3F", h.mirror.Identifier())

	h.facility.logger().Info("pump started", "rpm", 1200)

	line := h.rx.expect(t)
	assert.Regexp(t, `^\[udp-logger-7A3F\] time=\S+ level=INFO msg="pump started" rpm=1200\n$`, line)
}

func TestMirror_JSONLinesStayParseable(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Format = "json" })
	require.True(t, h.mirror.cfg.PrefixIdentifier)
	require.NoError(t, h.mirror.Autostart())

	h.facility.logger().Warn("disk low", "free", 12)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.rx.expect(t)), &got))
	assert.Equal(t, "udp-logger-7A3F", got["host"])
	assert.Equal(t, "disk low", got["msg"])
	assert.Equal(t, "WARN", got["level"])
	assert.Equal(t, float64(12), got["free"])
}

func TestMirror_SyslogLinesStayParseable(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Format = "syslog" })
	require.True(t, h.mirror.cfg.PrefixIdentifier)
	require.NoError(t, h.mirror.Autostart())

	h.facility.logger().Warn("disk low", "free", 12)

	line := strings.TrimSuffix(h.rx.expect(t), "\n")
	parsed, err := rfc5424.NewParser().Parse([]byte(line))
	require.NoError(t, err)
	msg, ok := parsed.(*rfc5424.SyslogMessage)
	require.True(t, ok)

	require.NotNil(t, msg.Hostname)
	assert.Equal(t, "udp-logger-7A3F", *msg.Hostname)
	require.NotNil(t, msg.Appname)
	assert.Equal(t, "udplog", *msg.Appname)
	require.NotNil(t, msg.Priority)
	assert.Equal(t, uint8(1*8+4), *msg.Priority)
	require.NotNil(t, msg.Message)
	assert.Equal(t, "disk low free=12", *msg.Message)
}

func TestMirror_TruncatesToMaxLine(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxLine = 64 })
	require.NoError(t, h.mirror.Autostart())

	h.facility.logger().Info(fmt.Sprintf("%0200d", 7))

	assert.Len(t, h.rx.expect(t), 64)
}

func TestMirror_BindRedirectsToHost(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mirror.Autostart())
	host := newReceiver(t)

	reply := h.command(t, fmt.Sprintf("bind 127.0.0.1 %d", host.port()))
	require.Equal(t, "OK bound\n", reply)

	h.facility.logger().Warn("valve stuck")
	assert.Contains(t, host.expect(t), "valve stuck")
	h.rx.expectNone(t)

	status := h.command(t, "status")
	assert.Contains(t, status, "host=udp-logger-7A3F ")
	assert.Contains(t, status, "mode=unicast")
	assert.Contains(t, status, fmt.Sprintf("unicast=127.0.0.1:%d", host.port()))

	require.Equal(t, "OK unbound\n", h.command(t, "unbind"))
	h.facility.logger().Warn("back to broadcast")
	assert.Contains(t, h.rx.expect(t), "back to broadcast")
}

func TestMirror_BroadcastOffSuppresses(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mirror.Autostart())

	require.Equal(t, "OK broadcast off\n", h.command(t, "broadcast off"))
	assert.Contains(t, h.command(t, "status"), "broadcast=off")

	h.facility.logger().Info("muted")
	h.rx.expectNone(t)

	h.mirror.SetBroadcast(true)
	h.facility.logger().Info("audible")
	assert.Contains(t, h.rx.expect(t), "audible")
}

func TestMirror_UnknownCommand(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mirror.Autostart())
	before := h.mirror.Status()

	assert.Equal(t, "ERR unknown command\n", h.command(t, "xyz"))
	assert.Equal(t, before, h.mirror.Status())
}

func TestMirror_ConcurrentAutostartInstallsOnce(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.mirror.Autostart())
		}()
	}
	wg.Wait()

	intercepts, _ := h.facility.counts()
	assert.Equal(t, 1, intercepts)
	assert.Equal(t, Running, h.mirror.State())
}

func TestMirror_WaitsForInterface(t *testing.T) {
	h := newHarness(t, nil)
	h.source.set()

	require.NoError(t, h.mirror.Autostart())
	assert.Equal(t, Initializing, h.mirror.State())
	_, err := h.mirror.CommandAddr()
	assert.ErrorIs(t, err, ErrStopped)

	intercepts, _ := h.facility.counts()
	assert.Zero(t, intercepts, "hook must not be installed before running")

	h.source.set(loopback)
	require.Eventually(t, func() bool {
		return h.mirror.State() == Running
	}, 2*time.Second, 10*time.Millisecond)

	h.facility.logger().Info("network up")
	assert.Contains(t, h.rx.expect(t), "network up")
}

func TestMirror_StopAndRestart(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mirror.Autostart())
	require.True(t, h.mirror.Bind("127.0.0.1", h.rx.port()))

	h.mirror.Stop()
	assert.Equal(t, Stopped, h.mirror.State())
	intercepts, restores := h.facility.counts()
	assert.Equal(t, 1, intercepts)
	assert.Equal(t, 1, restores)

	snap := h.mirror.Status()
	assert.Equal(t, ModeBroadcast, snap.Mode)
	assert.False(t, snap.BroadcastReady)
	assert.False(t, snap.UnicastReady)

	_, err := h.mirror.CommandAddr()
	assert.ErrorIs(t, err, ErrStopped)

	h.facility.logger().Info("while stopped")
	h.rx.expectNone(t)

	h.mirror.Stop()
	_, restores = h.facility.counts()
	assert.Equal(t, 1, restores, "second stop is a no-op")

	require.NoError(t, h.mirror.Autostart())
	assert.Equal(t, Running, h.mirror.State())
	h.facility.logger().Info("after restart")
	assert.Contains(t, h.rx.expect(t), "after restart")
}

func TestMirror_InvalidConfigStaysUninitialized(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Policy = "sometimes" })

	err := h.mirror.Autostart()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, Uninitialized, h.mirror.State())

	intercepts, _ := h.facility.counts()
	assert.Zero(t, intercepts)

	assert.ErrorIs(t, h.mirror.Autostart(), ErrInvalidConfig, "safe to call again")
}

func TestMirror_BindValidation(t *testing.T) {
	h := newHarness(t, nil)

	assert.True(t, h.mirror.Bind("192.168.1.10", 9999))
	snap := h.mirror.Status()
	assert.Equal(t, ModeUnicast, snap.Mode)
	assert.Equal(t, netip.MustParseAddrPort("192.168.1.10:9999"), snap.UnicastTarget)

	for _, tt := range []struct {
		ip   string
		port uint16
	}{
		{"300.1.1.1", 9999},
		{"not-an-ip", 9999},
		{"::1", 9999},
		{"10.0.0.5", 0},
	} {
		assert.False(t, h.mirror.Bind(tt.ip, tt.port), "%s:%d", tt.ip, tt.port)
		assert.Equal(t, snap, h.mirror.Status())
	}

	h.mirror.Unbind()
	assert.Equal(t, ModeBroadcast, h.mirror.Status().Mode)
	assert.Equal(t, uint64(0), h.mirror.DropCount())
}

func TestMirror_LevelFilter(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MinLevel = "warn" })
	require.NoError(t, h.mirror.Autostart())

	log := h.facility.logger()
	log.Info("chatty")
	log.Error("important")

	assert.Contains(t, h.rx.expect(t), "important")
	h.rx.expectNone(t)
}

type recordingAnnouncer struct {
	mu        sync.Mutex
	announced []Service
	closed    bool
}

func (a *recordingAnnouncer) Announce(_ context.Context, svc Service) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.announced = append(a.announced, svc)
	return nil
}

func (a *recordingAnnouncer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func TestMirror_AnnouncesAndMetrics(t *testing.T) {
	ann := &recordingAnnouncer{}
	reg := prometheus.NewRegistry()
	h := newHarness(t, nil, WithAnnouncer(ann), WithRegisterer(reg))
	require.NoError(t, h.mirror.Autostart())

	addr, err := h.mirror.CommandAddr()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ann.mu.Lock()
		defer ann.mu.Unlock()
		return len(ann.announced) == 1
	}, 2*time.Second, 10*time.Millisecond)
	ann.mu.Lock()
	svc := ann.announced[0]
	ann.mu.Unlock()
	assert.Equal(t, "udp-logger-7A3F", svc.Instance)
	assert.Equal(t, "udplog", svc.Name)
	assert.Equal(t, addr.Port(), svc.Port)

	h.facility.logger().Info("counted")
	h.rx.expect(t)
	assert.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(reg, "udplog_datagrams_sent_total")
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)

	h.mirror.Stop()
	ann.mu.Lock()
	defer ann.mu.Unlock()
	assert.True(t, ann.closed)
}
