// Package command implements the UDP control protocol that redirects the
// mirrored log stream.
//
// A request is one datagram of at most four whitespace separated tokens.
// Every recognised request gets exactly one reply datagram; an empty
// request gets none.
package command

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/coffersTech/udplog/internal/dest"
	"github.com/coffersTech/udplog/internal/metrics"
)

const maxTokens = 4

// Replies, byte for byte.
const (
	ReplyBound        = "OK bound\n"
	ReplyBindUsage    = "ERR usage: bind <ipv4> <port>\n"
	ReplyUnbound      = "OK unbound\n"
	ReplyBroadcastOn  = "OK broadcast on\n"
	ReplyBroadcastOff = "OK broadcast off\n"
	ReplyBcastUsage   = "ERR usage: broadcast on|off\n"
	ReplyUnknown      = "ERR unknown command\n"
)

// pendingHost is reported by status before the identifier is known.
const pendingHost = "(pending)"

// Handler executes requests against the destination state.
type Handler struct {
	state    *dest.State
	identity func() string
	metrics  *metrics.Metrics
}

// NewHandler returns a Handler. identity reports the device identifier and
// may return "" while it is not yet known. m may be nil.
func NewHandler(state *dest.State, identity func() string, m *metrics.Metrics) *Handler {
	if identity == nil {
		identity = func() string { return "" }
	}
	return &Handler{state: state, identity: identity, metrics: m}
}

// Execute runs one request and returns the reply. The second result is
// false when the request held no tokens and nothing should be sent back.
func (h *Handler) Execute(payload []byte) (string, bool) {
	args := tokenize(payload)
	if len(args) == 0 {
		return "", false
	}
	h.metrics.Command(args[0])

	switch args[0] {
	case "bind":
		return h.bind(args[1:]), true
	case "unbind":
		h.state.Unbind()
		return ReplyUnbound, true
	case "broadcast":
		return h.broadcast(args[1:]), true
	case "status":
		return h.status(), true
	default:
		return ReplyUnknown, true
	}
}

func (h *Handler) bind(args []string) string {
	if len(args) < 2 {
		return ReplyBindUsage
	}
	target, err := ParseTarget(args[0], args[1])
	if err != nil {
		return ReplyBindUsage
	}
	if !h.state.Bind(target) {
		return ReplyBindUsage
	}
	return ReplyBound
}

func (h *Handler) broadcast(args []string) string {
	if len(args) < 1 {
		return ReplyBcastUsage
	}
	switch args[0] {
	case "on", "1":
		h.state.SetBroadcastEnabled(true)
		return ReplyBroadcastOn
	case "off", "0":
		h.state.SetBroadcastEnabled(false)
		return ReplyBroadcastOff
	default:
		return ReplyBcastUsage
	}
}

func (h *Handler) status() string {
	snap := h.state.Snapshot()
	host := h.identity()
	if host == "" {
		host = pendingHost
	}
	bcast := "off"
	if snap.BroadcastEnabled {
		bcast = "on"
	}
	ip, port := "-", uint16(0)
	if snap.UnicastReady {
		ip, port = snap.UnicastTarget.Addr().String(), snap.UnicastTarget.Port()
	}
	return fmt.Sprintf("host=%s mode=%s broadcast=%s drops=%d unicast=%s:%d\n",
		host, snap.Mode, bcast, snap.Drops, ip, port)
}

// ParseTarget validates a dotted-quad IPv4 address and a decimal port in
// [1,65535].
func ParseTarget(ip, port string) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse address %q: %w", ip, err)
	}
	if !addr.Is4() {
		return netip.AddrPort{}, fmt.Errorf("address %q is not IPv4", ip)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse port %q: %w", port, err)
	}
	if p == 0 {
		return netip.AddrPort{}, fmt.Errorf("port %q out of range", port)
	}
	return netip.AddrPortFrom(addr, uint16(p)), nil
}

// tokenize splits on space, tab, CR and LF, keeping at most maxTokens.
func tokenize(b []byte) []string {
	var out []string
	i := 0
	for i < len(b) && len(out) < maxTokens {
		for i < len(b) && isSpace(b[i]) {
			i++
		}
		if i == len(b) {
			break
		}
		start := i
		for i < len(b) && !isSpace(b[i]) {
			i++
		}
		out = append(out, string(b[start:i]))
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
