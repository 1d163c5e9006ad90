package udplog

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The default mirror is built once per process, so this is the only test
// that may touch it.
func TestDefault_EnvAndPackageAPI(t *testing.T) {
	t.Setenv("UDPLOG_LOG_PORT", "6001")
	t.Setenv("UDPLOG_IDENTIFIER_PREFIX", "pump")
	t.Setenv("UDPLOG_POLICY", "bogus")

	m := Default()
	require.Same(t, m, Default())
	assert.Equal(t, uint16(6001), m.cfg.LogPort)
	assert.Equal(t, "bogus", m.cfg.Policy)

	// A bad policy keeps the mirror from touching sockets or the logger.
	require.ErrorIs(t, Autostart(), ErrInvalidConfig)
	assert.Equal(t, Uninitialized, m.State())
	_, err := m.CommandAddr()
	assert.ErrorIs(t, err, ErrStopped)

	assert.False(t, Bind("not-an-ip", 5005))
	require.True(t, Bind("10.0.0.5", 5005))
	st := m.Status()
	assert.Equal(t, ModeUnicast, st.Mode)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.5:5005"), st.UnicastTarget)

	Unbind()
	assert.Equal(t, ModeBroadcast, m.Status().Mode)

	SetBroadcast(false)
	assert.False(t, m.Status().BroadcastEnabled)
	SetBroadcast(true)

	assert.Zero(t, DropCount())
	assert.Regexp(t, `^pump-[0-9A-F]{4}$`, Identifier())

	Stop()
	assert.Equal(t, Uninitialized, m.State())
}
