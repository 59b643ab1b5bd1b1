package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSameAddressReplacesExistingSession(t *testing.T) {
	// UUID_MAX_CONNECTIONS=1, two sequential upgrades from the same
	// address and identity.
	m := New(1)
	const id = "a1b2c3d4-e5f6-7890-abcd-ef1234567890"
	const addr = "203.0.113.50"

	var gotCode int
	var gotReason string
	require.True(t, m.CheckConnectionAllowed(id, addr))
	m.RegisterConnection(id, addr, "conn-1", func(code int, reason string) {
		gotCode, gotReason = code, reason
	})

	require.True(t, m.CheckConnectionAllowed(id, addr)) // same-address reconnect always admitted
	m.RegisterConnection(id, addr, "conn-2", func(int, string) {})

	require.Equal(t, CloseReplaced, gotCode)
	require.Equal(t, "Connection replaced by a newer session", gotReason)
}

func TestDifferentAddressDeniedAtCap(t *testing.T) {
	m := New(1)
	const id = "identity-x"
	m.RegisterConnection(id, "1.1.1.1", "conn-1", func(int, string) {})
	require.False(t, m.CheckConnectionAllowed(id, "2.2.2.2"))
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	m := New(1)
	require.NotPanics(t, func() {
		m.UnregisterConnection("nope", "ghost")
	})
}

func TestDisconnectCallbackPanicIsSwallowed(t *testing.T) {
	m := New(1)
	const id = "identity-panic"
	m.RegisterConnection(id, "1.1.1.1", "conn-1", func(int, string) { panic("boom") })
	require.NotPanics(t, func() {
		m.RegisterConnection(id, "1.1.1.1", "conn-2", func(int, string) {})
	})
}
