package port

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// occupy binds an OS-assigned loopback port for the duration of the test
// and returns it.
func occupy(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to start test listener")
	t.Cleanup(func() { _ = listener.Close() })

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return tcpAddr.Port
}

func TestNewScanner_DefaultHost(t *testing.T) {
	assert.Equal(t, DefaultHost, NewScanner("").Host())
	assert.Equal(t, "::1", NewScanner("::1").Host())
}

func TestIsPortAvailable_FreePort(t *testing.T) {
	scanner := NewScanner("")

	// Ask for a free port rather than hardcoding one that CI might be using.
	freePort, err := scanner.FindAvailablePort(50000, 50100)
	require.NoError(t, err, "should find at least one free port in 50000-50100")

	assert.True(t, scanner.IsPortAvailable(freePort), "port %d should be available", freePort)
}

func TestIsPortAvailable_UsedPort(t *testing.T) {
	port := occupy(t)
	assert.False(t, NewScanner("").IsPortAvailable(port), "port %d should be in use", port)
}

func TestIsPortAvailable_OutOfRange(t *testing.T) {
	scanner := NewScanner("")
	assert.False(t, scanner.IsPortAvailable(0))
	assert.False(t, scanner.IsPortAvailable(65536))
	assert.False(t, scanner.IsPortAvailable(-1))
}

func TestFindAvailablePort_NoneAvailable(t *testing.T) {
	port := occupy(t)

	_, err := NewScanner("").FindAvailablePort(port, port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no available")
}

func TestPublishPort_PreferredFree(t *testing.T) {
	scanner := NewScanner("")
	free, err := scanner.FindAvailablePort(50200, 50300)
	require.NoError(t, err)

	got, err := scanner.PublishPort(free)
	require.NoError(t, err)
	assert.Equal(t, free, got)
}

func TestPublishPort_FallsBackToDynamicRange(t *testing.T) {
	taken := occupy(t)

	got, err := NewScanner("").PublishPort(taken)
	require.NoError(t, err)
	assert.NotEqual(t, taken, got)
	assert.GreaterOrEqual(t, got, DynamicRangeStart)
	assert.LessOrEqual(t, got, DynamicRangeEnd)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8000", NewScanner("").Address(8000))
	assert.Equal(t, "[::1]:8000", NewScanner("::1").Address(8000))
}
