package port

import (
	"fmt"
	"net"
	"strconv"
)

// Dynamic port range used when the preferred port is taken.
const (
	DynamicRangeStart = 49152
	DynamicRangeEnd   = 65535
)

// DefaultHost is the address supervisors are published on. Only loopback
// is used, so a preview never exposes the application to the network.
const DefaultHost = "127.0.0.1"

// Scanner checks TCP port availability on one host address by binding to
// it, which asks the operating system directly instead of parsing
// /proc/net or shelling out to lsof.
type Scanner struct {
	host string
}

// NewScanner creates a Scanner for host. An empty host means DefaultHost.
func NewScanner(host string) *Scanner {
	if host == "" {
		host = DefaultHost
	}
	return &Scanner{host: host}
}

// Host returns the address the scanner probes.
func (s *Scanner) Host() string {
	return s.host
}

// IsPortAvailable reports whether port can be bound on the scanner's host.
// Out-of-range ports are never available.
//
// Binding is the only reliable check: a port can be free on 127.0.0.1 and
// taken on ::1, so the probe uses exactly the address Docker will publish
// on.
func (s *Scanner) IsPortAvailable(port int) bool {
	if port < 1 || port > 65535 {
		return false
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// FindAvailablePort returns the first free port in [startPort, endPort].
// The search is sequential, so the result is deterministic for a given
// host state.
func (s *Scanner) FindAvailablePort(startPort, endPort int) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if s.IsPortAvailable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available tcp port found on %s in range %d-%d", s.host, startPort, endPort)
}

// PublishPort returns preferred if it is free, otherwise the first free
// port in the dynamic range.
//
// The preferred port is normally the supervisor's own port, so a preview
// URL looks the same as it would in production. Falling back to the
// dynamic range (49152-65535) avoids ports that other local services are
// registered on.
//
// The port is released again before Docker binds it, so another process
// can take it in between. Docker then fails the container start, which
// the caller reports as a start failure.
func (s *Scanner) PublishPort(preferred int) (int, error) {
	if s.IsPortAvailable(preferred) {
		return preferred, nil
	}
	return s.FindAvailablePort(DynamicRangeStart, DynamicRangeEnd)
}

// Address formats host and port as "host:port".
func (s *Scanner) Address(port int) string {
	return net.JoinHostPort(s.host, strconv.Itoa(port))
}
