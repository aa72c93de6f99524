// Package whitelist implements the wildcard IPv4 patterns used to decide
// which remote addresses may open an RCON connection.
//
// A pattern has four dot-separated segments, each either a decimal octet
// or "*" (any octet 0-255), e.g. "192.*.*.*" or "127.0.0.1".
package whitelist

import (
	"net"
	"strconv"
	"strings"
)

// Match reports whether the dotted-quad address is accepted by pattern.
// Malformed patterns or addresses never match.
func Match(pattern, address string) bool {
	ps := strings.Split(strings.TrimSpace(pattern), ".")
	as := strings.Split(strings.TrimSpace(address), ".")
	if len(ps) != 4 || len(as) != 4 {
		return false
	}

	for i := range ps {
		octet, ok := parseOctet(as[i])
		if !ok {
			return false
		}
		if ps[i] == "*" {
			continue
		}
		want, ok := parseOctet(ps[i])
		if !ok || want != octet {
			return false
		}
	}
	return true
}

// ValidPattern reports whether pattern is well formed.
func ValidPattern(pattern string) bool {
	ps := strings.Split(strings.TrimSpace(pattern), ".")
	if len(ps) != 4 {
		return false
	}
	for _, p := range ps {
		if p == "*" {
			continue
		}
		if _, ok := parseOctet(p); !ok {
			return false
		}
	}
	return true
}

func parseOctet(s string) (int, bool) {
	if s == "" || len(s) > 3 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0, false
	}
	return n, true
}

// Whitelist is an immutable set of patterns.
type Whitelist struct {
	patterns []string
}

// New creates a Whitelist from patterns. The slice is copied.
func New(patterns []string) Whitelist {
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	return Whitelist{patterns: cp}
}

// Allowed reports whether any pattern matches address.
func (w Whitelist) Allowed(address string) bool {
	for _, p := range w.patterns {
		if Match(p, address) {
			return true
		}
	}
	return false
}

// AllowedAddr is Allowed for a socket address such as conn.RemoteAddr().
// IPv4-mapped IPv6 addresses are matched in their dotted-quad form.
func (w Whitelist) AllowedAddr(addr net.Addr) bool {
	return w.Allowed(HostIP(addr))
}

// HostIP extracts the IP text of a socket address, unwrapping
// IPv4-mapped IPv6 addresses.
func HostIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		ip = net.ParseIP(host)
		if ip == nil {
			return host
		}
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
