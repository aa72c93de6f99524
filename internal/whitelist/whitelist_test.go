package whitelist

import (
	"net"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, addr string
		want          bool
	}{
		{"127.0.0.1", "127.0.0.1", true},
		{"192.*.*.*", "192.168.178.1", true},
		{"192.*.*.*", "192.255.255.255", true},
		{"127.0.0.*", "127.0.0.42", true},
		{"*.*.*.*", "8.8.8.8", true},

		{"127.0.0.1", "127.0.0.2", false},
		{"127.0.0.1", "127.0.0.9", false},
		{"192.*.*.*", "178.75.68.49", false},
		{"192.*.*", "192.168.1.1", false},
		{"192.*.*.*", "192.168.1", false},
		{"192.*.*.*", "192.168.1.256", false},
		{"192.*.*.*", "192.168.1.x", false},
		{"abc", "abc", false},
		{"", "", false},
		{"192.*.*.*", "::1", false},
	}
	for _, tt := range tests {
		if got := Match(tt.pattern, tt.addr); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.addr, got, tt.want)
		}
	}
}

func TestValidPattern(t *testing.T) {
	for _, p := range []string{"127.0.0.1", "192.*.*.*", "*.*.*.*"} {
		if !ValidPattern(p) {
			t.Errorf("%q rejected", p)
		}
	}
	for _, p := range []string{"", "1.2.3", "1.2.3.4.5", "300.1.1.1", "a.b.c.d", "1.2.3.**"} {
		if ValidPattern(p) {
			t.Errorf("%q accepted", p)
		}
	}
}

func TestWhitelistAllowed(t *testing.T) {
	patterns := []string{"127.0.0.1", "192.*.*.*"}
	w := New(patterns)
	patterns[0] = "10.0.0.1"

	if !w.Allowed("127.0.0.1") {
		t.Fatal("loopback rejected")
	}
	if !w.Allowed("192.168.0.10") {
		t.Fatal("lan address rejected")
	}
	if w.Allowed("10.0.0.1") {
		t.Fatal("whitelist shares caller's slice")
	}
	if New(nil).Allowed("127.0.0.1") {
		t.Fatal("empty whitelist accepted an address")
	}
}

func TestAllowedAddr(t *testing.T) {
	w := New([]string{"127.0.0.1"})

	mapped := &net.TCPAddr{IP: net.ParseIP("::ffff:127.0.0.1"), Port: 27015}
	if !w.AllowedAddr(mapped) {
		t.Fatalf("mapped address %s rejected", mapped)
	}
	if w.AllowedAddr(&net.TCPAddr{IP: net.ParseIP("127.0.0.2"), Port: 1}) {
		t.Fatal("wrong address accepted")
	}
	if w.AllowedAddr(nil) {
		t.Fatal("nil address accepted")
	}
}

func TestHostIP(t *testing.T) {
	if got := HostIP(&net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 9}); got != "10.1.2.3" {
		t.Fatalf("got %q", got)
	}
	if got := HostIP(&net.TCPAddr{IP: net.IPv6loopback, Port: 9}); got != "::1" {
		t.Fatalf("got %q", got)
	}
}
