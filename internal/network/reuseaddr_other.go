//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain net.ListenConfig; SO_REUSEADDR is
// only set explicitly on Linux and Windows.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
