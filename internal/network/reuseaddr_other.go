//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default net.ListenConfig; socket options
// are left to the platform defaults.
func ReuseAddrListenConfig(broadcast bool) net.ListenConfig {
	return net.ListenConfig{}
}
