//go:build !linux

package tunnel

import "syscall"

// probeSocketControl is a no-op on platforms without the Linux socket
// option wiring.
func probeSocketControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
