//go:build linux

package tunnel

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// probeSocketControl sets SO_REUSEADDR on the probe socket before bind so
// a restarting agent can rebind while the previous socket is still in
// TIME_WAIT-adjacent teardown.
func probeSocketControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
