//go:build unix

// Package sockopt holds the raw socket options applied to outbound session
// sockets before they connect.
package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Control enables SO_REUSEADDR on the socket so a local endpoint can be
// reused while an earlier connection from it lingers in TIME_WAIT. It
// matches the signature of net.Dialer.Control.
func Control(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}

	return sockErr
}
