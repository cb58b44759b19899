//go:build !unix

package sockopt

import "syscall"

// Control is a no-op on platforms without unix socket options.
func Control(_, _ string, _ syscall.RawConn) error {
	return nil
}
