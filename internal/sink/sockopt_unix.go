//go:build unix

package sink

import (
	"net"

	"golang.org/x/sys/unix"
)

// effectiveReadBuffer returns SO_RCVBUF as the kernel applied it, which on Linux
// is double the requested size and capped by net.core.rmem_max.
func effectiveReadBuffer(conn *net.UDPConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var size int
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		size, sockErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	}); err != nil {
		return 0, err
	}
	return size, sockErr
}
