//go:build !unix

package sink

import (
	"errors"
	"net"
)

func effectiveReadBuffer(*net.UDPConn) (int, error) {
	return 0, errors.ErrUnsupported
}
