// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netutil

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// MarkDialer returns a net.Dialer whose outgoing sockets carry the given
// SO_MARK, so traffic this process originates (e.g. a rule's upstream DNS
// query) is itself subject to the data plane's mark-based routing. mark==0
// is a no-op (no Control func installed).
func MarkDialer(mark uint32) *net.Dialer {
	if mark == 0 {
		return &net.Dialer{}
	}
	return &net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// DialContext is a convenience for callers that only need a single marked
// connection rather than a reusable *net.Dialer.
func DialContext(ctx context.Context, network, address string, mark uint32) (net.Conn, error) {
	return MarkDialer(mark).DialContext(ctx, network, address)
}
