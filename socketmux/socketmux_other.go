//go:build !linux

package socketmux

import (
	"errors"
	"net"
	"time"

	"golang.org/x/net/icmp"
)

// enableKernelTimestamps is a no-op outside Linux; RecvTS falls back to
// a userspace time.Now() reading.
func enableKernelTimestamps(_ *Mux) {}

func (m *Mux) readWithTimestamp(conn *icmp.PacketConn, _ int, buf []byte, deadline time.Time) (int, net.Addr, int64, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, 0, err
	}
	n, src, err := conn.ReadFrom(buf)
	return n, src, time.Now().UnixNano(), err
}

// SetOption is not implemented on this platform; ttl/tos can still be
// set portably via golang.org/x/net/ipv4 or ipv6 PacketConn wrappers in
// a future extension, but fwmark/bind_iface are Linux-specific.
func (m *Mux) SetOption(o Option) error {
	return errors.New("socketmux: SetOption is not supported on this platform")
}
