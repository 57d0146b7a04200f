//go:build linux

package socketmux

import (
	"encoding/binary"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/sys/unix"
)

// rawFD extracts the underlying file descriptor of an icmp.PacketConn:
// unwrap to the IPv4/IPv6 PacketConn, assert its embedded net.PacketConn
// supports SyscallConn, and read the fd under RawConn.Control. This is
// the documented, non-fragile way to reach the fd, as opposed to
// reaching into unexported struct fields via reflection.
func rawFD(conn *icmp.PacketConn, isV4 bool) (int, bool) {
	var pc net.PacketConn
	if isV4 {
		if ipc := conn.IPv4PacketConn(); ipc != nil {
			pc = ipc.PacketConn
		}
	} else {
		if ipc := conn.IPv6PacketConn(); ipc != nil {
			pc = ipc.PacketConn
		}
	}
	if pc == nil {
		return 0, false
	}

	sc, ok := pc.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return 0, false
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}

	var fd int
	if err := raw.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return 0, false
	}
	return fd, true
}

// enableKernelTimestamps turns on SO_TIMESTAMPNS for both sockets so
// read() can report a kernel receive timestamp instead of a userspace
// one, narrowing the RTT measurement to exclude scheduling jitter.
func enableKernelTimestamps(m *Mux) {
	if m.conn4 != nil {
		if fd, ok := rawFD(m.conn4, true); ok {
			_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1)
		}
	}
	if m.conn6 != nil {
		if fd, ok := rawFD(m.conn6, false); ok {
			_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1)
		}
	}
}

// readWithTimestamp performs one recvmsg(2) directly so we can recover
// the SCM_TIMESTAMPNS control message alongside the datagram. If that
// control message is absent (feature disabled, or a kernel that does
// not support it), RecvTS falls back to time.Now().
func (m *Mux) readWithTimestamp(conn *icmp.PacketConn, proto int, buf []byte, deadline time.Time) (int, net.Addr, int64, error) {
	isV4 := proto == ProtocolICMP
	fd, ok := rawFD(conn, isV4)
	if !ok {
		// Fall back to the portable path if we can't reach the fd.
		n, src, err := conn.ReadFrom(buf)
		return n, src, time.Now().UnixNano(), err
	}

	oob := make([]byte, 128)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return 0, nil, 0, err
		}

		n, oobn, _, from, err := unix.Recvmsg(fd, buf, oob, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			// Surface this the same way net.Conn would, so the caller's
			// net.Error type assertion (timeout/temporary) still works.
			return 0, nil, 0, &net.OpError{Op: "read", Err: err}
		}

		recvTS := time.Now().UnixNano()
		if oobn > 0 {
			if scms, err := unix.ParseSocketControlMessage(oob[:oobn]); err == nil {
				for _, scm := range scms {
					if scm.Header.Level == unix.SOL_SOCKET &&
						(scm.Header.Type == unix.SCM_TIMESTAMPNS || scm.Header.Type == unix.SCM_TIMESTAMPING) &&
						len(scm.Data) >= 16 {
						sec := int64(binary.LittleEndian.Uint64(scm.Data[0:8]))
						nsec := int64(binary.LittleEndian.Uint64(scm.Data[8:16]))
						recvTS = sec*int64(time.Second) + nsec
					}
				}
			}
		}

		if isV4 && n > 0 && buf[0]>>4 == 4 {
			// A raw IPv4 socket delivers the IP header ahead of the ICMP
			// message; strip it so the datagram matches what ReadFrom
			// returns on the fallback path.
			if hl := int(buf[0]&0x0f) * 4; hl <= n {
				copy(buf, buf[hl:n])
				n -= hl
			}
		}

		return n, sockaddrToAddr(from, isV4), recvTS, nil
	}
}

func sockaddrToAddr(sa unix.Sockaddr, isV4 bool) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.IPAddr{IP: net.IP(a.Addr[:])}
	case *unix.SockaddrInet6:
		return &net.IPAddr{IP: net.IP(a.Addr[:])}
	default:
		return nil
	}
}

// SetOption applies the socket-level settings (ttl, tos, dont-fragment,
// fwmark, bind-iface) to both address families that are open, via
// direct setsockopt(2) calls on the raw fd.
func (m *Mux) SetOption(o Option) error {
	for _, pair := range []struct {
		conn *icmp.PacketConn
		isV4 bool
	}{{m.conn4, true}, {m.conn6, false}} {
		if pair.conn == nil {
			continue
		}
		fd, ok := rawFD(pair.conn, pair.isV4)
		if !ok {
			continue
		}
		if err := applyOption(fd, pair.isV4, o); err != nil {
			return err
		}
	}
	return nil
}

func applyOption(fd int, isV4 bool, o Option) error {
	level := unix.IPPROTO_IP
	ttlOpt := unix.IP_TTL
	tosOpt := unix.IP_TOS
	if !isV4 {
		level = unix.IPPROTO_IPV6
		ttlOpt = unix.IPV6_UNICAST_HOPS
		tosOpt = unix.IPV6_TCLASS
	}

	if o.TTL != nil {
		if err := unix.SetsockoptInt(fd, level, ttlOpt, *o.TTL); err != nil {
			return err
		}
	}
	if o.TOS != nil {
		if err := unix.SetsockoptInt(fd, level, tosOpt, *o.TOS); err != nil {
			return err
		}
	}
	if o.DontFragment != nil && isV4 {
		val := unix.IP_PMTUDISC_DONT
		if *o.DontFragment {
			val = unix.IP_PMTUDISC_DO
		}
		if err := unix.SetsockoptInt(fd, level, unix.IP_MTU_DISCOVER, val); err != nil {
			return err
		}
	}
	if o.FWMark != nil {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, int(*o.FWMark)); err != nil {
			return err
		}
	}
	if o.BindIface != "" {
		if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, o.BindIface); err != nil {
			return err
		}
	}
	return nil
}
