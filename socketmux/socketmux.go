// Package socketmux implements a narrow ICMP socket capability that
// hides OS variations behind a single bounded-wait interface. It is
// built on golang.org/x/net/icmp.PacketConn, opening one socket per
// address family the way a raw-ICMP sender typically does, but exposes
// a single bounded call the engine's loop drives directly instead of a
// background receiver goroutine (the engine itself stays
// single-threaded).
package socketmux

import (
	"errors"
	"net"
	"time"

	"github.com/digineo/go-logwrap"
	"golang.org/x/net/icmp"
)

const (
	ProtocolICMP   = 1
	ProtocolICMPv6 = 58
)

var (
	log = &logwrap.Instance{}

	// SetLogger allows updating the Logger. For details, see
	// "github.com/digineo/go-logwrap".Instance.SetLogger.
	SetLogger = log.SetLogger

	errNotBound = errors.New("socketmux: need at least one bind address")
	ErrNoSocket = errors.New("socketmux: no socket open for that address family")
)

// Option carries the socket-level settings this prober exposes: ttl,
// tos, dont-fragment, fwmark, bind-iface. Nil fields are left untouched.
type Option struct {
	TTL          *int
	TOS          *int
	DontFragment *bool
	FWMark       *uint32
	BindIface    string
}

// Datagram is one received ICMP packet, decorated with whatever receive
// timestamp the platform could provide.
type Datagram struct {
	Proto  int
	Data   []byte
	Src    net.Addr
	RecvTS int64 // nanoseconds; kernel-provided when available, else time.Now()
}

// Status is the outcome of one Wait call.
type Status int

const (
	// Ready means at least one datagram was read into the result.
	Ready Status = iota
	// TimedOut means the deadline elapsed with nothing to read.
	TimedOut
)

// Mux multiplexes the (up to two) open ICMP sockets behind a single
// bounded wait.
type Mux struct {
	conn4 *icmp.PacketConn
	conn6 *icmp.PacketConn

	buf4 []byte
	buf6 []byte
}

// Open binds the requested address families. Either bind4 or bind6 may
// be empty to skip that family, but not both.
func Open(bind4, bind6 string) (*Mux, error) {
	m := &Mux{
		buf4: make([]byte, 1500),
		buf6: make([]byte, 1500),
	}

	var err error
	if bind4 != "" {
		if m.conn4, err = icmp.ListenPacket("ip4:icmp", bind4); err != nil {
			return nil, err
		}
	}
	if bind6 != "" {
		if m.conn6, err = icmp.ListenPacket("ip6:ipv6-icmp", bind6); err != nil {
			m.Close()
			return nil, err
		}
	}
	if m.conn4 == nil && m.conn6 == nil {
		return nil, errNotBound
	}

	enableKernelTimestamps(m)

	return m, nil
}

// Close releases both sockets.
func (m *Mux) Close() {
	if m.conn4 != nil {
		m.conn4.Close()
	}
	if m.conn6 != nil {
		m.conn6.Close()
	}
}

// SendTo transmits packet to addr over the socket matching addr's
// address family.
func (m *Mux) SendTo(addr *net.IPAddr, packet []byte) error {
	if addr.IP.To4() != nil {
		if m.conn4 == nil {
			return ErrNoSocket
		}
		_, err := m.conn4.WriteTo(packet, addr)
		return err
	}
	if m.conn6 == nil {
		return ErrNoSocket
	}
	_, err := m.conn6.WriteTo(packet, addr)
	return err
}

// Wait blocks until a datagram arrives on either socket or deadlineNS
// (absolute, clock.Source-relative nanoseconds) elapses, whichever comes
// first. On Ready it returns exactly one Datagram; callers drain further
// already-queued packets by calling Wait again with a zero-length
// budget.
func (m *Mux) Wait(nowNS, deadlineNS int64) (Datagram, Status, error) {
	timeout := time.Duration(deadlineNS-nowNS) * time.Nanosecond
	if timeout < 0 {
		timeout = 0
	}
	deadline := time.Now().Add(timeout)

	type result struct {
		dg  Datagram
		err error
		ok  bool
	}
	results := make(chan result, 2)
	pending := 0

	if m.conn4 != nil {
		pending++
		go func() {
			dg, err := m.read(m.conn4, ProtocolICMP, m.buf4, deadline)
			results <- result{dg, err, err == nil}
		}()
	}
	if m.conn6 != nil {
		pending++
		go func() {
			dg, err := m.read(m.conn6, ProtocolICMPv6, m.buf6, deadline)
			results <- result{dg, err, err == nil}
		}()
	}

	for i := 0; i < pending; i++ {
		r := <-results
		if r.ok {
			return r.dg, Ready, nil
		}
		if !isTimeout(r.err) {
			return Datagram{}, TimedOut, r.err
		}
	}
	return Datagram{}, TimedOut, nil
}

// read performs one bounded ReadFrom, reissuing on interrupted (but not
// timed-out) system calls.
func (m *Mux) read(conn *icmp.PacketConn, proto int, buf []byte, deadline time.Time) (Datagram, error) {
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return Datagram{}, err
		}

		n, src, recvTS, err := m.readWithTimestamp(conn, proto, buf, deadline)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) {
				if netErr.Timeout() {
					return Datagram{}, err
				}
				if netErr.Temporary() {
					continue // interrupted syscall, try again
				}
			}
			return Datagram{}, err
		}

		out := make([]byte, n)
		copy(out, buf[:n])
		return Datagram{Proto: proto, Data: out, Src: src, RecvTS: recvTS}, nil
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
