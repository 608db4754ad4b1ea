// Package netio provides the UDP transport the peer manager's single
// datagram socket runs over: one bound, connectionless endpoint that
// exchanges opaque datagrams with whatever address the caller names,
// with no port range or tunnel-encapsulation requirements (the peer
// manager's own AEAD framing is the only integrity/authenticity
// mechanism the wire needs). The one socket option the overlay still
// cares about is the outgoing hop limit, since a relay-heavy deployment
// may want to cap how far an indirect packet's underlying UDP datagram
// can travel regardless of the peer manager's own relay-depth cap.
package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// ErrSocketClosed names the closed-socket condition. Recv and Send do not
// return it; after Close they return the wrapped error from the net
// package.
var ErrSocketClosed = errors.New("netio: socket closed")

// Socket is the single UDP endpoint internal/peer's data plane reads
// datagrams from and writes datagrams to. Exactly one goroutine should
// call Recv at a time; Send may be called concurrently with Recv.
type Socket struct {
	conn *net.UDPConn
	p4   *ipv4.PacketConn
	p6   *ipv6.PacketConn
}

// Listen binds a UDP socket to addr ("" binds the wildcard address),
// enabling SO_REUSEADDR so a restarting daemon doesn't have to wait out
// TIME_WAIT on its own listen address.
func Listen(addr string) (*Socket, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			if err := c.Control(func(fd uintptr) {
				setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return setErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen udp %s: unexpected conn type %T", addr, pc)
	}

	s := &Socket{conn: conn}
	if isIPv6Conn(conn) {
		s.p6 = ipv6.NewPacketConn(conn)
	} else {
		s.p4 = ipv4.NewPacketConn(conn)
	}
	return s, nil
}

// isIPv6Conn reports whether conn's local address is an IPv6 address, to
// pick between ipv4.PacketConn and ipv6.PacketConn (their hop-limit
// setters are not interchangeable).
func isIPv6Conn(conn *net.UDPConn) bool {
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	return ok && addr.IP.To4() == nil
}

// SetHopLimit sets the unicast hop limit (TTL on IPv4, Hop Limit on
// IPv6) applied to every datagram Send writes afterward. hops <= 0
// leaves the platform default in place.
func (s *Socket) SetHopLimit(hops int) error {
	if hops <= 0 {
		return nil
	}
	if s.p6 != nil {
		if err := s.p6.SetHopLimit(hops); err != nil {
			return fmt.Errorf("set hop limit: %w", err)
		}
		return nil
	}
	if err := s.p4.SetTTL(hops); err != nil {
		return fmt.Errorf("set ttl: %w", err)
	}
	return nil
}

// Recv reads one datagram into buf, returning its length and the sender's
// address. Blocks until a datagram arrives, the socket is closed, or the
// underlying read fails.
func (s *Socket) Recv(buf []byte) (int, netip.AddrPort, error) {
	n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, fmt.Errorf("recv: %w", err)
	}
	return n, addr, nil
}

// Send writes buf as a single datagram to dst.
func (s *Socket) Send(buf []byte, dst netip.AddrPort) error {
	if _, err := s.conn.WriteToUDPAddrPort(buf, dst); err != nil {
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	return nil
}

// LocalAddr reports the socket's bound local address.
func (s *Socket) LocalAddr() netip.AddrPort {
	addr, _ := netip.ParseAddrPort(s.conn.LocalAddr().String())
	return addr
}

// Close releases the socket.
func (s *Socket) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close socket: %w", err)
	}
	return nil
}
