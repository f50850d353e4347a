package proto

import (
	"fmt"
	"net/netip"
)

// Wire discriminants for IpAddr and SocketAddr (§3, §6).
const (
	ipAddrTagV4 = 4
	ipAddrTagV6 = 6
)

// Protocol identifies the transport a Socket applies to.
type Protocol uint8

// Protocol wire values (§3).
const (
	ProtocolTCP  Protocol = 1
	ProtocolUDP  Protocol = 2
	ProtocolBoth Protocol = 3
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolBoth:
		return "both"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// Encode appends the protocol's single-byte wire tag to dst.
func (p Protocol) Encode(dst []byte) []byte {
	return append(dst, byte(p))
}

// DecodeProtocol reads a single Protocol byte from buf.
func DecodeProtocol(buf []byte) (Protocol, int, error) {
	c := newCursor(buf)
	tag, err := c.uint8()
	if err != nil {
		return 0, 0, fmt.Errorf("protocol: %w", err)
	}
	switch Protocol(tag) {
	case ProtocolTCP, ProtocolUDP, ProtocolBoth:
		return Protocol(tag), consumed(len(buf), c), nil
	default:
		return 0, 0, fmt.Errorf("protocol tag %d: %w", tag, ErrInvalidDiscriminant)
	}
}

// Port is either a single port or an inclusive range, wire-encoded as two
// u16s (start, end). Decode collapses start == end to a single port: the
// type carries no separate tag, so PortSingle(n) and PortRange(n, n) are
// indistinguishable once round-tripped.
type Port struct {
	Start uint16
	End   uint16
}

// PortSingle returns a Port identifying exactly one port number.
func PortSingle(n uint16) Port {
	return Port{Start: n, End: n}
}

// PortRange returns a Port spanning the inclusive range [start, end].
func PortRange(start, end uint16) Port {
	return Port{Start: start, End: end}
}

// IsSingle reports whether the port identifies exactly one port number.
func (p Port) IsSingle() bool {
	return p.Start == p.End
}

// Encode appends the port's 4-byte wire form (start, end) to dst.
func (p Port) Encode(dst []byte) []byte {
	dst = appendUint16(dst, p.Start)
	return appendUint16(dst, p.End)
}

// DecodePort reads a Port from buf.
func DecodePort(buf []byte) (Port, int, error) {
	c := newCursor(buf)
	start, err := c.uint16()
	if err != nil {
		return Port{}, 0, fmt.Errorf("port start: %w", err)
	}
	end, err := c.uint16()
	if err != nil {
		return Port{}, 0, fmt.Errorf("port end: %w", err)
	}
	return Port{Start: start, End: end}, consumed(len(buf), c), nil
}

// EncodeSocketAddr appends addr's wire form to dst: a one-byte family
// discriminant (4 or 6), the raw IP bytes, then the u16 port. The v6 form
// carries no flowinfo or scope id; netip.AddrPort has none to lose.
func EncodeSocketAddr(dst []byte, addr netip.AddrPort) []byte {
	ip := addr.Addr()
	switch {
	case ip.Is4() || ip.Is4In6():
		dst = append(dst, ipAddrTagV4)
		a4 := ip.As4()
		dst = append(dst, a4[:]...)
	default:
		dst = append(dst, ipAddrTagV6)
		a16 := ip.As16()
		dst = append(dst, a16[:]...)
	}
	return appendUint16(dst, addr.Port())
}

// DecodeSocketAddr reads a SocketAddr from buf.
func DecodeSocketAddr(buf []byte) (netip.AddrPort, int, error) {
	c := newCursor(buf)
	tag, err := c.uint8()
	if err != nil {
		return netip.AddrPort{}, 0, fmt.Errorf("socket addr tag: %w", err)
	}

	var ip netip.Addr
	switch tag {
	case ipAddrTagV4:
		raw, err := c.bytesN(4)
		if err != nil {
			return netip.AddrPort{}, 0, fmt.Errorf("socket addr v4: %w", err)
		}
		ip = netip.AddrFrom4([4]byte(raw))
	case ipAddrTagV6:
		raw, err := c.bytesN(16)
		if err != nil {
			return netip.AddrPort{}, 0, fmt.Errorf("socket addr v6: %w", err)
		}
		ip = netip.AddrFrom16([16]byte(raw))
	default:
		return netip.AddrPort{}, 0, fmt.Errorf("socket addr tag %d: %w", tag, ErrInvalidDiscriminant)
	}

	port, err := c.uint16()
	if err != nil {
		return netip.AddrPort{}, 0, fmt.Errorf("socket addr port: %w", err)
	}

	return netip.AddrPortFrom(ip, port), consumed(len(buf), c), nil
}

// EncodeIPAddr appends a bare IpAddr (no port) to dst: a one-byte family
// discriminant followed by the raw address bytes. Used nowhere in the
// control messages of §3 (they all carry a port via SocketAddr), kept
// because the wire format defines it as a standalone primitive.
func EncodeIPAddr(dst []byte, ip netip.Addr) []byte {
	if ip.Is4() || ip.Is4In6() {
		dst = append(dst, ipAddrTagV4)
		a4 := ip.As4()
		return append(dst, a4[:]...)
	}
	dst = append(dst, ipAddrTagV6)
	a16 := ip.As16()
	return append(dst, a16[:]...)
}

// DecodeIPAddr reads a bare IpAddr from buf.
func DecodeIPAddr(buf []byte) (netip.Addr, int, error) {
	c := newCursor(buf)
	tag, err := c.uint8()
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("ip addr tag: %w", err)
	}
	switch tag {
	case ipAddrTagV4:
		raw, err := c.bytesN(4)
		if err != nil {
			return netip.Addr{}, 0, fmt.Errorf("ip addr v4: %w", err)
		}
		return netip.AddrFrom4([4]byte(raw)), consumed(len(buf), c), nil
	case ipAddrTagV6:
		raw, err := c.bytesN(16)
		if err != nil {
			return netip.Addr{}, 0, fmt.Errorf("ip addr v6: %w", err)
		}
		return netip.AddrFrom16([16]byte(raw)), consumed(len(buf), c), nil
	default:
		return netip.Addr{}, 0, fmt.Errorf("ip addr tag %d: %w", tag, ErrInvalidDiscriminant)
	}
}

// Socket identifies an endpoint as an IP address, a port or port range,
// and a transport protocol.
type Socket struct {
	IP    netip.Addr
	Port  Port
	Proto Protocol
}

// Encode appends the socket's wire form (ip, then port, then proto, each
// independently) to dst.
func (s Socket) Encode(dst []byte) []byte {
	dst = EncodeIPAddr(dst, s.IP)
	dst = s.Port.Encode(dst)
	return s.Proto.Encode(dst)
}

// DecodeSocket reads a Socket from buf.
func DecodeSocket(buf []byte) (Socket, int, error) {
	var s Socket

	ip, n, err := DecodeIPAddr(buf)
	if err != nil {
		return Socket{}, 0, fmt.Errorf("socket ip: %w", err)
	}
	s.IP = ip
	buf = buf[n:]
	total := n

	port, n, err := DecodePort(buf)
	if err != nil {
		return Socket{}, 0, fmt.Errorf("socket port: %w", err)
	}
	s.Port = port
	buf = buf[n:]
	total += n

	proto, n, err := DecodeProtocol(buf)
	if err != nil {
		return Socket{}, 0, fmt.Errorf("socket proto: %w", err)
	}
	s.Proto = proto
	total += n

	return s, total, nil
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}
