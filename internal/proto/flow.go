package proto

import (
	"fmt"
	"net/netip"
)

// SocketFlow footer discriminators (§3, §4.5). The footer sits *after*
// the fixed-size payload rather than before it, so decoding means
// assuming a size, peeking the tag at that offset, and retrying with the
// larger size on mismatch.
const (
	FlowV4ID    uint64 = 0x4448474F_48414344
	FlowV4IDOld uint64 = 0x5CB867CF_788173B2
	FlowV6ID    uint64 = 0x6668676F_68616366
)

const (
	flowIDSize = 8
	FlowV4Size = 12
	FlowV6Size = 40
)

// SocketFlowV4 is the IPv4 data-plane flow identifier: 12 bytes of
// src/dest IPv4 address and port, no flow label.
type SocketFlowV4 struct {
	Src  netip.AddrPort
	Dest netip.AddrPort
}

// SocketFlowV6 is the IPv6 data-plane flow identifier: 40 bytes of
// src/dest IPv6 address and port plus a single flow label. The source
// material documents the flow label as ambiguously belonging to src or
// dest; the wire carries one u32 and both ends receive the same value on
// decode (preserved here, see DESIGN.md).
type SocketFlowV6 struct {
	Src      netip.AddrPort
	Dest     netip.AddrPort
	FlowInfo uint32
}

// SocketFlow is the tagged union of the two flow variants. Exactly one of
// V4 or V6 is non-nil on a valid value.
type SocketFlow struct {
	V4 *SocketFlowV4
	V6 *SocketFlowV6
}

// Encode appends the flow's wire form to dst: the fixed payload followed
// by its footer discriminator. The v4 encoder always emits FlowV4IDOld —
// FlowV4ID is accept-only on read, per the source's intentional
// read/write asymmetry (see DESIGN.md).
func (f SocketFlow) Encode(dst []byte) []byte {
	switch {
	case f.V4 != nil:
		src4 := f.V4.Src.Addr().As4()
		dest4 := f.V4.Dest.Addr().As4()
		dst = append(dst, src4[:]...)
		dst = append(dst, dest4[:]...)
		dst = appendUint16(dst, f.V4.Src.Port())
		dst = appendUint16(dst, f.V4.Dest.Port())
		return appendUint64(dst, FlowV4IDOld)
	case f.V6 != nil:
		src16 := f.V6.Src.Addr().As16()
		dest16 := f.V6.Dest.Addr().As16()
		dst = append(dst, src16[:]...)
		dst = append(dst, dest16[:]...)
		dst = appendUint16(dst, f.V6.Src.Port())
		dst = appendUint16(dst, f.V6.Dest.Port())
		dst = appendUint32(dst, f.V6.FlowInfo)
		return appendUint64(dst, FlowV6ID)
	default:
		return dst
	}
}

// DecodeSocketFlow reads a SocketFlow from buf using the two-pass footer
// check described in §4.5: assume v4, peek the footer at offset
// FlowV4Size; if it matches neither v4 footer, assume v6 and peek the
// footer at offset FlowV6Size.
func DecodeSocketFlow(buf []byte) (SocketFlow, int, error) {
	if len(buf) < FlowV4Size+flowIDSize {
		return SocketFlow{}, 0, fmt.Errorf("socket flow v4 footer: %w", ErrUnexpectedEOF)
	}

	footer4 := beUint64(buf[FlowV4Size : FlowV4Size+flowIDSize])
	if footer4 == FlowV4ID || footer4 == FlowV4IDOld {
		v4, err := decodeSocketFlowV4Payload(buf[:FlowV4Size])
		if err != nil {
			return SocketFlow{}, 0, err
		}
		return SocketFlow{V4: &v4}, FlowV4Size + flowIDSize, nil
	}

	if len(buf) < FlowV6Size+flowIDSize {
		return SocketFlow{}, 0, fmt.Errorf("socket flow v6 footer: %w", ErrUnexpectedEOF)
	}

	footer6 := beUint64(buf[FlowV6Size : FlowV6Size+flowIDSize])
	if footer6 != FlowV6ID {
		return SocketFlow{}, 0, fmt.Errorf("socket flow footer %#x: %w", footer6, ErrInvalidDiscriminant)
	}

	v6, err := decodeSocketFlowV6Payload(buf[:FlowV6Size])
	if err != nil {
		return SocketFlow{}, 0, err
	}
	return SocketFlow{V6: &v6}, FlowV6Size + flowIDSize, nil
}

func decodeSocketFlowV4Payload(payload []byte) (SocketFlowV4, error) {
	c := newCursor(payload)
	srcIP, err := c.uint32()
	if err != nil {
		return SocketFlowV4{}, fmt.Errorf("flow v4 src ip: %w", err)
	}
	destIP, err := c.uint32()
	if err != nil {
		return SocketFlowV4{}, fmt.Errorf("flow v4 dest ip: %w", err)
	}
	srcPort, err := c.uint16()
	if err != nil {
		return SocketFlowV4{}, fmt.Errorf("flow v4 src port: %w", err)
	}
	destPort, err := c.uint16()
	if err != nil {
		return SocketFlowV4{}, fmt.Errorf("flow v4 dest port: %w", err)
	}

	return SocketFlowV4{
		Src:  netip.AddrPortFrom(netip.AddrFrom4(u32ToBytes(srcIP)), srcPort),
		Dest: netip.AddrPortFrom(netip.AddrFrom4(u32ToBytes(destIP)), destPort),
	}, nil
}

func decodeSocketFlowV6Payload(payload []byte) (SocketFlowV6, error) {
	c := newCursor(payload)
	srcIP, err := c.uint128()
	if err != nil {
		return SocketFlowV6{}, fmt.Errorf("flow v6 src ip: %w", err)
	}
	destIP, err := c.uint128()
	if err != nil {
		return SocketFlowV6{}, fmt.Errorf("flow v6 dest ip: %w", err)
	}
	srcPort, err := c.uint16()
	if err != nil {
		return SocketFlowV6{}, fmt.Errorf("flow v6 src port: %w", err)
	}
	destPort, err := c.uint16()
	if err != nil {
		return SocketFlowV6{}, fmt.Errorf("flow v6 dest port: %w", err)
	}
	flowInfo, err := c.uint32()
	if err != nil {
		return SocketFlowV6{}, fmt.Errorf("flow v6 flow info: %w", err)
	}

	// The flow label is decoded once and applied to both src and dest,
	// matching the ambiguity preserved from the source (see DESIGN.md).
	return SocketFlowV6{
		Src:      netip.AddrPortFrom(netip.AddrFrom16(srcIP), srcPort),
		Dest:     netip.AddrPortFrom(netip.AddrFrom16(destIP), destPort),
		FlowInfo: flowInfo,
	}, nil
}

func u32ToBytes(v uint32) [4]byte {
	return [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func appendUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendUint64(dst []byte, v uint64) []byte {
	return append(dst,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
