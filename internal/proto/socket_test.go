package proto_test

import (
	"net/netip"
	"testing"

	"github.com/dantte-lp/tunnel-agent/internal/proto"
)

func TestPort_RangeCollapsesToSingle(t *testing.T) {
	t.Parallel()

	encoded := proto.PortRange(7000, 7000).Encode(nil)
	got, n, err := proto.DecodePort(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d, want %d", n, len(encoded))
	}
	if got != proto.PortSingle(7000) {
		t.Fatalf("got %+v, want PortSingle(7000)", got)
	}
	if !got.IsSingle() {
		t.Fatalf("IsSingle() = false for collapsed range")
	}
}

func TestPort_RangeRoundTrip(t *testing.T) {
	t.Parallel()

	p := proto.PortRange(1000, 2000)
	encoded := p.Encode(nil)
	got, _, err := proto.DecodePort(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestProtocol_InvalidDiscriminant(t *testing.T) {
	t.Parallel()

	for _, tag := range []byte{0, 4, 255} {
		if _, _, err := proto.DecodeProtocol([]byte{tag}); err == nil {
			t.Fatalf("tag %d decoded without error", tag)
		}
	}
}

func TestSocketAddr_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []netip.AddrPort{
		netip.MustParseAddrPort("127.0.0.1:80"),
		netip.MustParseAddrPort("[::1]:443"),
		netip.MustParseAddrPort("[2001:db8::abcd]:1234"),
	}

	for _, want := range cases {
		encoded := proto.EncodeSocketAddr(nil, want)
		got, n, err := proto.DecodeSocketAddr(encoded)
		if err != nil {
			t.Fatalf("decode %v: %v", want, err)
		}
		if n != len(encoded) {
			t.Fatalf("consumed %d, want %d", n, len(encoded))
		}
		if got.Port() != want.Port() || got.Addr().As16() != want.Addr().As16() {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSocket_RoundTrip(t *testing.T) {
	t.Parallel()

	s := proto.Socket{
		IP:    netip.MustParseAddr("192.168.1.1"),
		Port:  proto.PortRange(8000, 8080),
		Proto: proto.ProtocolBoth,
	}

	encoded := s.Encode(nil)
	got, n, err := proto.DecodeSocket(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d, want %d", n, len(encoded))
	}
	if got.Port != s.Port || got.Proto != s.Proto || got.IP.As4() != s.IP.As4() {
		t.Fatalf("got %+v, want %+v", got, s)
	}
}

func TestDecodeSocketAddr_InvalidDiscriminant(t *testing.T) {
	t.Parallel()

	if _, _, err := proto.DecodeSocketAddr([]byte{5, 0, 0, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected error for tag 5")
	}
}

func TestDecodeSocketAddr_ShortInput(t *testing.T) {
	t.Parallel()

	full := proto.EncodeSocketAddr(nil, netip.MustParseAddrPort("[2001:db8::1]:53"))
	for n := range full {
		if _, _, err := proto.DecodeSocketAddr(full[:n]); err == nil {
			t.Fatalf("truncated to %d bytes decoded without error", n)
		}
	}
}
