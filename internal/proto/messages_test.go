package proto_test

import (
	"errors"
	"net/netip"
	"reflect"
	"testing"

	"github.com/dantte-lp/tunnel-agent/internal/proto"
)

func sampleSession() proto.AgentSession {
	return proto.AgentSession{ID: 1, AccountID: 2, AgentID: 3}
}

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func mustAddrPort(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

func TestAgentSession_RoundTrip(t *testing.T) {
	t.Parallel()

	s := sampleSession()
	encoded := s.Encode(nil)
	got, n, err := proto.DecodeAgentSession(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) || got != s {
		t.Fatalf("got %+v (n=%d), want %+v (n=%d)", got, n, s, len(encoded))
	}
}

func TestKeepAliveRequest_RoundTrip(t *testing.T) {
	t.Parallel()

	k := proto.KeepAliveRequest(sampleSession())
	encoded := k.Encode(nil)
	got, _, err := proto.DecodeKeepAliveRequest(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != k {
		t.Fatalf("got %+v, want %+v", got, k)
	}
}

func TestUdpChannelRequest_RoundTrip(t *testing.T) {
	t.Parallel()

	u := proto.UdpChannelRequest(sampleSession())
	encoded := u.Encode(nil)
	got, _, err := proto.DecodeUdpChannelRequest(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != u {
		t.Fatalf("got %+v, want %+v", got, u)
	}
}

func TestPing_RoundTrip(t *testing.T) {
	t.Parallel()

	session := sampleSession()
	cases := []proto.Ping{
		{Now: 42},
		{Now: 42, Session: &session},
	}

	for _, p := range cases {
		encoded := p.Encode(nil)
		got, n, err := proto.DecodePing(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n != len(encoded) {
			t.Fatalf("consumed %d, want %d", n, len(encoded))
		}
		if got.Now != p.Now || !reflect.DeepEqual(got.Session, p.Session) {
			t.Fatalf("got %+v, want %+v", got, p)
		}
	}
}

func TestPong_RoundTrip(t *testing.T) {
	t.Parallel()

	expireAt := uint64(999)
	cases := []proto.Pong{
		{
			RequestNow:   1,
			ServerNow:    2,
			ServerID:     3,
			DataCenterID: 4,
			ClientAddr:   netip.MustParseAddrPort("1.2.3.4:80"),
			TunnelAddr:   netip.MustParseAddrPort("[::1]:443"),
		},
		{
			RequestNow:      1,
			ServerNow:       2,
			ServerID:        3,
			DataCenterID:    4,
			ClientAddr:      netip.MustParseAddrPort("1.2.3.4:80"),
			TunnelAddr:      netip.MustParseAddrPort("5.6.7.8:443"),
			SessionExpireAt: &expireAt,
		},
	}

	for _, p := range cases {
		encoded := p.Encode(nil)
		got, n, err := proto.DecodePong(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n != len(encoded) {
			t.Fatalf("consumed %d, want %d", n, len(encoded))
		}
		if got.RequestNow != p.RequestNow || got.ServerNow != p.ServerNow ||
			got.ServerID != p.ServerID || got.DataCenterID != p.DataCenterID ||
			got.ClientAddr != p.ClientAddr || got.TunnelAddr != p.TunnelAddr ||
			!reflect.DeepEqual(got.SessionExpireAt, p.SessionExpireAt) {
			t.Fatalf("got %+v, want %+v", got, p)
		}
	}
}

func TestRegisterRequest_RoundTrip(t *testing.T) {
	t.Parallel()

	r := proto.RegisterRequest{
		AccountID:    1,
		AgentID:      2,
		AgentVersion: 3,
		Timestamp:    4,
		ClientAddr:   netip.MustParseAddrPort("10.0.0.1:1000"),
		TunnelAddr:   netip.MustParseAddrPort("10.0.0.2:2000"),
		Signature:    proto.HmacSha256Tag{0xAA, 0xBB},
	}

	encoded := r.Encode(nil)
	got, n, err := proto.DecodeRegisterRequest(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) || got != r {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func TestRegisterResponse_RoundTrip(t *testing.T) {
	t.Parallel()

	r := proto.RegisterResponse{Session: sampleSession(), ExpiresAt: 123}
	encoded := r.Encode(nil)
	got, n, err := proto.DecodeRegisterResponse(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) || got != r {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func TestUdpChannelDetails_RoundTrip(t *testing.T) {
	t.Parallel()

	u := proto.UdpChannelDetails{
		TunnelAddr: netip.MustParseAddrPort("1.1.1.1:5000"),
		Token:      []byte("opaque-token-bytes"),
	}

	encoded := u.Encode(nil)
	got, n, err := proto.DecodeUdpChannelDetails(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) || got.TunnelAddr != u.TunnelAddr || string(got.Token) != string(u.Token) {
		t.Fatalf("got %+v, want %+v", got, u)
	}
}

func TestUdpChannelDetails_EmptyToken(t *testing.T) {
	t.Parallel()

	u := proto.UdpChannelDetails{TunnelAddr: netip.MustParseAddrPort("1.1.1.1:1"), Token: nil}
	encoded := u.Encode(nil)
	got, n, err := proto.DecodeUdpChannelDetails(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) || len(got.Token) != 0 {
		t.Fatalf("got %+v, want empty token", got)
	}
}

// TestUdpChannelDetails_HugeTokenLengthDoesNotPanic reproduces a spoofed
// server reply whose token length is at or above 2^63: int(tokenLen) would
// wrap negative on a naive cursor.bytesN(int(n)) call, and a negative n
// slips past a plain len(buf) < n check, panicking in make([]byte, n)
// instead of returning ErrUnexpectedEOF.
func TestUdpChannelDetails_HugeTokenLengthDoesNotPanic(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddrPort("1.1.1.1:1")
	encoded := proto.EncodeSocketAddr(nil, addr)
	encoded = append(encoded,
		0x80, 0, 0, 0, 0, 0, 0, 1, // tokenLen = 2^63 + 1
		0xAA, 0xBB, // a few bytes that are not actually present
	)

	_, _, err := proto.DecodeUdpChannelDetails(encoded)
	if !errors.Is(err, proto.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want ErrUnexpectedEOF", err)
	}
}

func TestPortMappingRequest_RoundTrip(t *testing.T) {
	t.Parallel()

	r := proto.PortMappingRequest{
		Session: sampleSession(),
		Socket: proto.Socket{
			IP:    netip.MustParseAddr("9.9.9.9"),
			Port:  proto.PortSingle(443),
			Proto: proto.ProtocolTCP,
		},
	}

	encoded := r.Encode(nil)
	got, n, err := proto.DecodePortMappingRequest(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) || got.Session != r.Session || got.Socket != r.Socket {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func TestPortMappingFound_RoundTrip(t *testing.T) {
	t.Parallel()

	session := sampleSession()
	cases := []proto.PortMappingFound{
		{Agent: &session},
		{None: true},
	}

	for _, f := range cases {
		encoded := f.Encode(nil)
		got, n, err := proto.DecodePortMappingFound(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n != len(encoded) || got.None != f.None || !reflect.DeepEqual(got.Agent, f.Agent) {
			t.Fatalf("got %+v, want %+v", got, f)
		}
	}
}

func TestPortMappingFound_InvalidDiscriminant(t *testing.T) {
	t.Parallel()

	if _, _, err := proto.DecodePortMappingFound([]byte{0, 0, 0, 7}); err == nil {
		t.Fatal("expected error for tag 7")
	}
}

// The outer Option (PortMappingResponse.Found) and the inner None variant
// of PortMappingFound are distinct on the wire — this is the redundancy
// the source preserves (Open Question 2). All three shapes must round
// trip to observably different Go values.
func TestPortMappingResponse_OuterAndInnerNoneDistinct(t *testing.T) {
	t.Parallel()

	socket := proto.Socket{
		IP:    netip.MustParseAddr("8.8.8.8"),
		Port:  proto.PortSingle(53),
		Proto: proto.ProtocolUDP,
	}
	session := sampleSession()

	outerAbsent := proto.PortMappingResponse{Socket: socket}
	innerNone := proto.PortMappingResponse{Socket: socket, Found: &proto.PortMappingFound{None: true}}
	toAgent := proto.PortMappingResponse{Socket: socket, Found: &proto.PortMappingFound{Agent: &session}}

	for _, r := range []proto.PortMappingResponse{outerAbsent, innerNone, toAgent} {
		encoded := r.Encode(nil)
		got, n, err := proto.DecodePortMappingResponse(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n != len(encoded) {
			t.Fatalf("consumed %d, want %d", n, len(encoded))
		}
		if got.Socket != r.Socket || !reflect.DeepEqual(got.Found, r.Found) {
			t.Fatalf("got %+v, want %+v", got, r)
		}
	}

	if encA, encB := outerAbsent.Encode(nil), innerNone.Encode(nil); string(encA) == string(encB) {
		t.Fatal("outer-absent and inner-None encode identically, expected distinct wire forms")
	}
}

func TestClientDetails_RoundTrip(t *testing.T) {
	t.Parallel()

	d := proto.ClientDetails{
		ConnectAddr: netip.MustParseAddrPort("1.2.3.4:1"),
		PeerAddr:    netip.MustParseAddrPort("[::1]:2"),
		ClaimInstructions: proto.UdpChannelDetails{
			TunnelAddr: netip.MustParseAddrPort("5.6.7.8:3"),
			Token:      []byte("claim-token"),
		},
		TunnelID:     7,
		DataCenterID: 8,
	}

	encoded := d.Encode(nil)
	got, n, err := proto.DecodeClientDetails(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d, want %d", n, len(encoded))
	}
	if got.ConnectAddr != d.ConnectAddr || got.PeerAddr != d.PeerAddr ||
		got.TunnelID != d.TunnelID || got.DataCenterID != d.DataCenterID ||
		got.ClaimInstructions.TunnelAddr != d.ClaimInstructions.TunnelAddr ||
		string(got.ClaimInstructions.Token) != string(d.ClaimInstructions.Token) {
		t.Fatalf("got %+v, want %+v", got, d)
	}
}

func TestDecodePing_ShortInput(t *testing.T) {
	t.Parallel()

	session := sampleSession()
	full := proto.Ping{Now: 1, Session: &session}.Encode(nil)
	for n := range full {
		if _, _, err := proto.DecodePing(full[:n]); err == nil {
			t.Fatalf("truncated to %d bytes decoded without error", n)
		}
	}
}
