package proto

import (
	"fmt"
	"net/netip"
)

// AgentSession identifies an authenticated control session (§3): 24 bytes,
// three consecutive u64s in this order.
type AgentSession struct {
	ID        uint64
	AccountID uint64
	AgentID   uint64
}

// Encode appends the session's 24-byte wire form to dst.
func (s AgentSession) Encode(dst []byte) []byte {
	dst = appendUint64(dst, s.ID)
	dst = appendUint64(dst, s.AccountID)
	return appendUint64(dst, s.AgentID)
}

// DecodeAgentSession reads an AgentSession from buf.
func DecodeAgentSession(buf []byte) (AgentSession, int, error) {
	c := newCursor(buf)
	id, err := c.uint64()
	if err != nil {
		return AgentSession{}, 0, fmt.Errorf("agent session id: %w", err)
	}
	accountID, err := c.uint64()
	if err != nil {
		return AgentSession{}, 0, fmt.Errorf("agent session account_id: %w", err)
	}
	agentID, err := c.uint64()
	if err != nil {
		return AgentSession{}, 0, fmt.Errorf("agent session agent_id: %w", err)
	}
	return AgentSession{ID: id, AccountID: accountID, AgentID: agentID}, consumed(len(buf), c), nil
}

// KeepAliveRequest carries the session to keep alive. Identical wire
// layout to AgentSession; kept as a distinct defined type (not an alias)
// so a KeepAlive RpcRequest and a bare AgentSession read differently to
// the type checker even though the bytes are the same (see DESIGN.md,
// Open Question 3).
type KeepAliveRequest AgentSession

// Encode appends the request's wire form to dst.
func (k KeepAliveRequest) Encode(dst []byte) []byte {
	return AgentSession(k).Encode(dst)
}

// DecodeKeepAliveRequest reads a KeepAliveRequest from buf.
func DecodeKeepAliveRequest(buf []byte) (KeepAliveRequest, int, error) {
	s, n, err := DecodeAgentSession(buf)
	return KeepAliveRequest(s), n, err
}

// UdpChannelRequest carries the session requesting a dedicated UDP relay
// channel. Same rationale as KeepAliveRequest.
type UdpChannelRequest AgentSession

// Encode appends the request's wire form to dst.
func (u UdpChannelRequest) Encode(dst []byte) []byte {
	return AgentSession(u).Encode(dst)
}

// DecodeUdpChannelRequest reads a UdpChannelRequest from buf.
func DecodeUdpChannelRequest(buf []byte) (UdpChannelRequest, int, error) {
	s, n, err := DecodeAgentSession(buf)
	return UdpChannelRequest(s), n, err
}

// Ping is the probe message sent by the agent to discover a reachable
// tunnel endpoint (§3, §4.7).
type Ping struct {
	Now     uint64
	Session *AgentSession
}

// Encode appends the ping's wire form to dst.
func (p Ping) Encode(dst []byte) []byte {
	dst = appendUint64(dst, p.Now)
	if p.Session == nil {
		return append(dst, optionalAbsent)
	}
	dst = append(dst, optionalPresent)
	return p.Session.Encode(dst)
}

// DecodePing reads a Ping from buf.
func DecodePing(buf []byte) (Ping, int, error) {
	c := newCursor(buf)
	now, err := c.uint64()
	if err != nil {
		return Ping{}, 0, fmt.Errorf("ping now: %w", err)
	}

	tag, err := c.uint8()
	if err != nil {
		return Ping{}, 0, fmt.Errorf("ping session tag: %w", err)
	}

	switch tag {
	case optionalAbsent:
		return Ping{Now: now}, consumed(len(buf), c), nil
	case optionalPresent:
		session, n, err := DecodeAgentSession(c.buf)
		if err != nil {
			return Ping{}, 0, fmt.Errorf("ping session: %w", err)
		}
		c.buf = c.buf[n:]
		return Ping{Now: now, Session: &session}, consumed(len(buf), c), nil
	default:
		return Ping{}, 0, fmt.Errorf("ping session tag %d: %w", tag, ErrInvalidDiscriminant)
	}
}

// Pong is the server's reply to a Ping, carrying the agent's observed
// public endpoint used later to bind the signed registration (§3).
type Pong struct {
	RequestNow      uint64
	ServerNow       uint64
	ServerID        uint64
	DataCenterID    uint32
	ClientAddr      netip.AddrPort
	TunnelAddr      netip.AddrPort
	SessionExpireAt *uint64
}

// Encode appends the pong's wire form to dst.
func (p Pong) Encode(dst []byte) []byte {
	dst = appendUint64(dst, p.RequestNow)
	dst = appendUint64(dst, p.ServerNow)
	dst = appendUint64(dst, p.ServerID)
	dst = appendUint32(dst, p.DataCenterID)
	dst = EncodeSocketAddr(dst, p.ClientAddr)
	dst = EncodeSocketAddr(dst, p.TunnelAddr)
	return appendOptionalUint64(dst, p.SessionExpireAt)
}

// DecodePong reads a Pong from buf.
func DecodePong(buf []byte) (Pong, int, error) {
	c := newCursor(buf)

	requestNow, err := c.uint64()
	if err != nil {
		return Pong{}, 0, fmt.Errorf("pong request_now: %w", err)
	}
	serverNow, err := c.uint64()
	if err != nil {
		return Pong{}, 0, fmt.Errorf("pong server_now: %w", err)
	}
	serverID, err := c.uint64()
	if err != nil {
		return Pong{}, 0, fmt.Errorf("pong server_id: %w", err)
	}
	dataCenterID, err := c.uint32()
	if err != nil {
		return Pong{}, 0, fmt.Errorf("pong data_center_id: %w", err)
	}

	clientAddr, n, err := DecodeSocketAddr(c.buf)
	if err != nil {
		return Pong{}, 0, fmt.Errorf("pong client_addr: %w", err)
	}
	c.buf = c.buf[n:]

	tunnelAddr, n, err := DecodeSocketAddr(c.buf)
	if err != nil {
		return Pong{}, 0, fmt.Errorf("pong tunnel_addr: %w", err)
	}
	c.buf = c.buf[n:]

	expireAt, err := c.optionalUint64()
	if err != nil {
		return Pong{}, 0, fmt.Errorf("pong session_expire_at: %w", err)
	}

	return Pong{
		RequestNow:      requestNow,
		ServerNow:       serverNow,
		ServerID:        serverID,
		DataCenterID:    dataCenterID,
		ClientAddr:      clientAddr,
		TunnelAddr:      tunnelAddr,
		SessionExpireAt: expireAt,
	}, consumed(len(buf), c), nil
}

// RegisterRequest is the HMAC-signed agent registration payload (§3,
// §4.2, §4.3). The agent never builds or signs one of these itself: the
// HTTP sign endpoint (internal/signclient) returns the encoded bytes
// verbatim, and the setup state machine (internal/tunnel) forwards them
// opaquely. This type exists for documentation and for the property
// round-trip tests in §8 — it is not constructed on the agent's
// registration hot path.
type RegisterRequest struct {
	AccountID    uint64
	AgentID      uint64
	AgentVersion uint64
	Timestamp    uint64
	ClientAddr   netip.AddrPort
	TunnelAddr   netip.AddrPort
	Signature    HmacSha256Tag
}

// Encode appends the request's wire form to dst. The signature is written
// last; it does not cover itself.
func (r RegisterRequest) Encode(dst []byte) []byte {
	dst = appendUint64(dst, r.AccountID)
	dst = appendUint64(dst, r.AgentID)
	dst = appendUint64(dst, r.AgentVersion)
	dst = appendUint64(dst, r.Timestamp)
	dst = EncodeSocketAddr(dst, r.ClientAddr)
	dst = EncodeSocketAddr(dst, r.TunnelAddr)
	return r.Signature.Encode(dst)
}

// DecodeRegisterRequest reads a RegisterRequest from buf.
func DecodeRegisterRequest(buf []byte) (RegisterRequest, int, error) {
	c := newCursor(buf)

	accountID, err := c.uint64()
	if err != nil {
		return RegisterRequest{}, 0, fmt.Errorf("register account_id: %w", err)
	}
	agentID, err := c.uint64()
	if err != nil {
		return RegisterRequest{}, 0, fmt.Errorf("register agent_id: %w", err)
	}
	agentVersion, err := c.uint64()
	if err != nil {
		return RegisterRequest{}, 0, fmt.Errorf("register agent_version: %w", err)
	}
	timestamp, err := c.uint64()
	if err != nil {
		return RegisterRequest{}, 0, fmt.Errorf("register timestamp: %w", err)
	}

	clientAddr, n, err := DecodeSocketAddr(c.buf)
	if err != nil {
		return RegisterRequest{}, 0, fmt.Errorf("register client_addr: %w", err)
	}
	c.buf = c.buf[n:]

	tunnelAddr, n, err := DecodeSocketAddr(c.buf)
	if err != nil {
		return RegisterRequest{}, 0, fmt.Errorf("register tunnel_addr: %w", err)
	}
	c.buf = c.buf[n:]

	sig, n, err := DecodeHmacSha256Tag(c.buf)
	if err != nil {
		return RegisterRequest{}, 0, fmt.Errorf("register signature: %w", err)
	}
	c.buf = c.buf[n:]

	return RegisterRequest{
		AccountID:    accountID,
		AgentID:      agentID,
		AgentVersion: agentVersion,
		Timestamp:    timestamp,
		ClientAddr:   clientAddr,
		TunnelAddr:   tunnelAddr,
		Signature:    sig,
	}, consumed(len(buf), c), nil
}

// RegisterResponse carries the newly issued session and its expiry (§3).
type RegisterResponse struct {
	Session   AgentSession
	ExpiresAt uint64
}

// Encode appends the response's wire form to dst.
func (r RegisterResponse) Encode(dst []byte) []byte {
	dst = r.Session.Encode(dst)
	return appendUint64(dst, r.ExpiresAt)
}

// DecodeRegisterResponse reads a RegisterResponse from buf.
func DecodeRegisterResponse(buf []byte) (RegisterResponse, int, error) {
	session, n, err := DecodeAgentSession(buf)
	if err != nil {
		return RegisterResponse{}, 0, fmt.Errorf("register response session: %w", err)
	}
	buf = buf[n:]
	total := n

	c := newCursor(buf)
	expiresAt, err := c.uint64()
	if err != nil {
		return RegisterResponse{}, 0, fmt.Errorf("register response expires_at: %w", err)
	}
	total += consumed(len(buf), c)

	return RegisterResponse{Session: session, ExpiresAt: expiresAt}, total, nil
}

// UdpChannelDetails carries the tunnel address and opaque token used to
// claim a dedicated UDP relay channel (§3). Token is length-prefixed with
// a u64 length, per the Vec<u8> convention.
type UdpChannelDetails struct {
	TunnelAddr netip.AddrPort
	Token      []byte
}

// Encode appends the details' wire form to dst.
func (u UdpChannelDetails) Encode(dst []byte) []byte {
	dst = EncodeSocketAddr(dst, u.TunnelAddr)
	dst = appendUint64(dst, uint64(len(u.Token)))
	return append(dst, u.Token...)
}

// DecodeUdpChannelDetails reads a UdpChannelDetails from buf.
func DecodeUdpChannelDetails(buf []byte) (UdpChannelDetails, int, error) {
	tunnelAddr, n, err := DecodeSocketAddr(buf)
	if err != nil {
		return UdpChannelDetails{}, 0, fmt.Errorf("udp channel details tunnel_addr: %w", err)
	}
	buf = buf[n:]
	total := n

	c := newCursor(buf)
	tokenLen, err := c.uint64()
	if err != nil {
		return UdpChannelDetails{}, 0, fmt.Errorf("udp channel details token length: %w", err)
	}
	token, err := c.bytesU64(tokenLen)
	if err != nil {
		return UdpChannelDetails{}, 0, fmt.Errorf("udp channel details token: %w", err)
	}
	total += consumed(len(buf), c)

	return UdpChannelDetails{TunnelAddr: tunnelAddr, Token: token}, total, nil
}

// PortMappingRequest asks the server which session (if any) owns a
// socket (§3).
type PortMappingRequest struct {
	Session AgentSession
	Socket  Socket
}

// Encode appends the request's wire form to dst.
func (r PortMappingRequest) Encode(dst []byte) []byte {
	dst = r.Session.Encode(dst)
	return r.Socket.Encode(dst)
}

// DecodePortMappingRequest reads a PortMappingRequest from buf.
func DecodePortMappingRequest(buf []byte) (PortMappingRequest, int, error) {
	session, n, err := DecodeAgentSession(buf)
	if err != nil {
		return PortMappingRequest{}, 0, fmt.Errorf("port mapping request session: %w", err)
	}
	buf = buf[n:]
	total := n

	socket, n, err := DecodeSocket(buf)
	if err != nil {
		return PortMappingRequest{}, 0, fmt.Errorf("port mapping request socket: %w", err)
	}
	total += n

	return PortMappingRequest{Session: session, Socket: socket}, total, nil
}

// PortMappingFound wire tags (§3, §4.2 supplement from
// agent_proto/src/rpc/response/port_map.rs): ToAgent is 1, None is 255 —
// deliberately not 0, since this value is itself wrapped in an outer
// Option in PortMappingResponse (Open Question 2).
const (
	portMappingFoundToAgentTag = 1
	portMappingFoundNoneTag    = 255
)

// PortMappingFound is who (if anyone) owns a queried socket. Exactly one
// of Agent or None is populated; None carries its own wire tag distinct
// from the outer PortMappingResponse.Found absence (Open Question 2).
type PortMappingFound struct {
	Agent *AgentSession
	None  bool
}

// Encode appends the value's wire form to dst: a u32 tag, then the body
// for ToAgent, or nothing further for None.
func (f PortMappingFound) Encode(dst []byte) []byte {
	if f.Agent != nil {
		dst = appendUint32(dst, portMappingFoundToAgentTag)
		return f.Agent.Encode(dst)
	}
	return appendUint32(dst, portMappingFoundNoneTag)
}

// DecodePortMappingFound reads a PortMappingFound from buf.
func DecodePortMappingFound(buf []byte) (PortMappingFound, int, error) {
	c := newCursor(buf)
	tag, err := c.uint32()
	if err != nil {
		return PortMappingFound{}, 0, fmt.Errorf("port mapping found tag: %w", err)
	}

	switch tag {
	case portMappingFoundToAgentTag:
		session, n, err := DecodeAgentSession(c.buf)
		if err != nil {
			return PortMappingFound{}, 0, fmt.Errorf("port mapping found agent: %w", err)
		}
		c.buf = c.buf[n:]
		return PortMappingFound{Agent: &session}, consumed(len(buf), c), nil
	case portMappingFoundNoneTag:
		return PortMappingFound{None: true}, consumed(len(buf), c), nil
	default:
		return PortMappingFound{}, 0, fmt.Errorf("port mapping found tag %d: %w", tag, ErrInvalidDiscriminant)
	}
}

// PortMappingResponse carries the queried socket and who (if anyone)
// owns it. Found is an outer Option wrapping PortMappingFound, which has
// its own None variant — the redundancy is preserved from the source
// pending a server-side cleanup it notes but does not make (Open
// Question 2): outer absence and inner None round-trip distinctly.
type PortMappingResponse struct {
	Socket Socket
	Found  *PortMappingFound
}

// Encode appends the response's wire form to dst.
func (r PortMappingResponse) Encode(dst []byte) []byte {
	dst = r.Socket.Encode(dst)
	if r.Found == nil {
		return append(dst, optionalAbsent)
	}
	dst = append(dst, optionalPresent)
	return r.Found.Encode(dst)
}

// DecodePortMappingResponse reads a PortMappingResponse from buf.
func DecodePortMappingResponse(buf []byte) (PortMappingResponse, int, error) {
	socket, n, err := DecodeSocket(buf)
	if err != nil {
		return PortMappingResponse{}, 0, fmt.Errorf("port mapping response socket: %w", err)
	}
	buf = buf[n:]
	total := n

	c := newCursor(buf)
	tag, err := c.uint8()
	if err != nil {
		return PortMappingResponse{}, 0, fmt.Errorf("port mapping response found tag: %w", err)
	}
	total += consumed(len(buf), c)

	switch tag {
	case optionalAbsent:
		return PortMappingResponse{Socket: socket}, total, nil
	case optionalPresent:
		found, n, err := DecodePortMappingFound(c.buf)
		if err != nil {
			return PortMappingResponse{}, 0, fmt.Errorf("port mapping response found: %w", err)
		}
		total += n
		return PortMappingResponse{Socket: socket, Found: &found}, total, nil
	default:
		return PortMappingResponse{}, 0, fmt.Errorf("port mapping response found tag %d: %w", tag, ErrInvalidDiscriminant)
	}
}

// ClientDetails accompanies a ControlFeed NewClient push: a new
// connection has arrived at the tunnel server on behalf of this agent.
// Supplemented from agent_proto/src/feed/client.rs; out of core scope
// (spec.md §1 excludes data-plane consumers) but its codec belongs next
// to ControlFeed since the feed message carries it.
type ClientDetails struct {
	ConnectAddr       netip.AddrPort
	PeerAddr          netip.AddrPort
	ClaimInstructions UdpChannelDetails
	TunnelID          uint64
	DataCenterID      uint32
}

// Encode appends the details' wire form to dst.
func (d ClientDetails) Encode(dst []byte) []byte {
	dst = EncodeSocketAddr(dst, d.ConnectAddr)
	dst = EncodeSocketAddr(dst, d.PeerAddr)
	dst = d.ClaimInstructions.Encode(dst)
	dst = appendUint64(dst, d.TunnelID)
	return appendUint32(dst, d.DataCenterID)
}

// DecodeClientDetails reads a ClientDetails from buf.
func DecodeClientDetails(buf []byte) (ClientDetails, int, error) {
	connectAddr, n, err := DecodeSocketAddr(buf)
	if err != nil {
		return ClientDetails{}, 0, fmt.Errorf("client details connect_addr: %w", err)
	}
	buf = buf[n:]
	total := n

	peerAddr, n, err := DecodeSocketAddr(buf)
	if err != nil {
		return ClientDetails{}, 0, fmt.Errorf("client details peer_addr: %w", err)
	}
	buf = buf[n:]
	total += n

	claim, n, err := DecodeUdpChannelDetails(buf)
	if err != nil {
		return ClientDetails{}, 0, fmt.Errorf("client details claim_instructions: %w", err)
	}
	buf = buf[n:]
	total += n

	c := newCursor(buf)
	tunnelID, err := c.uint64()
	if err != nil {
		return ClientDetails{}, 0, fmt.Errorf("client details tunnel_id: %w", err)
	}
	dataCenterID, err := c.uint32()
	if err != nil {
		return ClientDetails{}, 0, fmt.Errorf("client details data_center_id: %w", err)
	}
	total += consumed(len(buf), c)

	return ClientDetails{
		ConnectAddr:       connectAddr,
		PeerAddr:          peerAddr,
		ClaimInstructions: claim,
		TunnelID:          tunnelID,
		DataCenterID:      dataCenterID,
	}, total, nil
}
