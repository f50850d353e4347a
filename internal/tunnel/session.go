package tunnel

import (
	"net"
	"net/netip"
	"sync"

	"github.com/dantte-lp/tunnel-agent/internal/proto"
)

// Session is the authenticated handle produced by Setup.Run (§4.8). It owns
// the UDP socket established during probing and carries everything
// downstream keep-alive/port-mapping logic needs to keep talking to the
// same control server without repeating the probe/sign/register dance.
type Session struct {
	mu sync.Mutex

	conn        *net.UDPConn
	controlAddr netip.AddrPort
	lastPong    proto.Pong
	session     proto.AgentSession
	expiresAt   uint64
	secret      string
}

// NewSession assembles a Session from its parts. Setup.Run is the normal
// producer; the constructor is exported so downstream keep-alive and
// port-mapping code can rebuild a handle around an already-bound socket.
func NewSession(conn *net.UDPConn, controlAddr netip.AddrPort, lastPong proto.Pong, session proto.AgentSession, expiresAt uint64, secret string) *Session {
	return &Session{
		conn:        conn,
		controlAddr: controlAddr,
		lastPong:    lastPong,
		session:     session,
		expiresAt:   expiresAt,
		secret:      secret,
	}
}

// ControlAddr is the tunnel server candidate that accepted registration.
func (s *Session) ControlAddr() netip.AddrPort {
	return s.controlAddr
}

// LastPong is the Pong observed during probing, carrying the client/tunnel
// address pair the registration was signed against.
func (s *Session) LastPong() proto.Pong {
	return s.lastPong
}

// AgentSession identifies this session to the control server on every
// subsequent request (KeepAlive, UdpChannel, PortMapping).
func (s *Session) AgentSession() proto.AgentSession {
	return s.session
}

// ExpiresAt is the server-assigned expiry (milliseconds since epoch, same
// clock as Pong.ServerNow) after which the session must be re-registered.
func (s *Session) ExpiresAt() uint64 {
	return s.expiresAt
}

// Secret returns the agent secret used to sign this registration, so
// callers can re-run Setup against a fresh candidate list on expiry without
// needing to thread the secret through separately.
func (s *Session) Secret() string {
	return s.secret
}

// Send writes an already-encoded RPC request envelope to the control
// server. Safe for concurrent use: the underlying UDP socket is shared with
// any keep-alive or port-mapping caller once handoff from Setup completes.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := net.UDPAddrFromAddrPort(s.controlAddr)
	_, err := s.conn.WriteToUDP(payload, target)
	return err
}

// Conn exposes the underlying socket for callers that need to drive their
// own receive loop (keep-alive, port mapping) alongside Send.
func (s *Session) Conn() *net.UDPConn {
	return s.conn
}

// Close releases the underlying UDP socket. The session must not be used
// afterward.
func (s *Session) Close() error {
	return s.conn.Close()
}
