// Package tunnel implements the UDP probe/authenticate setup state machine
// that turns a list of candidate tunnel server addresses and a secret into
// an authenticated control Session.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/dantte-lp/tunnel-agent/internal/proto"
	"github.com/dantte-lp/tunnel-agent/internal/signclient"
)

// Timing constants, all fixed by the control protocol (§6).
const (
	receiveTimeout      = 500 * time.Millisecond
	probeSendRounds     = 3
	probeReceivesEach   = 3
	registerOuterRounds = 5
	registerReceives    = 5
	requestQueuedWait   = 1 * time.Second

	probeRequestID    = 1
	registerRequestID = 10

	// agentVersion is the fixed value the setup path reports to the sign
	// endpoint; the wire protocol does not negotiate a version.
	agentVersion = 1

	recvBufferSize = 2048
)

// Sentinel errors distinguishable by callers (§7). Hex-decoding the signed
// blob is a sign-client concern (the hex envelope is an account API detail,
// not a tunnel protocol one), so a malformed blob surfaces as a
// *signclient.Error wrapped by authenticate rather than a distinct sentinel
// here.
var (
	ErrFailedToConnect          = errors.New("tunnel: failed to connect to any candidate")
	ErrRegisterInvalidSignature = errors.New("tunnel: server rejected registration: invalid signature")
	ErrRegisterUnauthorized     = errors.New("tunnel: server rejected registration: unauthorized")
)

// SetupMetrics receives setup progress events. *agentmetrics.Collector
// satisfies it; a nil Metrics field disables reporting.
type SetupMetrics interface {
	IncProbeAttempt(candidate netip.AddrPort)
	IncProbeSuccess(candidate netip.AddrPort)
	IncRegisterAttempt()
	RecordRegisterOutcome(outcome string)
}

// Register outcome values reported through SetupMetrics.
const (
	outcomeRegistered       = "registered"
	outcomeQueued           = "queued"
	outcomeInvalidSignature = "invalid_signature"
	outcomeUnauthorized     = "unauthorized"
	outcomeTimeout          = "timeout"
	outcomeSignError        = "sign_error"
)

// nopMetrics is the SetupMetrics used when no collector is wired in.
type nopMetrics struct{}

func (nopMetrics) IncProbeAttempt(netip.AddrPort) {}
func (nopMetrics) IncProbeSuccess(netip.AddrPort) {}
func (nopMetrics) IncRegisterAttempt()            {}
func (nopMetrics) RecordRegisterOutcome(string)   {}

// Setup drives the probe/sign/register state machine (§4.7).
type Setup struct {
	Candidates []netip.AddrPort
	Secret     string
	SignClient *signclient.Client
	Logger     *slog.Logger
	Metrics    SetupMetrics
}

// connected is the output of the probing phase: a bound socket, the
// successful candidate, and the Pong it returned.
type connected struct {
	conn *net.UDPConn
	addr netip.AddrPort
	pong proto.Pong
}

// metrics returns the configured SetupMetrics or a no-op fallback.
func (s *Setup) metrics() SetupMetrics {
	if s.Metrics != nil {
		return s.Metrics
	}
	return nopMetrics{}
}

// Run executes probing, signing, and registering in sequence, returning an
// authenticated Session on success.
func (s *Setup) Run(ctx context.Context) (*Session, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c, err := s.probe(ctx, logger)
	if err != nil {
		return nil, err
	}

	session, err := s.authenticate(ctx, logger, c)
	if err != nil {
		c.conn.Close()
		return nil, err
	}

	return session, nil
}

// probe tries each candidate in order, binding a fresh UDP socket per
// candidate and sending up to probeSendRounds Pings, each awaiting up to
// probeReceivesEach replies. Probing is strictly sequential: only one
// candidate is in flight at a time (§4.7 Ordering).
func (s *Setup) probe(ctx context.Context, logger *slog.Logger) (*connected, error) {
	for _, addr := range s.Candidates {
		logger.Info("probing tunnel candidate", slog.String("addr", addr.String()))

		conn, err := bindProbeSocket(ctx, addr)
		if err != nil {
			logger.Error("failed to bind probe socket", slog.String("addr", addr.String()), slog.Any("error", err))
			continue
		}

		pong, ok := s.probeCandidate(ctx, logger, conn, addr)
		if ok {
			return &connected{conn: conn, addr: addr, pong: pong}, nil
		}
		conn.Close()
	}

	return nil, ErrFailedToConnect
}

func bindProbeSocket(ctx context.Context, addr netip.AddrPort) (*net.UDPConn, error) {
	network := "udp4"
	local := "0.0.0.0:0"
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		network = "udp6"
		local = "[::]:0"
	}

	lc := net.ListenConfig{Control: probeSocketControl}
	pc, err := lc.ListenPacket(ctx, network, local)
	if err != nil {
		return nil, err
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}
	return conn, nil
}

// probeCandidate sends up to probeSendRounds Pings to addr, returning the
// first valid Pong received.
func (s *Setup) probeCandidate(ctx context.Context, logger *slog.Logger, conn *net.UDPConn, addr netip.AddrPort) (proto.Pong, bool) {
	target := net.UDPAddrFromAddrPort(addr)
	buf := make([]byte, recvBufferSize)

	for round := 0; round < probeSendRounds; round++ {
		ping := proto.NewPingRequest(proto.Ping{Now: nowMilli()})
		payload := proto.RpcRequestEnvelope{RequestID: probeRequestID, Content: ping}.Encode(nil)

		s.metrics().IncProbeAttempt(addr)
		if _, err := conn.WriteToUDP(payload, target); err != nil {
			logger.Error("failed to send ping", slog.String("addr", addr.String()), slog.Any("error", err))
			break
		}

		for recv := 0; recv < probeReceivesEach; recv++ {
			if ctx.Err() != nil {
				return proto.Pong{}, false
			}

			conn.SetReadDeadline(time.Now().Add(receiveTimeout))
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				if isTimeout(err) {
					break
				}
				logger.Error("failed to receive probe reply", slog.Any("error", err))
				continue
			}

			if !sameEndpoint(peer, target) {
				logger.Warn("probe reply from unexpected peer", slog.String("peer", peer.String()))
				continue
			}

			feed, _, err := proto.DecodeControlFeed(buf[:n])
			if err != nil {
				logger.Debug("failed to parse control feed", slog.Any("error", err))
				continue
			}
			if feed.Tag != proto.ControlFeedTagRpcResponse || feed.RpcResponse == nil {
				continue
			}
			if feed.RpcResponse.RequestID != probeRequestID {
				continue
			}
			if feed.RpcResponse.Content.Tag != proto.RpcResponseTagPong || feed.RpcResponse.Content.Pong == nil {
				logger.Debug("expected pong, got other response", slog.Any("tag", feed.RpcResponse.Content.Tag))
				continue
			}

			s.metrics().IncProbeSuccess(addr)
			return *feed.RpcResponse.Content.Pong, true
		}
	}

	return proto.Pong{}, false
}

// authenticate signs the registration via the HTTP sign client, then
// forwards the opaque signed blob over UDP for up to registerOuterRounds
// rounds until the server confirms registration (§4.7 Registering).
func (s *Setup) authenticate(ctx context.Context, logger *slog.Logger, c *connected) (*Session, error) {
	blob, err := s.SignClient.SignAgentRegister(ctx, signclient.SignAgentRegisterRequest{
		AgentVersion: agentVersion,
		ClientAddr:   c.pong.ClientAddr,
		TunnelAddr:   c.pong.TunnelAddr,
	})
	if err != nil {
		s.metrics().RecordRegisterOutcome(outcomeSignError)
		return nil, fmt.Errorf("signing registration: %w", err)
	}

	target := net.UDPAddrFromAddrPort(c.addr)
	buf := make([]byte, recvBufferSize)

	for round := 0; round < registerOuterRounds; round++ {
		payload := proto.EncodeRawRequestEnvelope(nil, registerRequestID, blob)

		s.metrics().IncRegisterAttempt()
		if _, err := c.conn.WriteToUDP(payload, target); err != nil {
			logger.Error("failed to send register request", slog.Any("error", err))
			break
		}

		requeue, session, err := s.awaitRegisterResponse(ctx, logger, c, buf, target)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
		if requeue {
			select {
			case <-time.After(requestQueuedWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	s.metrics().RecordRegisterOutcome(outcomeTimeout)
	return nil, ErrFailedToConnect
}

// awaitRegisterResponse waits for up to registerReceives replies to one
// outer round's send. It returns (requeue=true, nil, nil) to ask the
// caller to sleep and retry, (false, session, nil) on success, and a
// non-nil error on a fatal server rejection.
func (s *Setup) awaitRegisterResponse(ctx context.Context, logger *slog.Logger, c *connected, buf []byte, target *net.UDPAddr) (bool, *Session, error) {
	for recv := 0; recv < registerReceives; recv++ {
		if ctx.Err() != nil {
			return false, nil, ctx.Err()
		}

		c.conn.SetReadDeadline(time.Now().Add(receiveTimeout))
		n, peer, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				return false, nil, nil
			}
			logger.Error("failed to receive register reply", slog.Any("error", err))
			return false, nil, nil
		}

		if !sameEndpoint(peer, target) {
			logger.Warn("register reply from unexpected peer", slog.String("peer", peer.String()))
			continue
		}

		feed, _, err := proto.DecodeControlFeed(buf[:n])
		if err != nil {
			logger.Debug("failed to parse control feed", slog.Any("error", err))
			continue
		}
		if feed.Tag != proto.ControlFeedTagRpcResponse || feed.RpcResponse == nil {
			continue
		}
		if feed.RpcResponse.RequestID != registerRequestID {
			continue
		}

		switch feed.RpcResponse.Content.Tag {
		case proto.RpcResponseTagRegister:
			reg := feed.RpcResponse.Content.Register
			s.metrics().RecordRegisterOutcome(outcomeRegistered)
			return false, NewSession(c.conn, c.addr, c.pong, reg.Session, reg.ExpiresAt, s.Secret), nil
		case proto.RpcResponseTagRequestQueued:
			logger.Info("registration queued, waiting before retry")
			s.metrics().RecordRegisterOutcome(outcomeQueued)
			return true, nil, nil
		case proto.RpcResponseTagInvalidSignature:
			s.metrics().RecordRegisterOutcome(outcomeInvalidSignature)
			return false, nil, ErrRegisterInvalidSignature
		case proto.RpcResponseTagUnauthorized:
			s.metrics().RecordRegisterOutcome(outcomeUnauthorized)
			return false, nil, ErrRegisterUnauthorized
		default:
			logger.Debug("unexpected response while registering", slog.Any("tag", feed.RpcResponse.Content.Tag))
			continue
		}
	}

	return false, nil, nil
}

func sameEndpoint(peer, target *net.UDPAddr) bool {
	return peer.IP.Equal(target.IP) && peer.Port == target.Port
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func nowMilli() uint64 {
	return uint64(time.Now().UnixMilli())
}
