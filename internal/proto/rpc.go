package proto

import "fmt"

// RpcRequest discriminants (§3). Encode prepends this as a u32 before the
// variant body; decode reads it and dispatches.
const (
	RpcRequestPingTag        uint32 = 1
	RpcRequestRegisterTag    uint32 = 2
	RpcRequestKeepAliveTag   uint32 = 3
	RpcRequestUdpChannelTag  uint32 = 4
	RpcRequestPortMappingTag uint32 = 5
)

// RpcRequest is the tagged union of requests an agent may send (§3, §4.2).
// Exactly one field is populated, selected by Tag.
type RpcRequest struct {
	Tag uint32

	Ping        *Ping
	Register    *RegisterRequest
	KeepAlive   *KeepAliveRequest
	UdpChannel  *UdpChannelRequest
	PortMapping *PortMappingRequest
}

// NewPingRequest wraps a Ping as an RpcRequest.
func NewPingRequest(p Ping) RpcRequest {
	return RpcRequest{Tag: RpcRequestPingTag, Ping: &p}
}

// NewRegisterRequest wraps a RegisterRequest as an RpcRequest.
func NewRegisterRequest(r RegisterRequest) RpcRequest {
	return RpcRequest{Tag: RpcRequestRegisterTag, Register: &r}
}

// NewKeepAliveRequest wraps a KeepAliveRequest as an RpcRequest.
func NewKeepAliveRequest(k KeepAliveRequest) RpcRequest {
	return RpcRequest{Tag: RpcRequestKeepAliveTag, KeepAlive: &k}
}

// NewUdpChannelRequest wraps a UdpChannelRequest as an RpcRequest.
func NewUdpChannelRequest(u UdpChannelRequest) RpcRequest {
	return RpcRequest{Tag: RpcRequestUdpChannelTag, UdpChannel: &u}
}

// NewPortMappingRequest wraps a PortMappingRequest as an RpcRequest.
func NewPortMappingRequest(p PortMappingRequest) RpcRequest {
	return RpcRequest{Tag: RpcRequestPortMappingTag, PortMapping: &p}
}

// Encode appends the request's wire form (u32 tag, then body) to dst.
func (r RpcRequest) Encode(dst []byte) []byte {
	dst = appendUint32(dst, r.Tag)
	switch r.Tag {
	case RpcRequestPingTag:
		return r.Ping.Encode(dst)
	case RpcRequestRegisterTag:
		return r.Register.Encode(dst)
	case RpcRequestKeepAliveTag:
		return r.KeepAlive.Encode(dst)
	case RpcRequestUdpChannelTag:
		return r.UdpChannel.Encode(dst)
	case RpcRequestPortMappingTag:
		return r.PortMapping.Encode(dst)
	default:
		return dst
	}
}

// DecodeRpcRequest reads an RpcRequest from buf.
func DecodeRpcRequest(buf []byte) (RpcRequest, int, error) {
	c := newCursor(buf)
	tag, err := c.uint32()
	if err != nil {
		return RpcRequest{}, 0, fmt.Errorf("rpc request tag: %w", err)
	}
	total := consumed(len(buf), c)
	rest := c.buf

	switch tag {
	case RpcRequestPingTag:
		v, n, err := DecodePing(rest)
		if err != nil {
			return RpcRequest{}, 0, fmt.Errorf("rpc request ping: %w", err)
		}
		return RpcRequest{Tag: tag, Ping: &v}, total + n, nil
	case RpcRequestRegisterTag:
		v, n, err := DecodeRegisterRequest(rest)
		if err != nil {
			return RpcRequest{}, 0, fmt.Errorf("rpc request register: %w", err)
		}
		return RpcRequest{Tag: tag, Register: &v}, total + n, nil
	case RpcRequestKeepAliveTag:
		v, n, err := DecodeKeepAliveRequest(rest)
		if err != nil {
			return RpcRequest{}, 0, fmt.Errorf("rpc request keep_alive: %w", err)
		}
		return RpcRequest{Tag: tag, KeepAlive: &v}, total + n, nil
	case RpcRequestUdpChannelTag:
		v, n, err := DecodeUdpChannelRequest(rest)
		if err != nil {
			return RpcRequest{}, 0, fmt.Errorf("rpc request udp_channel: %w", err)
		}
		return RpcRequest{Tag: tag, UdpChannel: &v}, total + n, nil
	case RpcRequestPortMappingTag:
		v, n, err := DecodePortMappingRequest(rest)
		if err != nil {
			return RpcRequest{}, 0, fmt.Errorf("rpc request port_mapping: %w", err)
		}
		return RpcRequest{Tag: tag, PortMapping: &v}, total + n, nil
	default:
		return RpcRequest{}, 0, fmt.Errorf("rpc request tag %d: %w", tag, ErrInvalidDiscriminant)
	}
}

// RpcResponse discriminants (§3).
const (
	RpcResponseTagPong             uint32 = 1
	RpcResponseTagInvalidSignature uint32 = 2
	RpcResponseTagUnauthorized     uint32 = 3
	RpcResponseTagRequestQueued    uint32 = 4
	RpcResponseTagTryAgainLater    uint32 = 5
	RpcResponseTagRegister         uint32 = 6
	RpcResponseTagUdpChannel       uint32 = 7
	RpcResponseTagPortMapping      uint32 = 8
)

// RpcResponse is the tagged union of responses a server may send (§3,
// §4.2). The four status variants (InvalidSignature, Unauthorized,
// RequestQueued, TryAgainLater) carry no body; Tag alone identifies them.
type RpcResponse struct {
	Tag uint32

	Pong        *Pong
	Register    *RegisterResponse
	UdpChannel  *UdpChannelDetails
	PortMapping *PortMappingResponse
}

// NewPongResponse wraps a Pong as an RpcResponse.
func NewPongResponse(p Pong) RpcResponse {
	return RpcResponse{Tag: RpcResponseTagPong, Pong: &p}
}

// NewInvalidSignatureResponse returns the bodiless InvalidSignature response.
func NewInvalidSignatureResponse() RpcResponse {
	return RpcResponse{Tag: RpcResponseTagInvalidSignature}
}

// NewUnauthorizedResponse returns the bodiless Unauthorized response.
func NewUnauthorizedResponse() RpcResponse {
	return RpcResponse{Tag: RpcResponseTagUnauthorized}
}

// NewRequestQueuedResponse returns the bodiless RequestQueued response.
func NewRequestQueuedResponse() RpcResponse {
	return RpcResponse{Tag: RpcResponseTagRequestQueued}
}

// NewTryAgainLaterResponse returns the bodiless TryAgainLater response.
func NewTryAgainLaterResponse() RpcResponse {
	return RpcResponse{Tag: RpcResponseTagTryAgainLater}
}

// NewRegisterResponse wraps a RegisterResponse as an RpcResponse.
func NewRegisterResponse(r RegisterResponse) RpcResponse {
	return RpcResponse{Tag: RpcResponseTagRegister, Register: &r}
}

// NewUdpChannelResponse wraps a UdpChannelDetails as an RpcResponse.
func NewUdpChannelResponse(u UdpChannelDetails) RpcResponse {
	return RpcResponse{Tag: RpcResponseTagUdpChannel, UdpChannel: &u}
}

// NewPortMappingResponse wraps a PortMappingResponse as an RpcResponse.
func NewPortMappingResponse(p PortMappingResponse) RpcResponse {
	return RpcResponse{Tag: RpcResponseTagPortMapping, PortMapping: &p}
}

// Encode appends the response's wire form (u32 tag, then body for the
// variants that have one) to dst.
func (r RpcResponse) Encode(dst []byte) []byte {
	dst = appendUint32(dst, r.Tag)
	switch r.Tag {
	case RpcResponseTagPong:
		return r.Pong.Encode(dst)
	case RpcResponseTagInvalidSignature, RpcResponseTagUnauthorized,
		RpcResponseTagRequestQueued, RpcResponseTagTryAgainLater:
		return dst
	case RpcResponseTagRegister:
		return r.Register.Encode(dst)
	case RpcResponseTagUdpChannel:
		return r.UdpChannel.Encode(dst)
	case RpcResponseTagPortMapping:
		return r.PortMapping.Encode(dst)
	default:
		return dst
	}
}

// DecodeRpcResponse reads an RpcResponse from buf.
func DecodeRpcResponse(buf []byte) (RpcResponse, int, error) {
	c := newCursor(buf)
	tag, err := c.uint32()
	if err != nil {
		return RpcResponse{}, 0, fmt.Errorf("rpc response tag: %w", err)
	}
	total := consumed(len(buf), c)
	rest := c.buf

	switch tag {
	case RpcResponseTagPong:
		v, n, err := DecodePong(rest)
		if err != nil {
			return RpcResponse{}, 0, fmt.Errorf("rpc response pong: %w", err)
		}
		return RpcResponse{Tag: tag, Pong: &v}, total + n, nil
	case RpcResponseTagInvalidSignature, RpcResponseTagUnauthorized,
		RpcResponseTagRequestQueued, RpcResponseTagTryAgainLater:
		return RpcResponse{Tag: tag}, total, nil
	case RpcResponseTagRegister:
		v, n, err := DecodeRegisterResponse(rest)
		if err != nil {
			return RpcResponse{}, 0, fmt.Errorf("rpc response register: %w", err)
		}
		return RpcResponse{Tag: tag, Register: &v}, total + n, nil
	case RpcResponseTagUdpChannel:
		v, n, err := DecodeUdpChannelDetails(rest)
		if err != nil {
			return RpcResponse{}, 0, fmt.Errorf("rpc response udp_channel: %w", err)
		}
		return RpcResponse{Tag: tag, UdpChannel: &v}, total + n, nil
	case RpcResponseTagPortMapping:
		v, n, err := DecodePortMappingResponse(rest)
		if err != nil {
			return RpcResponse{}, 0, fmt.Errorf("rpc response port_mapping: %w", err)
		}
		return RpcResponse{Tag: tag, PortMapping: &v}, total + n, nil
	default:
		return RpcResponse{}, 0, fmt.Errorf("rpc response tag %d: %w", tag, ErrInvalidDiscriminant)
	}
}

// EncodeRawRequestEnvelope appends a RemoteProcedureCall<T> envelope whose
// content is already wire-encoded bytes: request_id, then content verbatim.
// The setup state machine's register phase uses this to forward the
// signed blob the HTTP sign endpoint returns without decoding and
// re-encoding it (the blob is opaque to this package; see
// internal/tunnel).
func EncodeRawRequestEnvelope(dst []byte, requestID uint64, rawContent []byte) []byte {
	dst = appendUint64(dst, requestID)
	return append(dst, rawContent...)
}

// RpcRequestEnvelope is RemoteProcedureCall<RpcRequest> (§3, §4.4):
// request_id then the request body. The sender chooses request_id; the
// setup state machine uses the two fixed ids 1 (probe Ping) and 10
// (Register).
type RpcRequestEnvelope struct {
	RequestID uint64
	Content   RpcRequest
}

// Encode appends the envelope's wire form to dst.
func (e RpcRequestEnvelope) Encode(dst []byte) []byte {
	dst = appendUint64(dst, e.RequestID)
	return e.Content.Encode(dst)
}

// DecodeRpcRequestEnvelope reads an RpcRequestEnvelope from buf.
func DecodeRpcRequestEnvelope(buf []byte) (RpcRequestEnvelope, int, error) {
	c := newCursor(buf)
	requestID, err := c.uint64()
	if err != nil {
		return RpcRequestEnvelope{}, 0, fmt.Errorf("rpc request envelope request_id: %w", err)
	}
	total := consumed(len(buf), c)

	content, n, err := DecodeRpcRequest(c.buf)
	if err != nil {
		return RpcRequestEnvelope{}, 0, fmt.Errorf("rpc request envelope content: %w", err)
	}
	total += n

	return RpcRequestEnvelope{RequestID: requestID, Content: content}, total, nil
}

// RpcResponseEnvelope is RemoteProcedureCall<RpcResponse>: the server's
// half of the envelope, echoing the request_id it is replying to.
type RpcResponseEnvelope struct {
	RequestID uint64
	Content   RpcResponse
}

// Encode appends the envelope's wire form to dst.
func (e RpcResponseEnvelope) Encode(dst []byte) []byte {
	dst = appendUint64(dst, e.RequestID)
	return e.Content.Encode(dst)
}

// DecodeRpcResponseEnvelope reads an RpcResponseEnvelope from buf.
func DecodeRpcResponseEnvelope(buf []byte) (RpcResponseEnvelope, int, error) {
	c := newCursor(buf)
	requestID, err := c.uint64()
	if err != nil {
		return RpcResponseEnvelope{}, 0, fmt.Errorf("rpc response envelope request_id: %w", err)
	}
	total := consumed(len(buf), c)

	content, n, err := DecodeRpcResponse(c.buf)
	if err != nil {
		return RpcResponseEnvelope{}, 0, fmt.Errorf("rpc response envelope content: %w", err)
	}
	total += n

	return RpcResponseEnvelope{RequestID: requestID, Content: content}, total, nil
}

// ControlFeed discriminants (§3): server-pushed messages carry either an
// RPC response envelope (a reply to something the agent sent) or an
// unsolicited NewClient notification.
const (
	ControlFeedTagRpcResponse uint32 = 1
	ControlFeedTagNewClient   uint32 = 2
)

// ControlFeed is every message shape a server may push to an agent over
// the control UDP socket (§3, §6).
type ControlFeed struct {
	Tag uint32

	RpcResponse *RpcResponseEnvelope
	NewClient   *ClientDetails
}

// NewRpcResponseFeed wraps an RpcResponseEnvelope as a ControlFeed.
func NewRpcResponseFeed(e RpcResponseEnvelope) ControlFeed {
	return ControlFeed{Tag: ControlFeedTagRpcResponse, RpcResponse: &e}
}

// NewClientFeed wraps a ClientDetails as a ControlFeed.
func NewClientFeed(d ClientDetails) ControlFeed {
	return ControlFeed{Tag: ControlFeedTagNewClient, NewClient: &d}
}

// Encode appends the feed message's wire form (u32 tag, then body) to dst.
func (f ControlFeed) Encode(dst []byte) []byte {
	dst = appendUint32(dst, f.Tag)
	switch f.Tag {
	case ControlFeedTagRpcResponse:
		return f.RpcResponse.Encode(dst)
	case ControlFeedTagNewClient:
		return f.NewClient.Encode(dst)
	default:
		return dst
	}
}

// DecodeControlFeed reads a ControlFeed from buf.
func DecodeControlFeed(buf []byte) (ControlFeed, int, error) {
	c := newCursor(buf)
	tag, err := c.uint32()
	if err != nil {
		return ControlFeed{}, 0, fmt.Errorf("control feed tag: %w", err)
	}
	total := consumed(len(buf), c)
	rest := c.buf

	switch tag {
	case ControlFeedTagRpcResponse:
		v, n, err := DecodeRpcResponseEnvelope(rest)
		if err != nil {
			return ControlFeed{}, 0, fmt.Errorf("control feed rpc_response: %w", err)
		}
		return ControlFeed{Tag: tag, RpcResponse: &v}, total + n, nil
	case ControlFeedTagNewClient:
		v, n, err := DecodeClientDetails(rest)
		if err != nil {
			return ControlFeed{}, 0, fmt.Errorf("control feed new_client: %w", err)
		}
		return ControlFeed{Tag: tag, NewClient: &v}, total + n, nil
	default:
		return ControlFeed{}, 0, fmt.Errorf("control feed tag %d: %w", tag, ErrInvalidDiscriminant)
	}
}
