// Package signclient implements the single HTTP call the setup state
// machine makes against the control-plane's account API: exchanging a
// Pong-observed address pair for an already-signed registration blob.
package signclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"golang.org/x/net/http2"

	appversion "github.com/dantte-lp/tunnel-agent/internal/version"
)

// DefaultBaseURL is the control-plane account API base, per §6.
const DefaultBaseURL = "https://api.playit.cloud/"

const agentEndpoint = "/agent"

// Client calls the account API's sign-agent-register operation. The zero
// value is not usable; construct one with New.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secret     string
}

// New builds a Client against baseURL, authenticating with secret via the
// "agent-key" scheme (§6). The transport prefers HTTP/2 and falls back to
// HTTP/1.1, matching the account API's own listener.
func New(baseURL, secret string) (*Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{},
	}
	// ConfigureTransport adds h2 ALPN negotiation on top of the stdlib
	// transport; a server that only speaks HTTP/1.1 is served by the same
	// *http.Transport without any fallback plumbing of our own.
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, &Error{Kind: ErrKindBuilder, Cause: err}
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
		baseURL: baseURL,
		secret:  secret,
	}, nil
}

// SignAgentRegisterRequest is the payload of the sign-agent-register call.
type SignAgentRegisterRequest struct {
	AgentVersion uint64
	ClientAddr   netip.AddrPort
	TunnelAddr   netip.AddrPort
}

type signAgentRegisterWire struct {
	Type         string `json:"type"`
	AgentVersion uint64 `json:"agent_version"`
	ClientAddr   string `json:"client_addr"`
	TunnelAddr   string `json:"tunnel_addr"`
}

type signedAgentRegisterWire struct {
	Data string `json:"data"`
}

// errorWire covers both error response shapes the account API may return
// (§6): untagged (presence of "code") and tagged ("type":"error").
type errorWire struct {
	Type    string `json:"type"`
	Code    uint16 `json:"code"`
	Message string `json:"message"`
}

// SignAgentRegister exchanges the agent's observed address pair for an
// opaque, already-signed registration blob. The returned bytes are the
// entire RpcRequest::Register body, discriminant included, ready to be
// forwarded verbatim as a UDP payload.
func (c *Client) SignAgentRegister(ctx context.Context, req SignAgentRegisterRequest) ([]byte, error) {
	wire := signAgentRegisterWire{
		Type:         "sign-agent-register",
		AgentVersion: req.AgentVersion,
		ClientAddr:   req.ClientAddr.String(),
		TunnelAddr:   req.TunnelAddr.String(),
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &Error{Kind: ErrKindBuilder, Cause: err}
	}

	url := c.baseURL + agentEndpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: ErrKindBuilder, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "agent-key "+c.secret)
	httpReq.Header.Set("User-Agent", "playit-agent/"+appversion.Version)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: ErrKindRequest, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrKindResponse, Cause: err}
	}

	var signed signedAgentRegisterWire
	if err := json.Unmarshal(raw, &signed); err == nil && signed.Data != "" {
		blob, err := hex.DecodeString(signed.Data)
		if err != nil {
			return nil, &Error{Kind: ErrKindDecodeBlob, Cause: fmt.Errorf("decoding hex blob: %w", err)}
		}
		return blob, nil
	}

	var apiErr errorWire
	if err := json.Unmarshal(raw, &apiErr); err != nil {
		return nil, &Error{Kind: ErrKindResponse, Cause: fmt.Errorf("parsing response body: %w", err)}
	}
	return nil, &Error{Kind: ErrKindServerStatus, StatusCode: apiErr.Code, Message: apiErr.Message}
}
