package server_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/dantte-lp/tunnel-agent/internal/proto"
	"github.com/dantte-lp/tunnel-agent/internal/server"
	"github.com/dantte-lp/tunnel-agent/internal/tunnel"
)

// testSession builds a Session around a loopback-bound UDP socket.
// The socket is closed automatically when the test finishes.
func testSession(t *testing.T) *tunnel.Session {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("bind test socket: %v", err)
	}

	controlAddr := netip.MustParseAddrPort("147.185.221.2:5523")
	pong := proto.Pong{
		ServerID:     3,
		DataCenterID: 7,
		ClientAddr:   netip.MustParseAddrPort("203.0.113.5:3310"),
		TunnelAddr:   controlAddr,
	}
	agentSession := proto.AgentSession{ID: 42, AccountID: 1, AgentID: 2}

	sess := tunnel.NewSession(conn, controlAddr, pong, agentSession, 1_700_000_000_000, "secret")
	t.Cleanup(func() { sess.Close() })

	return sess
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusDisconnected(t *testing.T) {
	t.Parallel()

	state := server.NewState()
	state.SetDisconnected(errors.New("no candidate answered"))

	srv := httptest.NewServer(server.New(state, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Connected bool   `json:"connected"`
		LastError string `json:"last_error"`
		SessionID uint64 `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}

	if body.Connected {
		t.Error("Connected = true, want false")
	}
	if body.LastError != "no candidate answered" {
		t.Errorf("LastError = %q, want %q", body.LastError, "no candidate answered")
	}
	if body.SessionID != 0 {
		t.Errorf("SessionID = %d, want 0", body.SessionID)
	}
}

func TestStatusConnected(t *testing.T) {
	t.Parallel()

	state := server.NewState()
	state.SetConnected(testSession(t))

	srv := httptest.NewServer(server.New(state, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Connected    bool   `json:"connected"`
		ControlAddr  string `json:"control_addr"`
		ClientAddr   string `json:"client_addr"`
		SessionID    uint64 `json:"session_id"`
		AccountID    uint64 `json:"account_id"`
		AgentID      uint64 `json:"agent_id"`
		ServerID     uint64 `json:"server_id"`
		DataCenterID uint32 `json:"data_center_id"`
		ExpiresAtMs  uint64 `json:"expires_at_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}

	if !body.Connected {
		t.Fatal("Connected = false, want true")
	}
	if body.ControlAddr != "147.185.221.2:5523" {
		t.Errorf("ControlAddr = %q, want %q", body.ControlAddr, "147.185.221.2:5523")
	}
	if body.ClientAddr != "203.0.113.5:3310" {
		t.Errorf("ClientAddr = %q, want %q", body.ClientAddr, "203.0.113.5:3310")
	}
	if body.SessionID != 42 || body.AccountID != 1 || body.AgentID != 2 {
		t.Errorf("session triple = (%d, %d, %d), want (42, 1, 2)",
			body.SessionID, body.AccountID, body.AgentID)
	}
	if body.ServerID != 3 {
		t.Errorf("ServerID = %d, want 3", body.ServerID)
	}
	if body.DataCenterID != 7 {
		t.Errorf("DataCenterID = %d, want 7", body.DataCenterID)
	}
	if body.ExpiresAtMs != 1_700_000_000_000 {
		t.Errorf("ExpiresAtMs = %d, want 1700000000000", body.ExpiresAtMs)
	}
}

func TestStatusReflectsDisconnect(t *testing.T) {
	t.Parallel()

	state := server.NewState()
	state.SetConnected(testSession(t))
	state.SetDisconnected(errors.New("session expired"))

	srv := httptest.NewServer(server.New(state, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Connected bool   `json:"connected"`
		LastError string `json:"last_error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}

	if body.Connected {
		t.Error("Connected = true after SetDisconnected, want false")
	}
	if body.LastError != "session expired" {
		t.Errorf("LastError = %q, want %q", body.LastError, "session expired")
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(server.New(server.NewState(), testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(server.New(server.NewState(), testLogger()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", resp.StatusCode)
	}
}
