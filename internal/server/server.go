// Package server implements the local HTTP status surface for the
// tunnel-agent daemon: a small JSON API reporting the current control
// session, plus the logging and panic-recovery middleware every handler
// is wrapped in.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dantte-lp/tunnel-agent/internal/tunnel"
	appversion "github.com/dantte-lp/tunnel-agent/internal/version"
)

// State is the concurrency-safe holder for the daemon's current control
// session. The setup supervisor writes it; status handlers read it.
type State struct {
	mu sync.RWMutex

	session   *tunnel.Session
	lastError string
	changedAt time.Time
}

// NewState returns an empty (disconnected) State.
func NewState() *State {
	return &State{changedAt: time.Now()}
}

// SetConnected records a freshly authenticated session.
func (s *State) SetConnected(sess *tunnel.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = sess
	s.lastError = ""
	s.changedAt = time.Now()
}

// SetDisconnected clears the current session, recording err (which may be
// nil for an orderly re-registration) as the reason.
func (s *State) SetDisconnected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	if err != nil {
		s.lastError = err.Error()
	}
	s.changedAt = time.Now()
}

// Session returns the current session, or nil when disconnected.
func (s *State) Session() *tunnel.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.session
}

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	Connected    bool   `json:"connected"`
	Version      string `json:"version"`
	SinceUnixMs  int64  `json:"since_unix_ms"`
	LastError    string `json:"last_error,omitempty"`
	ControlAddr  string `json:"control_addr,omitempty"`
	ClientAddr   string `json:"client_addr,omitempty"`
	TunnelAddr   string `json:"tunnel_addr,omitempty"`
	SessionID    uint64 `json:"session_id,omitempty"`
	AccountID    uint64 `json:"account_id,omitempty"`
	AgentID      uint64 `json:"agent_id,omitempty"`
	ServerID     uint64 `json:"server_id,omitempty"`
	DataCenterID uint32 `json:"data_center_id,omitempty"`
	ExpiresAtMs  uint64 `json:"expires_at_ms,omitempty"`
}

// snapshot builds the status response under the read lock.
func (s *State) snapshot() statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := statusResponse{
		Version:     appversion.Version,
		SinceUnixMs: s.changedAt.UnixMilli(),
		LastError:   s.lastError,
	}

	if s.session == nil {
		return resp
	}

	sess := s.session
	agentSession := sess.AgentSession()
	pong := sess.LastPong()

	resp.Connected = true
	resp.ControlAddr = sess.ControlAddr().String()
	resp.ClientAddr = pong.ClientAddr.String()
	resp.TunnelAddr = pong.TunnelAddr.String()
	resp.SessionID = agentSession.ID
	resp.AccountID = agentSession.AccountID
	resp.AgentID = agentSession.AgentID
	resp.ServerID = pong.ServerID
	resp.DataCenterID = pong.DataCenterID
	resp.ExpiresAtMs = sess.ExpiresAt()

	return resp
}

// StatusServer serves the daemon's local JSON status API.
type StatusServer struct {
	state  *State
	logger *slog.Logger
}

// New builds the status API handler: GET /status and GET /healthz, wrapped
// with recovery and request logging.
func New(state *State, logger *slog.Logger) http.Handler {
	srv := &StatusServer{
		state:  state,
		logger: logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", srv.handleStatus)
	mux.HandleFunc("GET /healthz", srv.handleHealthz)

	// Recovery outermost so a panic inside the logging middleware is
	// caught too.
	return RecoveryMiddleware(srv.logger)(LoggingMiddleware(srv.logger)(mux))
}

// handleStatus reports the current control session as JSON.
func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.state.snapshot())
}

// handleHealthz is the liveness probe: the daemon is healthy as long as it
// can answer, whether or not a control session is currently established.
func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON serializes v with the given status code. Encoding failures are
// logged; headers are already written by then, so nothing else can be done.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response body",
			slog.String("error", err.Error()),
		)
	}
}
