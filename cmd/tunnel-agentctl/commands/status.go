package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// agentStatus mirrors the daemon's GET /status response body.
type agentStatus struct {
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

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current control session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := fetchStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}

			out, err := formatStatus(status, outputFormat)
			if err != nil {
				return fmt.Errorf("format status: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// fetchStatus retrieves and decodes the daemon's /status response.
func fetchStatus(ctx context.Context) (*agentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", baseURL+"/status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %s", resp.Status)
	}

	status := &agentStatus{}
	if err := json.NewDecoder(resp.Body).Decode(status); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return status, nil
}
