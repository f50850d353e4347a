// Package commands implements the tunnel-agentctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStatus renders the agent status in the requested format.
func formatStatus(status *agentStatus, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStatusJSON(status)
	case formatTable:
		return formatStatusTable(status)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatter ---

func formatStatusTable(status *agentStatus) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Connected:\t%t\n", status.Connected)
	fmt.Fprintf(w, "Agent Version:\t%s\n", status.Version)
	fmt.Fprintf(w, "Since:\t%s\n", formatUnixMs(status.SinceUnixMs))

	if status.LastError != "" {
		fmt.Fprintf(w, "Last Error:\t%s\n", status.LastError)
	}

	if status.Connected {
		fmt.Fprintf(w, "Control Address:\t%s\n", orNA(status.ControlAddr))
		fmt.Fprintf(w, "Observed Client Address:\t%s\n", orNA(status.ClientAddr))
		fmt.Fprintf(w, "Tunnel Address:\t%s\n", orNA(status.TunnelAddr))
		fmt.Fprintf(w, "Session ID:\t%d\n", status.SessionID)
		fmt.Fprintf(w, "Account ID:\t%d\n", status.AccountID)
		fmt.Fprintf(w, "Agent ID:\t%d\n", status.AgentID)
		fmt.Fprintf(w, "Server ID:\t%d\n", status.ServerID)
		fmt.Fprintf(w, "Data Center ID:\t%d\n", status.DataCenterID)
		fmt.Fprintf(w, "Session Expires:\t%s\n", formatUnixMs(int64(status.ExpiresAtMs)))
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// --- JSON formatter ---

func formatStatusJSON(status *agentStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal status: %w", err)
	}

	return string(data) + "\n", nil
}

// --- Helpers ---

// formatUnixMs renders a millisecond Unix timestamp as local RFC 3339.
func formatUnixMs(ms int64) string {
	if ms == 0 {
		return valueNA
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}

// orNA substitutes N/A for empty values.
func orNA(s string) string {
	if s == "" {
		return valueNA
	}
	return s
}
