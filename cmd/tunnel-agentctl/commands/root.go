package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient talks to the daemon's local status server, initialized in
	// PersistentPreRunE.
	httpClient *http.Client

	// baseURL is the daemon status server base, derived from --addr.
	baseURL string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the status connection.
	serverAddr string
)

// rootCmd is the top-level cobra command for tunnel-agentctl.
var rootCmd = &cobra.Command{
	Use:   "tunnel-agentctl",
	Short: "CLI client for the tunnel-agent daemon",
	Long:  "tunnel-agentctl communicates with the tunnel-agent daemon via its local HTTP status API.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: 5 * time.Second}
		baseURL = "http://" + serverAddr

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8483",
		"tunnel-agent daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
