package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blahgeek/peervpn/internal/control"
)

var (
	// socketPath is the unix-domain control socket address, set by the
	// --socket persistent flag.
	socketPath string

	// outputFormat controls how response data is rendered (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for peervpnctl.
var rootCmd = &cobra.Command{
	Use:   "peervpnctl",
	Short: "CLI client for the peervpn daemon",
	Long:  "peervpnctl communicates with the peervpn daemon over its unix-domain control socket.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/peervpn/control.sock",
		"peervpn control socket path")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(peersCmd())
	rootCmd.AddCommand(dialCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// dialControl opens a fresh connection to the configured control socket.
// peervpnctl issues one request per invocation, so there is no benefit to
// keeping a connection open across commands.
func dialControl() (*control.Client, error) {
	return control.Dial(socketPath)
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
