// Command peervpn runs the peer manager daemon: a UDP data-plane socket,
// a Prometheus metrics endpoint, and a unix-domain control socket for
// cmd/peervpnctl, all driving a single internal/peer.Manager instance.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appversion "github.com/blahgeek/peervpn/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "peervpn",
		Short:         "Authenticated, encrypted, connectionless peer-to-peer overlay daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), appversion.Full("peervpn"))
			return nil
		},
	}
}
