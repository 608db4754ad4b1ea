package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive peervpnctl console",
		Long:  "Launches a readline-based console exposing status, peers and dial as live commands.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runShell()
		},
	}
}

// runShell builds a reeflective/console instance over the same command
// tree the flat CLI uses, so "status", "peers", "dial <addr>" and
// "version" behave identically whether typed at a shell prompt or as a
// one-shot argv invocation.
func runShell() error {
	app := console.New("peervpnctl")

	menu := app.ActiveMenu()
	menu.SetCommands(func() *cobra.Command {
		shellRoot := &cobra.Command{
			Use:           "peervpnctl",
			SilenceUsage:  true,
			SilenceErrors: true,
		}
		shellRoot.AddCommand(statusCmd())
		shellRoot.AddCommand(peersCmd())
		shellRoot.AddCommand(dialCmd())
		shellRoot.AddCommand(versionCmd())
		return shellRoot
	})

	menu.Prompt().Primary = func() string {
		return fmt.Sprintf("peervpnctl (%s) > ", socketPath)
	}

	return app.Start()
}
