package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func dialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dial <addr>",
		Short: "Start a handshake toward a UDP address directly, bypassing nodedb",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := dialControl()
			if err != nil {
				return err
			}
			defer cli.Close()

			resp, err := cli.Call("dial", args[0])
			if err != nil {
				return err
			}

			var result struct {
				Started bool `json:"started"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return fmt.Errorf("decode dial result: %w", err)
			}

			if result.Started {
				fmt.Fprintf(cmd.OutOrStdout(), "dial started toward %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "dial rejected for %s (no free auth slot, or already in flight)\n", args[0])
			}
			return nil
		},
	}
}
