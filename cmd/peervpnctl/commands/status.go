package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the peer manager's status report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := dialControl()
			if err != nil {
				return err
			}
			defer cli.Close()

			resp, err := cli.Call("status")
			if err != nil {
				return err
			}

			var report string
			if err := json.Unmarshal(resp.Data, &report); err != nil {
				return fmt.Errorf("decode status report: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), report)
			return nil
		},
	}
}
