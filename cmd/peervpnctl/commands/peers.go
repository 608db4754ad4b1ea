package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// peerSummary mirrors cmd/peervpn's control-socket "peers" response shape.
type peerSummary struct {
	PeerID string `json:"peer_id"`
	Active bool   `json:"active"`
	Addr   string `json:"addr,omitempty"`
}

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List known peer slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := dialControl()
			if err != nil {
				return err
			}
			defer cli.Close()

			resp, err := cli.Call("peers")
			if err != nil {
				return err
			}

			var peers []peerSummary
			if err := json.Unmarshal(resp.Data, &peers); err != nil {
				return fmt.Errorf("decode peers: %w", err)
			}

			printPeers(cmd, peers)
			return nil
		},
	}
}

func printPeers(cmd *cobra.Command, peers []peerSummary) {
	if outputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		_ = enc.Encode(peers)
		return
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-8s %s\n", "PEERID", "ACTIVE", "ADDR")
	for _, p := range peers {
		fmt.Fprintf(out, "%-10s %-8t %s\n", p.PeerID, p.Active, p.Addr)
	}
}
