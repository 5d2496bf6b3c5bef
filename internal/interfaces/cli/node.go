package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cis-project/cis/internal/application/service"
	"github.com/cis-project/cis/internal/infrastructure/dht"
	"github.com/cis-project/cis/pkg/cisid"
	cerr "github.com/cis-project/cis/pkg/errors"
)

func parseNodeID(s string) (cisid.NodeId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return cisid.NodeId{}, cerr.InvalidInput("node id must be hex: " + err.Error())
	}
	return cisid.FromBytes(b)
}

func newNodeCmd(svc *service.NodeService) *cobra.Command {
	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Inspect and manage this node's view of its peers",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every peer currently in the routing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			page := svc.ListPeers(service.ListOptions{})
			fmt.Printf("%-40s %-25s %s\n", "NODE ID", "ADDRESS", "LAST SEEN")
			for _, p := range page.Items {
				fmt.Printf("%-40s %-25s %s\n", p.ID.String(), p.Address, p.LastSeen.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <node-id-hex>",
		Short: "Show one peer's routing-table entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			info, err := svc.Inspect(id)
			if err != nil {
				return err
			}
			fmt.Printf("Node ID:   %s\n", info.ID.String())
			fmt.Printf("Address:   %s\n", info.Address)
			fmt.Printf("Last seen: %s\n", info.LastSeen.Format("2006-01-02T15:04:05Z"))
			fmt.Printf("Allowed:   %v\n", svc.Allowed(id))
			return nil
		},
	}

	pingCmd := &cobra.Command{
		Use:   "ping <node-id-hex> <address>",
		Short: "Round-trip a PING/PONG to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			if err := svc.Ping(cmd.Context(), dht.Peer{ID: id, Address: args[1]}); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}

	bindCmd := &cobra.Command{
		Use:   "bind <node-id-hex>",
		Short: "Admit a peer to the allow-list (while the list is non-empty, only bound peers pass the allow check)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			svc.Bind(id)
			return nil
		},
	}

	blockCmd := &cobra.Command{
		Use:   "block <node-id-hex>",
		Short: "Deny a peer outright, overriding any allow-list entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			svc.Block(id)
			return nil
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <node-id-hex> <public-key-hex>",
		Short: "Check that a public key actually derives the claimed node id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			pub, err := hex.DecodeString(args[1])
			if err != nil {
				return cerr.InvalidInput("public key must be hex: " + err.Error())
			}
			if err := svc.Verify(id, pub); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show this node's local DHT store usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats := svc.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Total keys:   %d\n", stats.TotalKeys)
			fmt.Fprintf(cmd.OutOrStdout(), "Active keys:  %d\n", stats.ActiveKeys)
			fmt.Fprintf(cmd.OutOrStdout(), "Expired keys: %d\n", stats.ExpiredKeys)
			return nil
		},
	}

	nodeCmd.AddCommand(listCmd, inspectCmd, pingCmd, bindCmd, blockCmd, verifyCmd, statsCmd)
	return nodeCmd
}
