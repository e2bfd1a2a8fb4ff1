package main

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"
)

func newRelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay <side|home> <amount>",
		Short: "Relay NCT between the side and home chains",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain := args[0]
			if chain != "side" && chain != "home" {
				return fmt.Errorf("chain must be one of side, home (got %q)", chain)
			}
			amount, ok := new(big.Int).SetString(args[1], 10)
			if !ok {
				return fmt.Errorf("amount %q is not a valid integer", args[1])
			}

			client, _, err := loadMarketClient()
			if err != nil {
				return err
			}
			if err := client.Relay(cmd.Context(), chain, amount); err != nil {
				return fmt.Errorf("relay: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "relayed %s NCT to %s\n", amount.String(), chain)
			return nil
		},
	}
}
