package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bountyarbiter/arbiterd/internal/market"
)

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print NCT/ETH balances on both chains plus staking balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := loadMarketClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			acct := cfg.Market.Account
			out := cmd.OutOrStdout()

			for _, chain := range []market.Chain{market.ChainSide, market.ChainHome} {
				chainClient := market.New(market.Config{BaseURL: cfg.Market.Host, Chain: chain})
				for _, currency := range []string{"nct", "eth"} {
					v, err := chainClient.Balance(ctx, acct, currency)
					if err != nil {
						return fmt.Errorf("read %s/%s balance: %w", chain, currency, err)
					}
					fmt.Fprintf(out, "%-5s %-4s %s\n", chain, currency, v)
				}
			}

			for _, side := range []string{"staking/withdrawable", "staking/total"} {
				v, err := client.Balance(ctx, acct, side)
				if err != nil {
					return fmt.Errorf("read %s balance: %w", side, err)
				}
				fmt.Fprintf(out, "%-22s %s\n", side, v)
			}
			return nil
		},
	}
}
