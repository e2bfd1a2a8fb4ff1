package main

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"
)

func newStakeCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "stake",
		Short: "Deposit NCT into the arbiter's staking balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			value, ok := new(big.Int).SetString(amount, 10)
			if !ok {
				return fmt.Errorf("--amount %q is not a valid integer", amount)
			}

			client, cfg, err := loadMarketClient()
			if err != nil {
				return err
			}

			withdrawable, err := client.Balance(cmd.Context(), cfg.Market.Account, "staking/withdrawable")
			if err != nil {
				return fmt.Errorf("read staking/withdrawable balance: %w", err)
			}
			total, err := client.Balance(cmd.Context(), cfg.Market.Account, "staking/total")
			if err != nil {
				return fmt.Errorf("read staking/total balance: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "staking balance before deposit: withdrawable=%s total=%s\n", withdrawable, total)

			if err := client.StakeDeposit(cmd.Context(), value); err != nil {
				return fmt.Errorf("stake deposit: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deposited %s NCT to staking\n", value.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "0", "amount of NCT to deposit, in base units")
	return cmd
}
