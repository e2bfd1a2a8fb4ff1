package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bountyarbiter/arbiterd/internal/platform/database"
	"github.com/bountyarbiter/arbiterd/internal/store"
)

func newBountiesCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "bounties",
		Short: "List tracked bounties",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOnly()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := database.Open(ctx, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			bounties, err := store.NewPGStore(db).ListBounties(ctx, status, limit)
			if err != nil {
				return fmt.Errorf("list bounties: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "STATUS\tGUID\tM\tR\tV\tS\tVOTE_BEFORE\tSETTLE_BLOCK\tTRUTH")
			for _, b := range bounties {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\t%t\t%d\t%d\t%v\n",
					b.Status, b.GUID, b.TruthManual, b.Revealed, b.Voted, b.Settled,
					b.VoteBefore, b.SettleBlock, b.TruthValue)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, finished, aborted); empty lists all")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to print")
	return cmd
}
