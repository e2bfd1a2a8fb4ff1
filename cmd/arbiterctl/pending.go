package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bountyarbiter/arbiterd/internal/platform/database"
	"github.com/bountyarbiter/arbiterd/internal/store"
)

func newPendingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List artifact verdicts awaiting a backend result",
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

			rows, err := store.NewPGStore(db).ListPendingVerdicts(ctx, limit)
			if err != nil {
				return fmt.Errorf("list pending verdicts: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tARTIFACT\tBOUNTY\tBACKEND\tSTATUS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", r.VerdictID, r.ArtifactID, r.BountyGUID, r.Backend, r.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "maximum rows to print")
	return cmd
}
