package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bountyarbiter/arbiterd/internal/platform/database"
	"github.com/bountyarbiter/arbiterd/internal/store"
)

// parseVoteString parses a per-artifact vote string where each character is
// one artifact's truth value: t/T/1 for malicious, f/F/0 for safe. Mirrors
// the original main.py `settle` command's character-by-character parsing.
func parseVoteString(s string) ([]bool, error) {
	votes := make([]bool, len(s))
	for i, c := range s {
		switch c {
		case 't', 'T', '1':
			votes[i] = true
		case 'f', 'F', '0':
			votes[i] = false
		default:
			return nil, fmt.Errorf("invalid vote character %q at position %d (want one of tT1fF0)", c, i)
		}
	}
	return votes, nil
}

func newSettleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <guid> <votes>",
		Short: "Force-settle a bounty with a manually chosen truth value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid bounty guid %q: %w", args[0], err)
			}
			votes, err := parseVoteString(args[1])
			if err != nil {
				return err
			}

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

			if err := store.NewPGStore(db).SetManualTruth(ctx, guid, votes); err != nil {
				return fmt.Errorf("settle %s: %w", guid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %s for manual settlement\n", guid)
			return nil
		},
	}
}
