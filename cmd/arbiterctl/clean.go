package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bountyarbiter/arbiterd/internal/platform/database"
	"github.com/bountyarbiter/arbiterd/internal/platform/migrations"
)

// cleanTables lists the persisted tables in child-to-parent order. They are
// truncated together in a single TRUNCATE (without CASCADE), since Postgres
// refuses to truncate a table referenced by a foreign key unless the
// referencing table is in the same statement. Mirrors the original
// arbiterd's init_database(path, clean=True), which just deletes the sqlite
// file; here the schema is shared Postgres state, so truncating every table
// is the equivalent reset.
var cleanTables = []string{"artifact_verdicts", "artifacts", "bounties"}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Reset the database, discarding all tracked bounties",
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

			if err := migrations.Apply(db); err != nil {
				return fmt.Errorf("apply migrations before clean: %w", err)
			}

			tables := strings.Join(cleanTables, ", ")
			if _, err := db.ExecContext(ctx, "TRUNCATE TABLE "+tables); err != nil {
				return fmt.Errorf("truncate %s: %w", tables, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database reset")
			return nil
		},
	}
}
