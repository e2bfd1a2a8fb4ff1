package main

import (
	"github.com/spf13/cobra"

	"github.com/bountyarbiter/arbiterd/internal/daemon"
)

func newRunCmd() *cobra.Command {
	var manual bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the arbiter daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.Run(daemon.Options{
				ConfigPath:  configPath,
				EnvPath:     envPath,
				ForceManual: manual,
			})
		},
	}
	cmd.Flags().BoolVar(&manual, "manual", false, "force manual review mode regardless of config.yaml")
	return cmd
}
