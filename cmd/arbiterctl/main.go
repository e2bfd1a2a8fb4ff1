// Command arbiterctl is the operator CLI (spec §6): a small set of cobra
// subcommands grounded on the original arbiter/main.py click group (conf,
// run, stake, settle, bounties, pending, relay, balance, clean).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envPath    string
)

func main() {
	root := &cobra.Command{
		Use:   "arbiterctl",
		Short: "Operator CLI for the bounty arbiter",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config YAML")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "path to a .env file (optional)")

	root.AddCommand(
		newConfCmd(),
		newRunCmd(),
		newStakeCmd(),
		newSettleCmd(),
		newRelayCmd(),
		newBalanceCmd(),
		newBountiesCmd(),
		newPendingCmd(),
		newCleanCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "arbiterctl:", err)
		os.Exit(1)
	}
}
