// Command arbiterd is the arbiter daemon entrypoint: a thin flag-parsing
// wrapper over internal/daemon.Run, kept separate so cmd/arbiterctl's `run`
// subcommand can share the exact same startup wiring.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bountyarbiter/arbiterd/internal/daemon"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config YAML")
	envPath := flag.String("env", ".env", "path to a .env file (optional)")
	manual := flag.Bool("manual", false, "force manual review mode regardless of config.yaml")
	flag.Parse()

	err := daemon.Run(daemon.Options{ConfigPath: *configPath, EnvPath: *envPath, ForceManual: *manual})
	if err != nil {
		fmt.Fprintln(os.Stderr, "arbiterd:", err)
		os.Exit(1)
	}
}
