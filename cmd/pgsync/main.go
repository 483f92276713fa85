// Command pgsync is the operator-facing entry point for the replication
// pipeline: bootstrap installs the slot/triggers/view/aggregate/index,
// run performs a pull and optionally stays resident in daemon mode, and
// teardown removes everything bootstrap created (§6.5).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pgsync",
	Short: "Keep a search index consistent with a Postgres source via logical replication",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to pgsync.yaml/.toml (default: env + built-in defaults)")
	rootCmd.AddCommand(bootstrapCmd, runCmd, teardownCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
