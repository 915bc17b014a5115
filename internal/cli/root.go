// Package cli wires the frameprof command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/frameprof/internal/cli/config"
	"github.com/coral-mesh/frameprof/internal/cli/helpers"
	"github.com/coral-mesh/frameprof/internal/cli/history"
	"github.com/coral-mesh/frameprof/internal/cli/run"
	"github.com/coral-mesh/frameprof/pkg/version"
)

// NewRootCmd builds the frameprof command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "frameprof",
		Short: "Frameprof - frame-based instrumentation profiler",
		Long: `Record scoped timings from many threads, reconstruct them per frame
and present them as a hierarchy, a flat top-N list and a frame history.

Components:
- run:     profile a synthetic frame workload with capture, history and inspector
- status:  query a running session's inspector
- history: query frame history stored in DuckDB
- config:  manage the layered configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String(helpers.ConfigFlag, "", "config file (default ~/.frameprof/config.yaml)")
	rootCmd.PersistentFlags().String(helpers.LogLevelFlag, "info", "log level (trace, debug, info, warn, error, disabled)")

	rootCmd.AddCommand(run.NewRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newDumpCmd())
	rootCmd.AddCommand(newFreezeCmd())
	rootCmd.AddCommand(history.NewHistoryCmd())
	rootCmd.AddCommand(config.NewConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			cmd.Printf("frameprof version %s\n", info.Version)
			cmd.Printf("Git commit: %s\n", info.GitCommit)
			cmd.Printf("Build date: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s\n", info.GoVersion)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
