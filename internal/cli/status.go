package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/frameprof/internal/cli/helpers"
	"github.com/coral-mesh/frameprof/internal/cli/status"
)

// inspectorFlags locate a running inspector.
type inspectorFlags struct {
	addr    string
	timeout time.Duration
}

func (f *inspectorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "inspector address (defaults to inspect.addr)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 2*time.Second, "request timeout")
}

func (f *inspectorFlags) client(cmd *cobra.Command) (*status.Client, error) {
	addr := f.addr
	if addr == "" {
		cfg, err := helpers.LoadConfig(cmd)
		if err != nil {
			return nil, err
		}
		addr = cfg.Inspect.Addr
	}
	return status.NewClient(addr, f.timeout), nil
}

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	var (
		format  string
		verbose bool
		text    bool
		target  inspectorFlags
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running profiling session",
		Long: `Query the inspector of a running 'frameprof run --inspect' session.

Shows the last processed frame, the active mode and filter, hitch counts
and the most expensive scope of each thread. Use --report for the full
text report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := target.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 4*target.timeout)
			defer cancel()

			if text {
				report, err := c.Report(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), report)
				return err
			}

			stats, err := c.Statistics(ctx)
			if err != nil {
				stats = nil
			}
			formatter := status.NewFormatter(cmd.OutOrStdout(), c.URL())
			if format != string(helpers.FormatTable) {
				return formatter.OutputJSON(stats)
			}
			return formatter.OutputTable(stats, verbose)
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
	})
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show buffer usage and counters")
	cmd.Flags().BoolVar(&text, "report", false, "print the full text report")
	target.register(cmd)

	return cmd
}

// newDumpCmd creates the dump command.
func newDumpCmd() *cobra.Command {
	var (
		frames int
		target inspectorFlags
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Capture the next frames of a running session",
		Long: `Ask a running session to write its next frames to the capture sinks.

The frames are written as one file per configured format once the last
frame of the dump has been processed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := target.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 4*target.timeout)
			defer cancel()

			accepted, err := c.Dump(ctx, frames)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Dumping %d frames\n", accepted)
			return nil
		},
	}

	cmd.Flags().IntVarP(&frames, "frames", "n", 1, "number of frames to capture")
	target.register(cmd)
	return cmd
}

// newFreezeCmd creates the freeze command.
func newFreezeCmd() *cobra.Command {
	var (
		unfreeze bool
		target   inspectorFlags
	)

	cmd := &cobra.Command{
		Use:   "freeze",
		Short: "Freeze or unfreeze the views of a running session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := target.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 4*target.timeout)
			defer cancel()

			if err := c.SetFrozen(ctx, !unfreeze); err != nil {
				return err
			}
			state := "frozen"
			if unfreeze {
				state = "unfrozen"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Views %s\n", state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&unfreeze, "off", false, "unfreeze the views")
	target.register(cmd)
	return cmd
}
