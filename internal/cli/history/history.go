// Package history implements 'frameprof history', which reads the frame
// history stored by 'frameprof run --storage'.
package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/frameprof/internal/cli/helpers"
	"github.com/coral-mesh/frameprof/internal/duckdb"
	"github.com/coral-mesh/frameprof/internal/storage"
)

var formats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatCSV,
	helpers.FormatYAML,
}

// NewHistoryCmd creates the history command and its subcommands.
func NewHistoryCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query stored frame history",
		Long: `Query the per-frame cost history recorded by 'frameprof run --storage'.

The database is opened read-only, so queries can run while a profiling
session is still writing.

Examples:
  frameprof history sessions --since 24h
  frameprof history summary --session <id> --limit 10
  frameprof history samples --name physics --from 100 --to 200 -o csv`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database (defaults to storage.path)")

	cmd.AddCommand(newSessionsCmd(&dbPath))
	cmd.AddCommand(newSamplesCmd(&dbPath))
	cmd.AddCommand(newSummaryCmd(&dbPath))

	return cmd
}

type sessionRow struct {
	ID         string `json:"id" yaml:"id" header:"SESSION"`
	StartedAt  string `json:"started_at" yaml:"started_at" header:"STARTED"`
	Host       string `json:"host" yaml:"host" header:"HOST"`
	Frames     int64  `json:"frames" yaml:"frames" header:"FRAMES"`
	FirstFrame int64  `json:"first_frame" yaml:"first_frame" header:"FIRST"`
	LastFrame  int64  `json:"last_frame" yaml:"last_frame" header:"LAST"`
}

type sampleRow struct {
	Frame int64   `json:"frame" yaml:"frame" header:"FRAME"`
	Name  string  `json:"name" yaml:"name" header:"NAME"`
	MS    float64 `json:"ms" yaml:"ms" header:"MS"`
	Calls int64   `json:"calls" yaml:"calls" header:"CALLS"`
}

type summaryRow struct {
	Name    string  `json:"name" yaml:"name" header:"NAME"`
	Frames  int64   `json:"frames" yaml:"frames" header:"FRAMES"`
	TotalMS float64 `json:"total_ms" yaml:"total_ms" header:"TOTAL MS"`
	AvgMS   float64 `json:"avg_ms" yaml:"avg_ms" header:"AVG MS"`
	MaxMS   float64 `json:"max_ms" yaml:"max_ms" header:"MAX MS"`
	Calls   int64   `json:"calls" yaml:"calls" header:"CALLS"`
}

func newSessionsCmd(dbPath *string) *cobra.Command {
	var (
		format string
		since  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored profiling sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := helpers.ParseSince(since, time.Now())
			if err != nil {
				return err
			}

			return withReader(cmd, *dbPath, func(ctx context.Context, r *storage.Reader) error {
				sessions, err := r.Sessions(ctx, start, limit)
				if err != nil {
					return err
				}
				rows := make([]sessionRow, 0, len(sessions))
				for _, s := range sessions {
					rows = append(rows, sessionRow{
						ID:         s.ID,
						StartedAt:  s.StartedAt.Local().Format(time.DateTime),
						Host:       s.Host,
						Frames:     s.Frames,
						FirstFrame: s.FirstFrame,
						LastFrame:  s.LastFrame,
					})
				}
				return output(cmd, format, rows)
			})
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, formats)
	cmd.Flags().StringVar(&since, "since", "", "only sessions started after this (duration, RFC3339 or date)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions")
	return cmd
}

// queryFlags are shared by the samples and summary commands.
type queryFlags struct {
	session string
	names   []string
	from    int64
	to      int64
	limit   int
}

func (q *queryFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&q.session, "session", "", "restrict to one session")
	cmd.Flags().StringSliceVar(&q.names, "name", nil, "restrict to these scope names")
	cmd.Flags().Int64Var(&q.from, "from", 0, "first frame")
	cmd.Flags().Int64Var(&q.to, "to", 0, "last frame")
	cmd.Flags().IntVar(&q.limit, "limit", defaultLimit, "maximum number of rows")
}

func (q *queryFlags) query(cmd *cobra.Command) (storage.Query, error) {
	out := storage.Query{Session: q.session, Names: q.names, Limit: q.limit}
	if cmd.Flags().Changed("from") {
		out.From = &q.from
	}
	if cmd.Flags().Changed("to") {
		out.To = &q.to
	}
	if out.From != nil && out.To != nil && *out.From > *out.To {
		return storage.Query{}, fmt.Errorf("--from %d is after --to %d", *out.From, *out.To)
	}
	return out, nil
}

func newSamplesCmd(dbPath *string) *cobra.Command {
	var (
		format string
		qf     queryFlags
	)

	cmd := &cobra.Command{
		Use:   "samples",
		Short: "List per-frame scope costs",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := qf.query(cmd)
			if err != nil {
				return err
			}

			return withReader(cmd, *dbPath, func(ctx context.Context, r *storage.Reader) error {
				samples, err := r.Samples(ctx, query)
				if err != nil {
					return err
				}
				rows := make([]sampleRow, 0, len(samples))
				for _, s := range samples {
					rows = append(rows, sampleRow(s))
				}
				return output(cmd, format, rows)
			})
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, formats)
	qf.register(cmd, 1000)
	return cmd
}

func newSummaryCmd(dbPath *string) *cobra.Command {
	var (
		format string
		qf     queryFlags
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate scope costs, most expensive first",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := qf.query(cmd)
			if err != nil {
				return err
			}

			return withReader(cmd, *dbPath, func(ctx context.Context, r *storage.Reader) error {
				summary, err := r.Summary(ctx, query)
				if err != nil {
					return err
				}
				rows := make([]summaryRow, 0, len(summary))
				for _, s := range summary {
					rows = append(rows, summaryRow(s))
				}
				return output(cmd, format, rows)
			})
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, formats)
	qf.register(cmd, 20)
	return cmd
}

// withReader opens the history database read-only for the duration of fn.
func withReader(cmd *cobra.Command, dbPath string, fn func(context.Context, *storage.Reader) error) error {
	if dbPath == "" {
		cfg, err := helpers.LoadConfig(cmd)
		if err != nil {
			return err
		}
		dbPath = cfg.Storage.Path
	}

	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no history database at %s (run 'frameprof run --storage' first)", dbPath)
	}

	db, err := duckdb.OpenDB(duckdb.DSN(dbPath, true))
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return fn(cmd.Context(), storage.NewReader(db))
}

func output(cmd *cobra.Command, format string, rows any) error {
	if err := helpers.ValidateFormat(format, formats); err != nil {
		return err
	}
	formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
	if err != nil {
		return err
	}
	return formatter.Format(rows, cmd.OutOrStdout())
}
