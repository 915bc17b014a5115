// Package run implements the 'frameprof run' command: it drives the
// synthetic workload through the profiler with every configured sink,
// the history store and the inspector attached.
package run

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/frameprof/internal/cli/helpers"
	"github.com/coral-mesh/frameprof/internal/config"
	"github.com/coral-mesh/frameprof/internal/constants"
	"github.com/coral-mesh/frameprof/internal/duckdb"
	ierrors "github.com/coral-mesh/frameprof/internal/errors"
	"github.com/coral-mesh/frameprof/internal/export/chrometrace"
	"github.com/coral-mesh/frameprof/internal/export/otlpexport"
	"github.com/coral-mesh/frameprof/internal/export/pprofexport"
	"github.com/coral-mesh/frameprof/internal/inspect"
	"github.com/coral-mesh/frameprof/internal/logging"
	"github.com/coral-mesh/frameprof/internal/report"
	"github.com/coral-mesh/frameprof/internal/storage"
	"github.com/coral-mesh/frameprof/internal/workload"
	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/aggregate"
)

// Options holds the run settings that have no configuration file field.
type Options struct {
	// Sort selects a flat ordering after the profiler starts.
	Sort *aggregate.SortMode
	// ReportEvery prints the text report periodically. Zero prints it
	// only when the run ends.
	ReportEvery time.Duration
	// Idle is the time each worker waits at the end of a frame.
	Idle time.Duration
}

type flags struct {
	mode        helpers.ModeValue
	sort        helpers.SortValue
	category    helpers.CategoryValue
	exclusive   bool
	frames      int
	threads     int
	hitchEvery  int
	interval    time.Duration
	formats     []string
	captureDir  string
	storage     bool
	inspect     bool
	inspectAddr string
	reportEvery time.Duration
	idle        time.Duration
}

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Profile a synthetic frame workload",
		Long: `Run a synthetic multi-threaded frame loop under the profiler.

Each frame the workload records nested scopes on a main producer and a set
of worker producers, then ends the frame. Hitch frames are captured to the
configured formats (chrome, otlp, pprof), the history table is flushed to
DuckDB when storage is enabled, and the inspector serves live views when
enabled. The text report is printed when the run ends.

Examples:
  frameprof run --frames 600
  frameprof run --mode SORT_BY_TIME --threads 8 --hitch-every 120
  frameprof run --inspect --inspect-addr 127.0.0.1:7070
  frameprof run --format chrome,pprof --capture-dir ./captures`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := helpers.LoadConfig(cmd, f.override(cmd))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := Options{ReportEvery: f.reportEvery, Idle: f.idle}
			if f.sort.Changed() {
				opts.Sort = &f.sort.Sort
			}
			return Run(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.Var(&f.mode, "mode", "profiler mode ("+strings.Join(profiler.ModeNames(), ", ")+")")
	fl.Var(&f.sort, "sort", "flat view ordering (time, calls, name)")
	fl.Var(&f.category, "category", "category filter (All, C++, Script, GPU)")
	fl.BoolVar(&f.exclusive, "exclusive", false, "report exclusive instead of inclusive time")
	fl.IntVarP(&f.frames, "frames", "n", 0, "stop after this many frames (0 runs until interrupted)")
	fl.IntVar(&f.threads, "threads", 0, "number of worker producers")
	fl.IntVar(&f.hitchEvery, "hitch-every", 0, "inject a slow frame every N frames")
	fl.DurationVar(&f.interval, "interval", 0, "minimum time between frames")
	fl.StringSliceVar(&f.formats, "format", nil, "capture formats (chrome, otlp, pprof)")
	fl.StringVar(&f.captureDir, "capture-dir", "", "directory receiving capture files")
	fl.BoolVar(&f.storage, "storage", false, "flush the history table to DuckDB")
	fl.BoolVar(&f.inspect, "inspect", false, "serve the inspector")
	fl.StringVar(&f.inspectAddr, "inspect-addr", "", "inspector listen address (implies --inspect)")
	fl.DurationVar(&f.reportEvery, "report-every", 0, "print the text report periodically")
	fl.DurationVar(&f.idle, "idle", time.Millisecond, "time each worker waits at the end of a frame")

	return cmd
}

// override applies the flags that were given on top of the loaded layers.
func (f *flags) override(cmd *cobra.Command) config.Override {
	changed := cmd.Flags().Changed
	return func(c *config.Config) error {
		if f.mode.Changed() {
			c.Profiler.Mode = f.mode.Mode.String()
		}
		if f.category.Changed() {
			c.Profiler.Category = f.category.Category.String()
		}
		if changed("exclusive") {
			c.Profiler.Exclusive = f.exclusive
		}
		if changed("interval") {
			c.Profiler.FrameInterval = f.interval
		}
		if changed("frames") {
			c.Workload.Frames = f.frames
		}
		if changed("threads") {
			c.Workload.Threads = f.threads
		}
		if changed("hitch-every") {
			c.Workload.HitchEvery = f.hitchEvery
		}
		if changed("format") {
			c.Capture.Formats = f.formats
		}
		if changed("capture-dir") {
			dir, err := filepath.Abs(f.captureDir)
			if err != nil {
				return fmt.Errorf("invalid capture dir: %w", err)
			}
			c.Capture.Dir = dir
		}
		if changed("storage") {
			c.Storage.Enabled = f.storage
		}
		if changed("inspect") {
			c.Inspect.Enabled = f.inspect
		}
		if changed("inspect-addr") {
			c.Inspect.Enabled = true
			c.Inspect.Addr = f.inspectAddr
		}
		return nil
	}
}

// Run profiles the workload described by cfg until it finishes or ctx is
// done, then prints the final report to out.
func Run(ctx context.Context, cfg *config.Config, opts Options, out io.Writer) error {
	logger := logging.New(cfg.Logging)
	runLog := logging.NewWithComponent(cfg.Logging, "run")

	popts, err := cfg.ProfilerOptions()
	if err != nil {
		return err
	}

	var (
		store   *storage.Storage
		session string
	)
	if cfg.Storage.Enabled {
		db, err := openStore(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer ierrors.DeferClose(runLog, db, "failed to close history database")

		store, err = storage.New(ctx, db, logger)
		if err != nil {
			return err
		}
		session = store.SessionID()
	}

	p, err := profiler.New(popts, logger)
	if err != nil {
		return fmt.Errorf("failed to create profiler: %w", err)
	}
	sinks := addSinks(p, cfg, session, logger)

	hitchDetection := cfg.Hitch.FrameMSLimit > 0 || cfg.Hitch.SpikeDetection
	runErr := drive(ctx, p, store, cfg, opts, out, hitchDetection, logger)

	closeCtx, cancelClose := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer cancelClose()
	if err := p.Close(closeCtx); err != nil {
		runLog.Warn().Err(err).Msg("Profiler did not drain cleanly")
	}
	if runErr != nil {
		return runErr
	}

	if err := writeReport(out, p, hitchDetection); err != nil {
		return err
	}

	for _, s := range sinks {
		for _, path := range s.Written() {
			runLog.Info().Str("file", path).Msg("Capture written")
		}
	}
	if store != nil {
		frames, samples := store.Counts()
		runLog.Info().
			Str("session", session).
			Int64("frames", frames).
			Int64("samples", samples).
			Msg("History stored")
	}
	return nil
}

// drive runs the workload, the history flusher, the inspector and the
// periodic report until the workload finishes or ctx is done.
func drive(ctx context.Context, p *profiler.Profiler, store *storage.Storage, cfg *config.Config,
	opts Options, out io.Writer, hitchDetection bool, logger zerolog.Logger) error {
	if opts.Sort != nil {
		if err := p.SetSortMode(*opts.Sort); err != nil {
			return err
		}
	}

	w, err := workload.New(p, workload.Config{
		Threads:       cfg.Workload.Threads,
		Scopes:        cfg.Workload.Scopes,
		Depth:         cfg.Workload.Depth,
		HitchEvery:    cfg.Workload.HitchEvery,
		HitchDuration: cfg.Workload.HitchDuration,
		LeafWork:      cfg.Workload.LeafWork,
		Idle:          opts.Idle,
	}, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return w.Run(gctx, p, cfg.Workload.Frames, cfg.Profiler.FrameInterval)
	})
	if store != nil {
		g.Go(func() error {
			return store.Run(gctx, p, cfg.Storage.FlushInterval)
		})
	}
	if cfg.Inspect.Enabled {
		srv := inspect.New(inspect.Config{
			Addr:           cfg.Inspect.Addr,
			PushInterval:   cfg.Inspect.PushInterval,
			HitchDetection: hitchDetection,
			Logger:         logger,
		}, p)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	if opts.ReportEvery > 0 {
		g.Go(func() error {
			return reportLoop(gctx, p, out, opts.ReportEvery, hitchDetection)
		})
	}

	return g.Wait()
}

type writtenSink interface {
	profiler.CaptureSink
	Written() []string
}

// addSinks attaches one capture sink per configured format.
func addSinks(p *profiler.Profiler, cfg *config.Config, session string, logger zerolog.Logger) []writtenSink {
	var sinks []writtenSink
	for _, format := range cfg.Capture.Formats {
		var s writtenSink
		switch format {
		case config.FormatChrome:
			s = chrometrace.New(chrometrace.Config{
				Dir:       cfg.Capture.Dir,
				Retention: cfg.Capture.Retention,
				Session:   session,
			}, logger)
		case config.FormatOTLP:
			s = otlpexport.NewSink(otlpexport.Config{
				Dir:     cfg.Capture.Dir,
				Session: session,
			}, p.Clock(), logger)
		case config.FormatPPROF:
			s = pprofexport.NewSink(cfg.Capture.Dir, "", logger)
		default:
			continue
		}
		p.AddSink(s)
		sinks = append(sinks, s)
	}
	return sinks
}

func openStore(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	db, err := duckdb.OpenDB(duckdb.DSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return db, nil
}

func reportLoop(ctx context.Context, p *profiler.Profiler, out io.Writer, every time.Duration, hitch bool) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := writeReport(out, p, hitch); err != nil {
				return err
			}
		}
	}
}

func writeReport(out io.Writer, p *profiler.Profiler, hitch bool) error {
	lines := report.Lines(p.Statistics(), p.SnapshotHierarchy(), report.Options{HitchDetection: hitch})
	return report.Render(out, lines)
}
