// Package storage persists the profiler history table to DuckDB.
//
// Each process run is a session identified by a UUID. Frames land in
// history_frames (frame totals) and history_samples (one row per name and
// frame, including the Missing column for names first seen after the
// table's columns were fixed).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/frameprof/internal/duckdb"
	ierrors "github.com/coral-mesh/frameprof/internal/errors"
	"github.com/coral-mesh/frameprof/internal/logging"
	"github.com/coral-mesh/frameprof/internal/retry"
	"github.com/coral-mesh/frameprof/pkg/profiler/history"
)

// Storage writes history table exports for one session.
type Storage struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.Mutex

	session   string
	startedAt time.Time
	retry     retry.Policy

	frames  int64
	samples int64
}

// New initializes the schema and opens a new session.
func New(ctx context.Context, db *sql.DB, logger zerolog.Logger) (*Storage, error) {
	s := &Storage{
		db:        db,
		logger:    logging.Component(logger, "history_storage"),
		session:   uuid.NewString(),
		startedAt: time.Now().UTC(),
	}
	s.retry = retry.Storage().
		When(duckdb.IsTransactionConflict).
		Notify(func(attempt int, wait time.Duration, err error) {
			s.logger.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("Retrying history write")
		})

	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	host, _ := os.Hostname()
	_, err := db.ExecContext(ctx, `
		INSERT INTO history_sessions (session_id, started_at, host, pid)
		VALUES (?, ?, ?, ?)
	`, s.session, s.startedAt, host, os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("failed to record session: %w", err)
	}

	s.logger.Info().Str("session", s.session).Msg("History storage session started")
	return s, nil
}

// initSchema creates the history tables.
func (s *Storage) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS history_sessions (
			session_id TEXT      PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			host       TEXT,
			pid        INTEGER
		);

		CREATE TABLE IF NOT EXISTS history_frames (
			session_id   TEXT      NOT NULL,
			frame        BIGINT    NOT NULL,
			total_ms     DOUBLE    NOT NULL,
			profiling_ms DOUBLE    NOT NULL,
			recorded_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, frame)
		);

		CREATE TABLE IF NOT EXISTS history_samples (
			session_id TEXT   NOT NULL,
			frame      BIGINT NOT NULL,
			name       TEXT   NOT NULL,
			ms         DOUBLE NOT NULL,
			calls      BIGINT NOT NULL,
			PRIMARY KEY (session_id, frame, name)
		);
		CREATE INDEX IF NOT EXISTS idx_history_samples_name
			ON history_samples (name);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SessionID returns the UUID of this run.
func (s *Storage) SessionID() string { return s.session }

// Counts returns how many frames and samples were stored.
func (s *Storage) Counts() (frames, samples int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.samples
}

// Store writes an export in a single transaction, retrying write conflicts.
func (s *Storage) Store(ctx context.Context, exp history.Export) error {
	if len(exp.Rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	columns := append(exp.Names(), history.ColumnMissing)
	width := len(columns)
	recordedAt := time.Now().UTC()

	var frames, samples int64
	err := s.retry.Do(ctx, func() error {
		frames, samples = 0, 0
		return s.storeTx(ctx, exp, columns, width, recordedAt, &frames, &samples)
	})
	if err != nil {
		return fmt.Errorf("failed to store history rows: %w", err)
	}

	s.frames += frames
	s.samples += samples
	s.logger.Debug().
		Int64("frames", frames).
		Int64("samples", samples).
		Msg("Stored history rows")
	return nil
}

func (s *Storage) storeTx(ctx context.Context, exp history.Export, columns []string, width int,
	recordedAt time.Time, frames, samples *int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer ierrors.DeferRollback(s.logger, tx)

	frameStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_frames (session_id, frame, total_ms, profiling_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, frame) DO UPDATE SET
			total_ms = EXCLUDED.total_ms,
			profiling_ms = EXCLUDED.profiling_ms
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare frame insert: %w", err)
	}
	defer ierrors.DeferClose(s.logger, frameStmt, "failed to close frame statement")

	sampleStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_samples (session_id, frame, name, ms, calls)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, frame, name) DO UPDATE SET
			ms = EXCLUDED.ms,
			calls = EXCLUDED.calls
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer ierrors.DeferClose(s.logger, sampleStmt, "failed to close sample statement")

	for i, row := range exp.Rows {
		frame := int64(exp.Frames[i])
		if _, err := frameStmt.ExecContext(ctx, s.session, frame, row[0], row[1], recordedAt); err != nil {
			return fmt.Errorf("failed to insert frame %d: %w", frame, err)
		}
		*frames++

		for c, name := range columns {
			ms := row[2+c]
			calls := int64(row[2+width+c])
			if calls == 0 && ms == 0 {
				continue
			}
			if _, err := sampleStmt.ExecContext(ctx, s.session, frame, name, ms, calls); err != nil {
				return fmt.Errorf("failed to insert sample %q of frame %d: %w", name, frame, err)
			}
			*samples++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
