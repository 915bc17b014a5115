package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coral-mesh/frameprof/internal/duckdb"
)

// Session summarizes one stored run.
type Session struct {
	ID         string
	StartedAt  time.Time
	Host       string
	Frames     int64
	FirstFrame int64
	LastFrame  int64
}

// Sample is one stored (frame, name) cost.
type Sample struct {
	Frame int64
	Name  string
	MS    float64
	Calls int64
}

// NameSummary aggregates a name across the frames of a query.
type NameSummary struct {
	Name    string
	Frames  int64
	TotalMS float64
	AvgMS   float64
	MaxMS   float64
	Calls   int64
}

// Query selects stored samples. Empty fields are wildcards.
type Query struct {
	Session string
	Names   []string
	From    *int64
	To      *int64
	Limit   int
}

func (q Query) apply(b *duckdb.Builder) *duckdb.Builder {
	names := make([]any, len(q.Names))
	for i, n := range q.Names {
		names[i] = n
	}
	return b.Eq("session_id", q.Session).
		In("name", names...).
		Range("frame", q.From, q.To)
}

// Reader queries stored history. It works on read-only connections.
type Reader struct {
	db *sql.DB
}

// NewReader wraps db.
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Reader returns a reader over the storage's database.
func (s *Storage) Reader() *Reader {
	return NewReader(s.db)
}

// Sessions lists stored sessions, newest first.
func (r *Reader) Sessions(ctx context.Context, since time.Time, limit int) ([]Session, error) {
	q, args, err := duckdb.NewQueryBuilder("history_sessions s LEFT JOIN history_frames f ON f.session_id = s.session_id").
		Select("s.session_id", "s.started_at", "COALESCE(s.host, '')",
			"COUNT(f.frame)", "MIN(f.frame)", "MAX(f.frame)").
		TimeColumn("s.started_at").
		Since(since).
		GroupBy("s.session_id", "s.started_at", "s.host").
		OrderBy("-s.started_at").
		Limit(limit).
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		var s Session
		var first, last sql.NullInt64
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.Host, &s.Frames, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.FirstFrame, s.LastFrame = first.Int64, last.Int64
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return out, nil
}

// Samples returns stored samples ordered by frame then name.
func (r *Reader) Samples(ctx context.Context, query Query) ([]Sample, error) {
	q, args, err := query.apply(duckdb.NewQueryBuilder("history_samples").
		Select("frame", "name", "ms", "calls")).
		OrderBy("frame", "name").
		Limit(query.Limit).
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Frame, &s.Name, &s.MS, &s.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating samples: %w", err)
	}
	return out, nil
}

// Summary aggregates samples per name, most expensive first.
func (r *Reader) Summary(ctx context.Context, query Query) ([]NameSummary, error) {
	q, args, err := query.apply(duckdb.NewQueryBuilder("history_samples").
		Select("name", "COUNT(*)", "SUM(ms)", "AVG(ms)", "MAX(ms)", "CAST(SUM(calls) AS BIGINT)")).
		GroupBy("name").
		OrderBy("-SUM(ms)", "name").
		Limit(query.Limit).
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []NameSummary
	for rows.Next() {
		var s NameSummary
		if err := rows.Scan(&s.Name, &s.Frames, &s.TotalMS, &s.AvgMS, &s.MaxMS, &s.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary: %w", err)
	}
	return out, nil
}
