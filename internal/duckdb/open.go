package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/url"
	"strings"

	duckdbDriver "github.com/marcboeker/go-duckdb"
)

// OpenDB opens a DuckDB database. Each boot query runs on every pooled
// connection as it is created; a failing boot query fails the connection.
func OpenDB(dsn string, bootQueries ...string) (*sql.DB, error) {
	connector, err := duckdbDriver.NewConnector(dsn, func(execer driver.ExecerContext) error {
		ctx := context.Background()
		for _, query := range bootQueries {
			if _, err := execer.ExecContext(ctx, query, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sql.OpenDB(connector), nil
}

// DSN builds a data source name for path. An empty path is an in-memory
// database. readOnly opens the file with access_mode=READ_ONLY so history
// queries can run next to a live writer process.
func DSN(path string, readOnly bool) string {
	if path == "" || path == ":memory:" {
		return ""
	}
	if !readOnly {
		return path
	}

	sep := strings.IndexByte(path, '?')
	base, query := path, ""
	if sep >= 0 {
		base, query = path[:sep], path[sep+1:]
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return path
	}
	params.Set("access_mode", "READ_ONLY")
	return base + "?" + params.Encode()
}

// IsTransactionConflict reports whether err is a DuckDB write conflict that
// is worth retrying.
func IsTransactionConflict(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "conflict") ||
		strings.Contains(msg, "serialization") ||
		strings.Contains(msg, "TransactionContext Error") ||
		(strings.Contains(msg, "PRIMARY KEY") && strings.Contains(msg, "constraint violated"))
}
