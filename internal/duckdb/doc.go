// Package duckdb opens DuckDB databases and builds the SELECT queries used
// to read stored profiler history back.
//
//	q, args, err := duckdb.NewQueryBuilder("history_samples").
//	    Select("frame", "name", "ms", "calls").
//	    Eq("session_id", session).
//	    Range("frame", from, to).
//	    OrderBy("frame", "name").
//	    Limit(100).
//	    Build()
//
// The builder only generates SQL; callers execute it. Empty string filters
// and nil range bounds are skipped so optional CLI flags map directly onto
// builder calls.
package duckdb
