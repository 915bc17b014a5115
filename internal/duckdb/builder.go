package duckdb

import (
	"fmt"
	"strings"
	"time"
)

// Builder constructs SELECT queries with a fluent API.
type Builder struct {
	table      string
	columns    []string
	where      []whereClause
	groupBy    []string
	orderBy    []string
	limit      int
	timeColumn string
}

type whereClause struct {
	expr string
	args []any
}

// NewQueryBuilder creates a new query builder for the specified table.
func NewQueryBuilder(table string) *Builder {
	return &Builder{table: table, timeColumn: "recorded_at"}
}

// Select specifies the columns to retrieve. Aggregates and aliases are
// passed through verbatim.
func (b *Builder) Select(columns ...string) *Builder {
	b.columns = append(b.columns, columns...)
	return b
}

// TimeColumn sets the column used by Since.
func (b *Builder) TimeColumn(name string) *Builder {
	b.timeColumn = name
	return b
}

// Since keeps rows whose time column is at or after t. A zero t is skipped.
func (b *Builder) Since(t time.Time) *Builder {
	if t.IsZero() {
		return b
	}
	return b.Where(b.timeColumn+" >= ?", t)
}

// Where adds a raw condition. Conditions are combined with AND.
func (b *Builder) Where(expr string, args ...any) *Builder {
	b.where = append(b.where, whereClause{expr: expr, args: args})
	return b
}

// Eq adds column = value. Empty strings are skipped (wildcard).
func (b *Builder) Eq(column string, value any) *Builder {
	if s, ok := value.(string); ok && s == "" {
		return b
	}
	return b.Where(column+" = ?", value)
}

// In adds column IN (...). An empty value list is skipped.
func (b *Builder) In(column string, values ...any) *Builder {
	if len(values) == 0 {
		return b
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return b.Where(fmt.Sprintf("%s IN (%s)", column, placeholders), values...)
}

// Range bounds column inclusively. Nil bounds are skipped.
func (b *Builder) Range(column string, from, to *int64) *Builder {
	switch {
	case from != nil && to != nil:
		return b.Where(column+" BETWEEN ? AND ?", *from, *to)
	case from != nil:
		return b.Where(column+" >= ?", *from)
	case to != nil:
		return b.Where(column+" <= ?", *to)
	}
	return b
}

// GroupBy adds GROUP BY columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBy = append(b.groupBy, columns...)
	return b
}

// OrderBy adds ORDER BY columns; a "-" prefix sorts descending.
func (b *Builder) OrderBy(columns ...string) *Builder {
	for _, col := range columns {
		if rest, ok := strings.CutPrefix(col, "-"); ok {
			col = rest + " DESC"
		}
		b.orderBy = append(b.orderBy, col)
	}
	return b
}

// Limit sets the maximum number of rows. Zero means no limit.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Build returns the query and its positional arguments.
func (b *Builder) Build() (string, []any, error) {
	if b.table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	var q strings.Builder
	var args []any

	q.WriteString("SELECT ")
	if len(b.columns) == 0 {
		q.WriteString("*")
	} else {
		q.WriteString(strings.Join(b.columns, ", "))
	}
	q.WriteString(" FROM ")
	q.WriteString(b.table)

	if len(b.where) > 0 {
		exprs := make([]string, len(b.where))
		for i, w := range b.where {
			exprs[i] = w.expr
			args = append(args, w.args...)
		}
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(exprs, " AND "))
	}
	if len(b.groupBy) > 0 {
		q.WriteString(" GROUP BY ")
		q.WriteString(strings.Join(b.groupBy, ", "))
	}
	if len(b.orderBy) > 0 {
		q.WriteString(" ORDER BY ")
		q.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}

	return q.String(), args, nil
}
