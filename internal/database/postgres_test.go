package database

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func tracerAt(buf *bytes.Buffer, threshold time.Duration, steps ...time.Duration) *SlowQueryTracer {
	tr := NewSlowQueryTracer(threshold, zerolog.New(buf))
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	tr.now = func() time.Time {
		if i < len(steps) {
			clock = clock.Add(steps[i])
			i++
		}
		return clock
	}
	return tr
}

func trace(tr *SlowQueryTracer, sql string, err error) {
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: sql})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 3"), Err: err})
}

func TestSlowQueryTracerLogsOnlySlowStatements(t *testing.T) {
	var buf bytes.Buffer
	tr := tracerAt(&buf, 500*time.Millisecond, 0, 100*time.Millisecond)
	trace(tr, "SELECT 1", nil)
	assert.Empty(t, buf.String())

	tr = tracerAt(&buf, 500*time.Millisecond, 0, 2*time.Second)
	trace(tr, "UPDATE processing_jobs\n\t SET status = 'failed'\n WHERE id = $1", nil)
	assert.Contains(t, buf.String(), "slow query")
	assert.Contains(t, buf.String(), `"sql":"UPDATE processing_jobs SET status = 'failed' WHERE id = $1"`)
	assert.Contains(t, buf.String(), `"rows":3`)
}

func TestSlowQueryTracerLogsFailuresButNotNoRows(t *testing.T) {
	var buf bytes.Buffer
	tr := tracerAt(&buf, time.Minute)

	trace(tr, "SELECT 1", pgx.ErrNoRows)
	assert.Empty(t, buf.String())

	trace(tr, "SELECT 1", errors.New("deadlock detected"))
	assert.Contains(t, buf.String(), "query failed")
	assert.Contains(t, buf.String(), "deadlock detected")
}

func TestCompactSQL(t *testing.T) {
	assert.Equal(t, "SELECT a, b FROM t", compactSQL("\n  SELECT a,\n\tb\n  FROM t\n"))
}
