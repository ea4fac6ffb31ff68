package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Config holds configuration for the journal.
type Config struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // initial input queue capacity
}

// DefaultConfig returns default journal configuration.
func DefaultConfig() Config {
	return Config{
		Table:         "socket_events",
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats contains journal metrics.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// eventRow is one journal row.
type eventRow struct {
	MessageID  string
	Event      string
	Data       json.RawMessage // nil stored as SQL NULL
	Target     *string
	Identifier *string
	ReceivedAt time.Time
}
