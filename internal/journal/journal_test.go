package journal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/socketlink/internal/metrics"
	"github.com/rickgao/socketlink/internal/protocol"
	"github.com/rickgao/socketlink/internal/router"
)

// fakeDB records batches and reports a conflict for repeated message ids.
type fakeDB struct {
	mu      sync.Mutex
	execs   []string
	rows    [][]any
	seen    map[string]bool
	sendErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[string]bool)}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := &fakeResults{err: f.sendErr}
	for _, q := range b.QueuedQueries {
		f.rows = append(f.rows, q.Arguments)
		id := q.Arguments[0].(string)
		if f.seen[id] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		f.seen[id] = true
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (f *fakeDB) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
	i    int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[r.i]
	r.i++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func TestTransform(t *testing.T) {
	receivedAt := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	row := transform(router.Envelope{
		Event:      "job.created",
		Data:       json.RawMessage(`{"n":1}`),
		Intent:     &protocol.Intent{Target: "node", Identifier: "n1"},
		MessageID:  "m-1",
		ReceivedAt: receivedAt,
	})

	require.Equal(t, "m-1", row.MessageID)
	require.Equal(t, "job.created", row.Event)
	require.JSONEq(t, `{"n":1}`, string(row.Data))
	require.Equal(t, "node", *row.Target)
	require.Equal(t, "n1", *row.Identifier)
	require.Equal(t, receivedAt, row.ReceivedAt)
}

func TestTransform_Defaults(t *testing.T) {
	row := transform(router.Envelope{Event: "bare"})

	require.Len(t, row.MessageID, 36) // generated UUID
	require.False(t, row.ReceivedAt.IsZero())
	require.Nil(t, row.Target)
	require.Nil(t, row.Identifier)
}

func TestJournal_EnsureSchema(t *testing.T) {
	db := newFakeDB()
	j := New(Config{Table: "events"}, db, nil, nil)

	require.NoError(t, j.EnsureSchema(context.Background()))
	require.Len(t, db.execs, 1)
	require.Contains(t, db.execs[0], `CREATE TABLE IF NOT EXISTS "events"`)
}

func TestJournal_FlushCountsConflicts(t *testing.T) {
	db := newFakeDB()
	reg := prometheus.NewRegistry()
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, metrics.New("test", reg), nil)

	j.handleEnvelope(router.Envelope{Event: "a", MessageID: "1"})
	j.handleEnvelope(router.Envelope{Event: "b", MessageID: "2"})
	j.handleEnvelope(router.Envelope{Event: "a", MessageID: "1"})
	j.flush(context.Background())

	stats := j.Stats()
	require.Equal(t, int64(2), stats.Inserts)
	require.Equal(t, int64(1), stats.Conflicts)
	require.Equal(t, int64(1), stats.Flushes)
	require.Equal(t, 3, db.rowCount())

	// An empty batch is not a flush.
	j.flush(context.Background())
	require.Equal(t, int64(1), j.Stats().Flushes)
}

func TestJournal_FlushError(t *testing.T) {
	db := newFakeDB()
	db.sendErr = errors.New("connection reset")
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil, nil)

	j.handleEnvelope(router.Envelope{Event: "a", MessageID: "1"})
	j.flush(context.Background())

	stats := j.Stats()
	require.Equal(t, int64(1), stats.Errors)
	require.Zero(t, stats.Inserts)
}

func TestJournal_NullData(t *testing.T) {
	db := newFakeDB()
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil, nil)

	j.handleEnvelope(router.Envelope{Event: "no-data", MessageID: "1"})
	j.handleEnvelope(router.Envelope{Event: "data", MessageID: "2", Data: json.RawMessage(`[1,2]`)})
	j.flush(context.Background())

	require.Nil(t, db.rows[0][2])
	require.Equal(t, "[1,2]", db.rows[1][2])
}

func TestJournal_Lifecycle(t *testing.T) {
	db := newFakeDB()
	bus := router.NewBus(router.DefaultBusConfig(), nil)
	require.NoError(t, bus.Start(context.Background()))

	j := New(Config{BatchSize: 2, FlushInterval: 20 * time.Millisecond}, db, nil, nil)
	j.Attach(bus)
	require.NoError(t, j.Start(context.Background()))

	for _, id := range []string{"1", "2", "3"} {
		require.True(t, bus.Publish(router.Envelope{Event: "tick", MessageID: id}))
	}

	// Two rows flush on size, the third on the ticker.
	require.Eventually(t, func() bool { return db.rowCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, j.Stop(ctx))
	require.NoError(t, bus.Stop(ctx))
	require.Equal(t, int64(3), j.Stats().Inserts)
}

func TestJournal_StopFlushesPending(t *testing.T) {
	db := newFakeDB()
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil, nil)
	require.NoError(t, j.Start(context.Background()))

	j.Record(router.Envelope{Event: "late", MessageID: "x"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, j.Stop(ctx))
	require.Equal(t, 1, db.rowCount())

	// Records after Stop are dropped.
	j.Record(router.Envelope{Event: "after"})
	require.Equal(t, 1, db.rowCount())
}

func TestNew_SanitizesTable(t *testing.T) {
	j := New(Config{Table: `evil"; DROP TABLE x; --`}, newFakeDB(), nil, nil)
	require.True(t, strings.HasPrefix(j.table, `"evil""`))
}
