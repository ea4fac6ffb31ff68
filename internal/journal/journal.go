package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/socketlink/internal/metrics"
	"github.com/rickgao/socketlink/internal/router"
)

// Journal consumes envelopes from the bus and writes them to the events table.
type Journal struct {
	cfg     Config
	table   string // sanitized identifier
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Input filled by the bus subscription
	input       *router.GrowableBuffer[router.Envelope]
	unsubscribe func()

	db DB

	// Batching
	batch   []eventRow
	batchMu sync.Mutex

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	consumerWG sync.WaitGroup
	flusherWG  sync.WaitGroup

	stats Stats
}

// New creates a Journal. mt may be nil.
func New(cfg Config, db DB, mt *metrics.Metrics, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}

	return &Journal{
		cfg:     cfg,
		table:   pgx.Identifier{cfg.Table}.Sanitize(),
		logger:  logger.With("component", "journal", "table", cfg.Table),
		metrics: mt,
		input:   router.NewGrowableBuffer[router.Envelope](cfg.BufferSize),
		db:      db,
		batch:   make([]eventRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the events table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			message_id  TEXT PRIMARY KEY,
			event       TEXT NOT NULL,
			data        JSONB,
			target      TEXT,
			identifier  TEXT,
			received_at TIMESTAMPTZ NOT NULL
		)`, j.table)
	if _, err := j.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}
	return nil
}

// Attach subscribes the journal to every event on bus.
func (j *Journal) Attach(bus router.Bus) {
	j.unsubscribe = bus.SubscribeAll(j.Record)
}

// Record queues an envelope for the next flush. Never blocks.
func (j *Journal) Record(env router.Envelope) {
	if !j.input.Send(env) {
		j.logger.Debug("journal stopped, dropping event", "event", env.Event)
	}
}

// Start begins consuming envelopes and writing to the database.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	// Consumer goroutine
	j.consumerWG.Add(1)
	go j.consumeLoop()

	// Flush ticker goroutine
	j.flusherWG.Add(1)
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued envelopes, writes them and shuts down.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")

	if j.unsubscribe != nil {
		j.unsubscribe()
	}
	j.input.Close()

	// The consumer exits once the input is drained.
	done := make(chan struct{})
	go func() {
		j.consumerWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out", "pending", j.input.Len())
		err = ctx.Err()
	}

	if j.cancel != nil {
		j.cancel()
	}
	j.flusherWG.Wait()

	// Final flush
	j.flush(ctx)
	j.logger.Info("journal stopped", "stats", j.Stats())
	return err
}

// Stats returns current metrics.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.stats
}

// consumeLoop moves envelopes from the input into the batch.
func (j *Journal) consumeLoop() {
	defer j.consumerWG.Done()

	for {
		envs := j.input.ReceiveBatch(j.cfg.BatchSize)
		if envs == nil {
			return
		}
		for _, env := range envs {
			j.handleEnvelope(env)
		}
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop() {
	defer j.flusherWG.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.flush(j.ctx)
		}
	}
}

// handleEnvelope transforms and adds an envelope to the batch.
func (j *Journal) handleEnvelope(env router.Envelope) {
	row := transform(env)

	j.batchMu.Lock()
	j.batch = append(j.batch, row)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush(j.ctx)
	}
}

// transform converts an Envelope to an eventRow.
func transform(env router.Envelope) eventRow {
	row := eventRow{
		MessageID:  env.MessageID,
		Event:      env.Event,
		Data:       env.Data,
		ReceivedAt: env.ReceivedAt,
	}
	if row.MessageID == "" {
		row.MessageID = uuid.NewString()
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now()
	}
	if env.Intent != nil {
		target, identifier := env.Intent.Target, env.Intent.Identifier
		row.Target = &target
		row.Identifier = &identifier
	}
	return row
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]eventRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.metrics.JournalFlushError()
		j.batchMu.Lock()
		j.stats.Errors++
		j.batchMu.Unlock()
		return
	}

	inserted := len(batch) - conflicts
	j.metrics.JournalRows(inserted, conflicts)
	j.batchMu.Lock()
	j.stats.Inserts += int64(inserted)
	j.stats.Conflicts += int64(conflicts)
	j.stats.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, event, data, target, identifier, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id) DO NOTHING
	`, j.table)

	batch := &pgx.Batch{}
	for _, r := range rows {
		var data any
		if len(r.Data) > 0 {
			data = string(r.Data)
		}
		batch.Queue(query, r.MessageID, r.Event, data, r.Target, r.Identifier, r.ReceivedAt)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
