package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/rickgao/basket-router/internal/connection"
)

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS order_bindings (
		order_id      BIGINT PRIMARY KEY,
		connection_id TEXT NOT NULL,
		bound_at      BIGINT NOT NULL
	)`

const upsertSQL = `
	INSERT INTO order_bindings (order_id, connection_id, bound_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (order_id) DO UPDATE
	SET connection_id = EXCLUDED.connection_id, bound_at = EXCLUDED.bound_at`

// Config holds journal batching settings.
type Config struct {
	BatchSize     int           // Default: 100
	FlushInterval time.Duration // Default: 1s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// Stats contains journal counters.
type Stats struct {
	Recorded int64
	Written  int64
	Flushes  int64
	Errors   int64
}

// binding is one order_bindings row.
type binding struct {
	OrderID      int64
	ConnectionID string
	BoundAt      int64 // Unix microseconds
}

// Journal persists order-to-connection bindings in batches so a restarted
// basket can still route cancels to the venue that owns the order.
type Journal struct {
	cfg    Config
	logger *logrus.Entry
	db     DB

	// Batching
	batch       []binding
	batchMu     sync.Mutex
	flushTicker *time.Ticker
	stats       Stats

	// flushMu is held from taking a batch until it is written or requeued,
	// and across Truncate, so no pre-truncate row lands after the TRUNCATE.
	flushMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Journal over db.
func New(cfg Config, db DB, logger *logrus.Entry) *Journal {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	return &Journal{
		cfg:    cfg,
		db:     db,
		logger: logger.WithField("component", "journal"),
		batch:  make([]binding, 0, cfg.BatchSize),
		ctx:    context.Background(),
	}
}

// EnsureSchema creates the bindings table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create order_bindings: %w", err)
	}
	return nil
}

// Start begins the periodic flush.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.flushTicker = time.NewTicker(j.cfg.FlushInterval)

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.WithFields(logrus.Fields{
		"batch_size":     j.cfg.BatchSize,
		"flush_interval": j.cfg.FlushInterval,
	}).Info("order journal started")
	return nil
}

// Stop halts the periodic flush and writes whatever is still batched.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping order journal")

	if j.cancel != nil {
		j.cancel()
	}
	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("order journal stop timed out")
	}

	// Final flush
	return j.flush(ctx)
}

// Record queues a binding. It never blocks on the database.
func (j *Journal) Record(orderID int64, conn connection.ID) {
	j.batchMu.Lock()
	j.batch = append(j.batch, binding{
		OrderID:      orderID,
		ConnectionID: string(conn),
		BoundAt:      time.Now().UnixMicro(),
	})
	j.stats.Recorded++
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			j.flush(j.ctx)
		}()
	}
}

// Load returns every stored binding.
func (j *Journal) Load(ctx context.Context) (map[int64]connection.ID, error) {
	rows, err := j.db.Query(ctx, `SELECT order_id, connection_id FROM order_bindings`)
	if err != nil {
		return nil, fmt.Errorf("query order_bindings: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]connection.ID)
	for rows.Next() {
		var (
			orderID int64
			connID  string
		)
		if err := rows.Scan(&orderID, &connID); err != nil {
			return nil, fmt.Errorf("scan order binding: %w", err)
		}
		out[orderID] = connection.ID(connID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read order_bindings: %w", err)
	}
	return out, nil
}

// Truncate drops every binding, stored or still batched. It waits for a
// flush in progress to finish first.
func (j *Journal) Truncate(ctx context.Context) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.batchMu.Lock()
	j.batch = j.batch[:0]
	j.batchMu.Unlock()

	if _, err := j.db.Exec(ctx, `TRUNCATE order_bindings`); err != nil {
		return fmt.Errorf("truncate order_bindings: %w", err)
	}
	j.logger.Info("order journal truncated")
	return nil
}

// Stats returns current counters.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.stats
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.flushTicker.C:
			j.flush(j.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]binding, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	if err := j.batchUpsert(ctx, batch); err != nil {
		j.logger.WithFields(logrus.Fields{"error": err, "count": len(batch)}).Error("batch upsert failed")

		// Put the rows back in front so the next flush retries them.
		j.batchMu.Lock()
		j.batch = append(batch, j.batch...)
		j.stats.Errors++
		j.batchMu.Unlock()
		return err
	}

	j.batchMu.Lock()
	j.stats.Written += int64(len(batch))
	j.stats.Flushes++
	j.batchMu.Unlock()

	j.logger.WithFields(logrus.Fields{
		"count":    len(batch),
		"duration": time.Since(start),
	}).Debug("flushed order bindings")
	return nil
}

// batchUpsert writes rows using pgx.Batch.
func (j *Journal) batchUpsert(ctx context.Context, rows []binding) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertSQL, r.OrderID, r.ConnectionID, r.BoundAt)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
