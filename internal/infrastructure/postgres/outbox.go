package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
	"github.com/pbmlabs/rxadjudicator/internal/infrastructure/redpanda"
)

// ChangeEvent is the audit record emitted for every persisted claim decision:
// the table touched, the operation, and the after-image. Decisions are
// insert-only, so there is never a before-image.
type ChangeEvent struct {
	TableName string          `json:"table_name"`
	Operation string          `json:"operation"`
	RowID     int64           `json:"row_id"`
	After     json.RawMessage `json:"after"`
	At        time.Time       `json:"at"`
}

// OutboxEntry is a change event queued for publication.
type OutboxEntry struct {
	ID          int64
	Topic       string
	Key         string
	Payload     json.RawMessage
	CreatedAt   time.Time
	ProcessedAt *time.Time
	RetryCount  int
	LastError   *string
}

// writeAuditEvent queues the decision's change event in the same transaction
// as the insert, so the audit trail can never miss a committed decision.
func writeAuditEvent(ctx context.Context, tx pgx.Tx, d *claim.Decision) error {
	after, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	event := ChangeEvent{
		TableName: "claims",
		Operation: "INSERT",
		RowID:     d.ClaimID,
		After:     after,
		At:        d.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	const query = `
		INSERT INTO claim_audit_outbox (topic, kafka_key, payload)
		VALUES ($1, $2, $3)
	`
	_, err = tx.Exec(ctx, query, redpanda.TopicClaimAudit, strconv.FormatInt(d.ClaimID, 10), payload)
	if err != nil {
		return fmt.Errorf("%w: write outbox entry: %v", claim.ErrStoreUnavailable, err)
	}
	return nil
}

// OutboxConfig holds configuration for the outbox relay.
type OutboxConfig struct {
	// BatchSize is the number of entries to process per batch
	BatchSize int
	// PollInterval is how often to poll for new entries
	PollInterval time.Duration
	// MaxRetries is the maximum retries before moving to dead letter
	MaxRetries int
}

// DefaultOutboxConfig returns sensible defaults
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:    100,
		PollInterval: 100 * time.Millisecond,
		MaxRetries:   5,
	}
}

// OutboxPublisher defines the interface for publishing outbox entries
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Outbox relays committed change events to the audit stream.
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutbox creates a new outbox relay.
func NewOutbox(pool *pgxpool.Pool, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("claim-audit-outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins polling and processing outbox entries.
func (o *Outbox) Start() {
	go o.processLoop()
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop gracefully stops the relay.
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Outbox) processLoop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.processBatch()
		}
	}
}

// advisoryLockID serializes relay instances so each entry publishes once.
// Taken as a transaction-level lock, so it releases with the batch.
const advisoryLockID = int64(424211001)

// querier is the subset of pgx.Tx the relay needs. Split out so entry
// processing can be exercised without a live database.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// processBatch relays one batch inside a single transaction. The row locks
// from FOR UPDATE SKIP LOCKED are held until commit, covering the whole
// publish and mark sequence.
func (o *Outbox) processBatch() {
	ctx, span := o.tracer.Start(o.ctx, "outbox_process_batch")
	defer span.End()

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		o.logger.Error("failed to begin outbox batch", zap.Error(err))
		span.RecordError(err)
		return
	}
	defer tx.Rollback(ctx)

	var acquired bool
	err = tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", advisoryLockID).Scan(&acquired)
	if err != nil || !acquired {
		return // Another relay has the lock
	}

	entries, err := o.fetchUnprocessed(ctx, tx)
	if err != nil {
		o.logger.Error("failed to fetch outbox entries", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(entries) == 0 {
		return
	}

	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.processEntry(ctx, tx, entry); err != nil {
			o.logger.Error("failed to process outbox entry",
				zap.Int64("id", entry.ID),
				zap.String("key", entry.Key),
				zap.Error(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		o.logger.Error("failed to commit outbox batch", zap.Error(err))
		span.RecordError(err)
	}
}

func (o *Outbox) fetchUnprocessed(ctx context.Context, db querier) ([]*OutboxEntry, error) {
	const query = `
		SELECT id, topic, kafka_key, payload, created_at, retry_count, last_error
		FROM claim_audit_outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := db.Query(ctx, query, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.Topic, &entry.Key, &entry.Payload,
			&entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (o *Outbox) processEntry(ctx context.Context, db querier, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_process_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("topic", entry.Topic),
		))
	defer span.End()

	err := o.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload)
	if err != nil {
		const updateQuery = `
			UPDATE claim_audit_outbox
			SET retry_count = retry_count + 1, last_error = $1
			WHERE id = $2
		`
		errStr := err.Error()
		if _, updateErr := db.Exec(ctx, updateQuery, errStr, entry.ID); updateErr != nil {
			o.logger.Error("failed to update retry count", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish failed: %w", err)
	}

	if _, err := db.Exec(ctx,
		"UPDATE claim_audit_outbox SET processed_at = NOW() WHERE id = $1", entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark processed: %w", err)
	}

	o.logger.Debug("outbox entry relayed",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.Topic))

	return nil
}

// MoveToDeadLetter publishes entries that exceeded max retries to the dead
// letter topic and marks them processed. Runs in one transaction so the
// selected rows stay locked until they are marked.
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	const query = `
		SELECT id, topic, kafka_key, payload, created_at, retry_count, last_error
		FROM claim_audit_outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		FOR UPDATE SKIP LOCKED
	`

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query, o.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var stale []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		if err := rows.Scan(&entry.ID, &entry.Topic, &entry.Key, &entry.Payload,
			&entry.CreatedAt, &entry.RetryCount, &entry.LastError); err != nil {
			continue
		}
		stale = append(stale, entry)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var count int64
	for _, entry := range stale {
		dlPayload, _ := json.Marshal(map[string]interface{}{
			"original_topic": entry.Topic,
			"kafka_key":      entry.Key,
			"payload":        entry.Payload,
			"retry_count":    entry.RetryCount,
			"last_error":     entry.LastError,
			"created_at":     entry.CreatedAt,
		})

		if err := o.publisher.Publish(ctx, redpanda.TopicDeadLetter, entry.Key, dlPayload); err != nil {
			o.logger.Error("failed to publish to dead letter", zap.Error(err))
			continue
		}
		if _, err := tx.Exec(ctx,
			"UPDATE claim_audit_outbox SET processed_at = NOW() WHERE id = $1", entry.ID); err != nil {
			o.logger.Error("failed to mark dead letter entry", zap.Error(err))
			continue
		}
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit failed: %w", err)
	}
	return count, nil
}

// CleanupProcessed removes old processed entries.
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	const query = `
		DELETE FROM claim_audit_outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - make_interval(secs => $1)
	`

	result, err := o.pool.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return result.RowsAffected(), nil
}

// PendingCount reports entries awaiting publication, for the outbox gauge.
func (o *Outbox) PendingCount(ctx context.Context) (int64, error) {
	var pending int64
	err := o.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM claim_audit_outbox WHERE processed_at IS NULL").Scan(&pending)
	if err != nil {
		return 0, err
	}
	return pending, nil
}
