package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
	"github.com/pbmlabs/rxadjudicator/internal/infrastructure/postgres"
	"github.com/pbmlabs/rxadjudicator/internal/infrastructure/redpanda"
	"github.com/pbmlabs/rxadjudicator/internal/observability/metrics"
	"github.com/pbmlabs/rxadjudicator/pkg/idempotency"
	"github.com/pbmlabs/rxadjudicator/pkg/workerpool"
)

// HandlerName identifies the feed handler in the idempotency inbox.
const HandlerName = "adjudicate-claim"

// Adjudicator decides claims. Satisfied by the adjudication engine.
type Adjudicator interface {
	Adjudicate(ctx context.Context, req *claim.AdjudicationRequest) (*claim.Decision, error)
}

// Staging captures feed records and resolves external identifiers.
// Satisfied by the postgres store.
type Staging interface {
	InsertStaging(ctx context.Context, rec postgres.StagingRecord) error
	ResolveMemberID(ctx context.Context, externalID string) (int64, error)
	ResolveDrugID(ctx context.Context, ndc string) (int64, error)
}

// Publisher emits decision events. Satisfied by the redpanda producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Deduper guards a handler so each idempotency key runs at most once.
// Satisfied by the idempotency inbox.
type Deduper interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Ingestor drives the claims feed pipeline: validate, stage, then adjudicate
// each record exactly once through the inbox.
type Ingestor struct {
	staging Staging
	engine  Adjudicator
	inbox   Deduper
	pool    *workerpool.Pool
	pub     Publisher
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithClock overrides the ingestor clock.
func WithClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) { i.now = now }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) IngestorOption {
	return func(i *Ingestor) { i.metrics = m }
}

// WithPublisher attaches a decision event publisher.
func WithPublisher(p Publisher) IngestorOption {
	return func(i *Ingestor) { i.pub = p }
}

// NewIngestor creates a feed ingestor. The worker pool bounds how many
// records adjudicate concurrently.
func NewIngestor(staging Staging, engine Adjudicator, inbox Deduper, poolCfg workerpool.Config, logger *zap.Logger, opts ...IngestorOption) (*Ingestor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ing := &Ingestor{
		staging: staging,
		engine:  engine,
		inbox:   inbox,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ing)
	}

	pool, err := workerpool.New(poolCfg, ing.work, logger)
	if err != nil {
		return nil, err
	}
	ing.pool = pool
	return ing, nil
}

// Start launches the worker pool.
func (i *Ingestor) Start() { i.pool.Start() }

// Stop drains the worker pool.
func (i *Ingestor) Stop() error { return i.pool.Stop() }

// PoolStats exposes worker pool statistics for readiness checks.
func (i *Ingestor) PoolStats() workerpool.Stats { return i.pool.Stats() }

// IsTerminal reports whether a feed processing error is permanent. Terminal
// records are marked FAILED in the inbox and never redelivered; everything
// else stays recoverable.
func IsTerminal(err error) bool {
	return claim.IsValidation(err) ||
		claim.IsComputation(err) ||
		errors.Is(err, postgres.ErrUnknownReference)
}

// Handle processes one consumed feed message. A nil return commits the
// offset. Malformed and invalid records are staged and committed; only
// infrastructure failures propagate so the record is redelivered.
func (i *Ingestor) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var rec FeedRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		i.countInvalid()
		return i.staging.InsertStaging(ctx, postgres.StagingRecord{
			Source:    msg.Topic,
			RecordKey: fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
			RawData:   rawOrNull(msg.Value),
			Valid:     false,
			Errors:    []string{"malformed JSON: " + err.Error()},
		})
	}

	rep := Validate(&rec, i.now())
	if !rep.Valid() {
		i.countInvalid()
		i.logger.Warn("feed record failed validation",
			zap.String("member_id", rec.ExternalMemberID),
			zap.String("ndc", rec.NDC),
			zap.Strings("errors", rep.Errors))
		return i.staging.InsertStaging(ctx, postgres.StagingRecord{
			Source:    msg.Topic,
			RecordKey: rec.Key(),
			RawData:   msg.Value,
			Valid:     false,
			Errors:    rep.Errors,
		})
	}

	rec.Normalize()
	if i.metrics != nil {
		i.metrics.FeedRecordsValid.Inc()
	}
	if err := i.staging.InsertStaging(ctx, postgres.StagingRecord{
		Source:    msg.Topic,
		RecordKey: rec.Key(),
		RawData:   msg.Value,
		Valid:     true,
		Errors:    rep.Warnings,
	}); err != nil {
		return err
	}

	filled, err := parseFeedDate(rec.DateFilled)
	if err != nil {
		return err
	}
	key := idempotency.GenerateKey(rec.ExternalMemberID, rec.NDC, rec.PrescriptionNumber, filled)

	result, err := i.pool.Do(ctx, &workerpool.Task{
		ID:      key,
		Payload: &rec,
		Context: ctx,
	})
	if err != nil {
		return err
	}
	if result.Error != nil {
		if errors.Is(result.Error, idempotency.ErrDuplicateRecord) {
			i.logger.Info("duplicate feed record skipped", zap.String("key", key))
			return nil
		}
		if IsTerminal(result.Error) || errors.Is(result.Error, idempotency.ErrPermanentlyFailed) {
			// Recorded as FAILED in the inbox; redelivery would not help.
			i.logger.Warn("feed record permanently failed",
				zap.String("key", key),
				zap.Error(result.Error))
			return nil
		}
		return result.Error
	}
	return nil
}

// work is the worker pool function: one feed record, one inbox-guarded
// adjudication.
func (i *Ingestor) work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	rec, ok := task.Payload.(*FeedRecord)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("unexpected payload type %T", task.Payload)}
	}

	payload, _ := json.Marshal(rec)
	procResult, err := i.inbox.Process(ctx, task.ID, HandlerName, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return i.adjudicate(ctx, rec)
	})
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}
	return &workerpool.Result{TaskID: task.ID, Success: true, Data: procResult}
}

// adjudicate resolves the record's external identifiers and runs the engine.
// Runs at most once per idempotency key.
func (i *Ingestor) adjudicate(ctx context.Context, rec *FeedRecord) (json.RawMessage, error) {
	memberID, err := i.staging.ResolveMemberID(ctx, rec.ExternalMemberID)
	if err != nil {
		return nil, err
	}
	drugID, err := i.staging.ResolveDrugID(ctx, rec.NDC)
	if err != nil {
		return nil, err
	}
	pharmacyID, err := strconv.ParseInt(rec.PharmacyNPI, 10, 64)
	if err != nil {
		return nil, &claim.ValidationError{Field: "pharmacy_npi", Reason: "not numeric"}
	}

	req, err := rec.ToRequest(memberID, drugID, pharmacyID)
	if err != nil {
		return nil, &claim.ValidationError{Field: "dates", Reason: err.Error()}
	}

	decision, err := i.engine.Adjudicate(ctx, req)
	if err != nil {
		return nil, err
	}

	i.publishDecision(ctx, decision)

	return json.Marshal(map[string]any{
		"claim_id": decision.ClaimID,
		"status":   decision.Status,
	})
}

// publishDecision emits the decision to the decisions topic. Best effort:
// the decision is already durable and audited through the outbox, so a
// publish failure must not trigger a second adjudication.
func (i *Ingestor) publishDecision(ctx context.Context, d *claim.Decision) {
	if i.pub == nil {
		return
	}
	payload, err := json.Marshal(d)
	if err != nil {
		i.logger.Error("marshal decision event", zap.Error(err))
		return
	}
	key := strconv.FormatInt(d.ClaimID, 10)
	if err := i.pub.Publish(ctx, redpanda.TopicClaimDecisions, key, payload); err != nil {
		i.logger.Warn("publish decision event failed",
			zap.Int64("claim_id", d.ClaimID),
			zap.Error(err))
	}
}

func (i *Ingestor) countInvalid() {
	if i.metrics != nil {
		i.metrics.FeedRecordsInvalid.Inc()
	}
}

// rawOrNull keeps the staging row insertable when the payload is not valid
// JSON for a JSONB column.
func rawOrNull(value []byte) json.RawMessage {
	if json.Valid(value) {
		return value
	}
	quoted, _ := json.Marshal(string(value))
	return quoted
}
