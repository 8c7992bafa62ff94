// Package adjudication orchestrates eligibility, formulary resolution and
// prior-auth gating into a single persisted claim decision.
package adjudication

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
	"github.com/pbmlabs/rxadjudicator/internal/domain/formulary"
	"github.com/pbmlabs/rxadjudicator/internal/domain/member"
	"github.com/pbmlabs/rxadjudicator/internal/domain/priorauth"
	"github.com/pbmlabs/rxadjudicator/internal/observability/metrics"
)

// Snapshot exposes one consistent view of the reference data plus the
// decision insert. All reads and the final write happen against the same
// snapshot so a formulary window expiring mid-evaluation cannot skew the
// decision.
type Snapshot interface {
	// Member returns the member record, or a claim.NotFoundError.
	Member(ctx context.Context, id int64) (member.Member, error)
	// Drug returns the drug record, or a claim.NotFoundError.
	Drug(ctx context.Context, id int64) (formulary.Drug, error)
	// ActiveOverride returns the plan override whose validity window contains
	// the date, nil when none, or a claim.DataIntegrityError when more than
	// one window matches.
	ActiveOverride(ctx context.Context, planID, drugID int64, date time.Time) (*formulary.Override, error)
	// Authorizations returns the prior authorizations on file for the member
	// and drug. Whether one covers the fill is decided in the domain layer.
	Authorizations(ctx context.Context, memberID, drugID int64) ([]priorauth.Authorization, error)
	// InsertDecision persists the decision and assigns its claim ID from the
	// store's monotonic allocator.
	InsertDecision(ctx context.Context, d *claim.Decision) error
}

// Store runs an adjudication as one atomic transaction: either the full
// decision commits or nothing is visible.
type Store interface {
	Adjudicate(ctx context.Context, fn func(ctx context.Context, s Snapshot) error) error
}

// DecisionReader loads previously persisted decisions.
type DecisionReader interface {
	Decision(ctx context.Context, claimID int64) (*claim.Decision, error)
}

// Engine adjudicates pharmacy claims. It is safe for concurrent use; calls
// for different members never coordinate.
type Engine struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an adjudication engine.
func NewEngine(store Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("adjudication-engine"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Adjudicate decides a claim. Business rejections (E001, P001) are normal
// outcomes: the rejected decision is persisted and returned with a nil error.
// Validation, lookup, integrity and computation failures return an error and
// persist nothing.
func (e *Engine) Adjudicate(ctx context.Context, req *claim.AdjudicationRequest) (*claim.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "adjudicate_claim",
		trace.WithAttributes(
			attribute.Int64("member_id", req.MemberID),
			attribute.Int64("drug_id", req.DrugID),
		))
	defer span.End()

	start := e.now()

	if err := req.Validate(start); err != nil {
		span.RecordError(err)
		e.countFailure("validation")
		return nil, err
	}

	var decision *claim.Decision
	err := e.store.Adjudicate(ctx, func(ctx context.Context, s Snapshot) error {
		d, err := e.decide(ctx, s, req)
		if err != nil {
			return err
		}
		if err := s.InsertDecision(ctx, d); err != nil {
			return err
		}
		decision = d
		return nil
	})
	if err != nil {
		span.RecordError(err)
		e.countFailure(failureClass(err))
		return nil, err
	}

	e.observe(decision, e.now().Sub(start))
	e.logger.Info("claim adjudicated",
		zap.Int64("claim_id", decision.ClaimID),
		zap.Int64("member_id", decision.MemberID),
		zap.Int64("drug_id", decision.DrugID),
		zap.String("status", string(decision.Status)),
		zap.String("rejection_code", string(decision.RejectionCode)),
	)
	span.SetAttributes(
		attribute.Int64("claim_id", decision.ClaimID),
		attribute.String("status", string(decision.Status)),
	)
	return decision, nil
}

// decide runs the rule sequence against one snapshot and returns the decision
// to persist. Exactly one decision comes out of every successful call,
// accepted or rejected.
func (e *Engine) decide(ctx context.Context, s Snapshot, req *claim.AdjudicationRequest) (*claim.Decision, error) {
	m, err := s.Member(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	drug, err := s.Drug(ctx, req.DrugID)
	if err != nil {
		return nil, err
	}

	if eligible, reason := member.Evaluate(m, req.DateFilled); !eligible {
		return claim.NewDecision(req, claim.RejectedEligibility(reason), e.now()), nil
	}

	override, err := s.ActiveOverride(ctx, m.PlanID, req.DrugID, req.DateFilled)
	if err != nil {
		return nil, err
	}
	cov := formulary.Resolve(drug, override)

	copay := cov.Copay
	if cov.QuantityLimit != nil &&
		req.QuantityDispensed.GreaterThan(decimal.NewFromInt(int64(*cov.QuantityLimit))) {
		// Over-limit fills pay a doubled copay; they are not rejected.
		copay = copay.Mul(decimal.NewFromInt(2))
	}

	if cov.RequiresPriorAuth {
		auths, err := s.Authorizations(ctx, req.MemberID, req.DrugID)
		if err != nil {
			return nil, err
		}
		if !priorauth.Authorized(auths, req.DateFilled) {
			return claim.NewDecision(req, claim.RejectedPriorAuth(), e.now()), nil
		}
	}

	total := req.TotalAmount()
	planPaid := total.Sub(copay)
	if planPaid.IsNegative() {
		return nil, &claim.ComputationError{
			Detail: fmt.Sprintf("copay %s exceeds total amount %s for drug %d",
				copay.StringFixed(2), total.StringFixed(2), req.DrugID),
		}
	}

	return claim.NewDecision(req, claim.Accepted(copay, planPaid), e.now()), nil
}

func (e *Engine) observe(d *claim.Decision, took time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.AdjudicationSeconds.Observe(took.Seconds())
	if d.Status == claim.StatusProcessed {
		e.metrics.ClaimsProcessed.Inc()
	} else {
		e.metrics.ClaimsRejected.WithLabelValues(string(d.RejectionCode)).Inc()
	}
}

func (e *Engine) countFailure(class string) {
	if e.metrics == nil {
		return
	}
	e.metrics.ClaimsFailed.WithLabelValues(class).Inc()
}

func failureClass(err error) string {
	switch {
	case claim.IsNotFound(err):
		return "not_found"
	case claim.IsDataIntegrity(err):
		return "data_integrity"
	case claim.IsComputation(err):
		return "computation"
	default:
		return "store"
	}
}
