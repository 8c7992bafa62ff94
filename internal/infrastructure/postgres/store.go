// Package postgres implements the claim record store and reference data
// snapshot on PostgreSQL, plus the transactional outbox feeding the audit
// collaborator.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pbmlabs/rxadjudicator/internal/adjudication"
	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
	"github.com/pbmlabs/rxadjudicator/internal/domain/formulary"
	"github.com/pbmlabs/rxadjudicator/internal/domain/member"
	"github.com/pbmlabs/rxadjudicator/internal/domain/priorauth"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides transactional claim adjudication persistence.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore connects to the database and applies pending migrations.
func NewStore(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool for readiness checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Adjudicate runs fn inside a REPEATABLE READ transaction so every read and
// the final insert see one snapshot. Serialization failures and deadlocks are
// retried with backoff; any other failure rolls the whole decision back.
func (s *Store) Adjudicate(ctx context.Context, fn func(ctx context.Context, snap adjudication.Snapshot) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.runTx(ctx, fn)
		if isSerializationFailure(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, snap adjudication.Snapshot) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", claim.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &snapshot{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return err
		}
		return fmt.Errorf("%w: commit: %v", claim.ErrStoreUnavailable, err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

// snapshot implements adjudication.Snapshot against a single transaction.
type snapshot struct {
	tx pgx.Tx
}

func (sn *snapshot) Member(ctx context.Context, id int64) (member.Member, error) {
	const query = `
		SELECT member_id, plan_id, external_member_id, eligibility_status,
		       effective_date, termination_date
		FROM members
		WHERE member_id = $1
	`

	var m member.Member
	var status string
	err := sn.tx.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.PlanID, &m.ExternalID, &status, &m.EffectiveDate, &m.TerminationDate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return member.Member{}, &claim.NotFoundError{Entity: "member", ID: id}
	}
	if err != nil {
		return member.Member{}, fmt.Errorf("fetch member %d: %w", id, err)
	}
	m.Status = member.EligibilityStatus(status)
	return m, nil
}

func (sn *snapshot) Drug(ctx context.Context, id int64) (formulary.Drug, error) {
	const query = `
		SELECT drug_id, ndc_code, drug_name, tier, prior_auth_required,
		       quantity_limit, copay_amount
		FROM drugs
		WHERE drug_id = $1
	`

	var d formulary.Drug
	var tier int
	var copay decimal.NullDecimal
	err := sn.tx.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.NDC, &d.Name, &tier, &d.PriorAuthRequired, &d.QuantityLimit, &copay,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return formulary.Drug{}, &claim.NotFoundError{Entity: "drug", ID: id}
	}
	if err != nil {
		return formulary.Drug{}, fmt.Errorf("fetch drug %d: %w", id, err)
	}
	d.Tier = formulary.Tier(tier)
	if copay.Valid {
		d.Copay = &copay.Decimal
	}
	return d, nil
}

func (sn *snapshot) ActiveOverride(ctx context.Context, planID, drugID int64, date time.Time) (*formulary.Override, error) {
	const query = `
		SELECT plan_id, drug_id, tier_override, copay_amount, prior_auth_override,
		       quantity_limit_override, effective_date, termination_date
		FROM formulary_overrides
		WHERE plan_id = $1
		  AND drug_id = $2
		  AND effective_date <= $3
		  AND (termination_date IS NULL OR termination_date > $3)
	`

	rows, err := sn.tx.Query(ctx, query, planID, drugID, date)
	if err != nil {
		return nil, fmt.Errorf("fetch override: %w", err)
	}
	defer rows.Close()

	var found *formulary.Override
	for rows.Next() {
		var o formulary.Override
		var tier *int
		var copay decimal.NullDecimal
		err := rows.Scan(
			&o.PlanID, &o.DrugID, &tier, &copay, &o.PriorAuthOverride,
			&o.QuantityOverride, &o.EffectiveDate, &o.TerminationDate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if tier != nil {
			t := formulary.Tier(*tier)
			o.TierOverride = &t
		}
		if copay.Valid {
			o.CopayAmount = &copay.Decimal
		}
		if found != nil {
			return nil, &claim.DataIntegrityError{
				Detail: fmt.Sprintf("multiple active formulary overrides for plan %d drug %d on %s",
					planID, drugID, date.Format("2006-01-02")),
			}
		}
		found = &o
	}
	return found, rows.Err()
}

func (sn *snapshot) Authorizations(ctx context.Context, memberID, drugID int64) ([]priorauth.Authorization, error) {
	const query = `
		SELECT authorization_id, member_id, drug_id, status, approved_at, expiration_date
		FROM prior_authorizations
		WHERE member_id = $1
		  AND drug_id = $2
	`

	rows, err := sn.tx.Query(ctx, query, memberID, drugID)
	if err != nil {
		return nil, fmt.Errorf("fetch prior authorizations: %w", err)
	}
	defer rows.Close()

	var auths []priorauth.Authorization
	for rows.Next() {
		var a priorauth.Authorization
		var status string
		if err := rows.Scan(&a.ID, &a.MemberID, &a.DrugID, &status, &a.ApprovedAt, &a.ExpirationDate); err != nil {
			return nil, fmt.Errorf("scan prior authorization: %w", err)
		}
		a.Status = priorauth.Status(status)
		auths = append(auths, a)
	}
	return auths, rows.Err()
}

// InsertDecision persists the decision and the audit change event in the same
// transaction. The claim ID comes from the claims sequence, which is unique
// and monotonically non-decreasing under concurrent writers.
func (sn *snapshot) InsertDecision(ctx context.Context, d *claim.Decision) error {
	const query = `
		INSERT INTO claims (
			member_id, drug_id, pharmacy_id, prescription_number,
			date_prescribed, date_filled, days_supply, quantity_dispensed,
			prescriber_npi, ingredient_cost, dispensing_fee, total_amount,
			sales_tax, deductible_amount, member_copay, plan_paid_amount,
			claim_status, rejection_code, rejection_description, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING claim_id
	`

	var code, desc *string
	if d.RejectionCode != "" {
		c, ds := string(d.RejectionCode), d.RejectionDescription
		code, desc = &c, &ds
	}

	err := sn.tx.QueryRow(ctx, query,
		d.MemberID, d.DrugID, d.PharmacyID, d.PrescriptionNumber,
		d.DatePrescribed, d.DateFilled, d.DaysSupply, d.QuantityDispensed,
		d.PrescriberNPI, d.IngredientCost, d.DispensingFee, d.TotalAmount,
		d.SalesTax, d.DeductibleAmount, d.MemberCopay, d.PlanPaidAmount,
		string(d.Status), code, desc, d.CreatedAt,
	).Scan(&d.ClaimID)
	if err != nil {
		return fmt.Errorf("%w: insert claim: %v", claim.ErrStoreUnavailable, err)
	}

	return writeAuditEvent(ctx, sn.tx, d)
}

// Decision loads a persisted claim decision by ID.
func (s *Store) Decision(ctx context.Context, claimID int64) (*claim.Decision, error) {
	const query = `
		SELECT claim_id, member_id, drug_id, pharmacy_id, prescription_number,
		       date_prescribed, date_filled, days_supply, quantity_dispensed,
		       prescriber_npi, ingredient_cost, dispensing_fee, total_amount,
		       sales_tax, deductible_amount, member_copay, plan_paid_amount,
		       claim_status, rejection_code, rejection_description, created_at
		FROM claims
		WHERE claim_id = $1
	`

	var d claim.Decision
	var status string
	var code, desc *string
	err := s.pool.QueryRow(ctx, query, claimID).Scan(
		&d.ClaimID, &d.MemberID, &d.DrugID, &d.PharmacyID, &d.PrescriptionNumber,
		&d.DatePrescribed, &d.DateFilled, &d.DaysSupply, &d.QuantityDispensed,
		&d.PrescriberNPI, &d.IngredientCost, &d.DispensingFee, &d.TotalAmount,
		&d.SalesTax, &d.DeductibleAmount, &d.MemberCopay, &d.PlanPaidAmount,
		&status, &code, &desc, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &claim.NotFoundError{Entity: "claim", ID: claimID}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch claim %d: %w", claimID, err)
	}
	d.Status = claim.Status(status)
	if code != nil {
		d.RejectionCode = claim.RejectionCode(*code)
	}
	if desc != nil {
		d.RejectionDescription = *desc
	}
	return &d, nil
}
