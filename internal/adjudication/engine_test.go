package adjudication

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
	"github.com/pbmlabs/rxadjudicator/internal/domain/formulary"
	"github.com/pbmlabs/rxadjudicator/internal/domain/member"
	"github.com/pbmlabs/rxadjudicator/internal/domain/priorauth"
)

type authKey struct {
	memberID int64
	drugID   int64
}

// stubStore is an in-memory Snapshot and Store. A handler error rolls back
// the inserted decisions, mirroring the transactional store.
type stubStore struct {
	members   map[int64]member.Member
	drugs     map[int64]formulary.Drug
	overrides *formulary.OverrideIndex
	auths     map[authKey][]priorauth.Authorization

	inserted []*claim.Decision
	nextID   int64

	memberErr   error
	overrideErr error
	insertErr   error
}

func newStubStore() *stubStore {
	return &stubStore{
		members:   make(map[int64]member.Member),
		drugs:     make(map[int64]formulary.Drug),
		overrides: formulary.NewOverrideIndex(),
		auths:     make(map[authKey][]priorauth.Authorization),
		nextID:    1000,
	}
}

func (s *stubStore) Adjudicate(ctx context.Context, fn func(ctx context.Context, snap Snapshot) error) error {
	before := len(s.inserted)
	if err := fn(ctx, s); err != nil {
		s.inserted = s.inserted[:before]
		return err
	}
	return nil
}

func (s *stubStore) Member(ctx context.Context, id int64) (member.Member, error) {
	if s.memberErr != nil {
		return member.Member{}, s.memberErr
	}
	m, ok := s.members[id]
	if !ok {
		return member.Member{}, &claim.NotFoundError{Entity: "member", ID: id}
	}
	return m, nil
}

func (s *stubStore) Drug(ctx context.Context, id int64) (formulary.Drug, error) {
	d, ok := s.drugs[id]
	if !ok {
		return formulary.Drug{}, &claim.NotFoundError{Entity: "drug", ID: id}
	}
	return d, nil
}

func (s *stubStore) ActiveOverride(ctx context.Context, planID, drugID int64, date time.Time) (*formulary.Override, error) {
	if s.overrideErr != nil {
		return nil, s.overrideErr
	}
	return s.overrides.Active(planID, drugID, date)
}

func (s *stubStore) Authorizations(ctx context.Context, memberID, drugID int64) ([]priorauth.Authorization, error) {
	return s.auths[authKey{memberID, drugID}], nil
}

func (s *stubStore) InsertDecision(ctx context.Context, d *claim.Decision) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.nextID++
	d.ClaimID = s.nextID
	s.inserted = append(s.inserted, d)
	return nil
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func dayPtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}

func intPtr(i int) *int { return &i }

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }

var testNow = time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

func testRequest() *claim.AdjudicationRequest {
	return &claim.AdjudicationRequest{
		MemberID:           1,
		DrugID:             1,
		PharmacyID:         7,
		PrescriptionNumber: "RX00000001",
		DatePrescribed:     day(2026, 3, 1),
		DateFilled:         day(2026, 3, 15),
		DaysSupply:         30,
		QuantityDispensed:  decimal.NewFromInt(30),
		PrescriberNPI:      "1234567890",
		IngredientCost:     decimal.NewFromInt(90),
		DispensingFee:      decimal.NewFromInt(10),
	}
}

func newTestEngine(store *stubStore) *Engine {
	return NewEngine(store, nil, WithClock(func() time.Time { return testNow }))
}

func seedActiveMember(s *stubStore) {
	s.members[1] = member.Member{
		ID:            1,
		PlanID:        10,
		ExternalID:    "MBR000001",
		Status:        member.StatusActive,
		EffectiveDate: day(2026, 1, 1),
	}
}

func TestAdjudicateAcceptedTierCopay(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier2}

	d, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, claim.StatusProcessed, d.Status)
	assert.True(t, d.MemberCopay.Equal(decimal.NewFromInt(25)))
	assert.True(t, d.PlanPaidAmount.Equal(decimal.NewFromInt(75)))
	assert.True(t, d.TotalAmount.Equal(decimal.NewFromInt(100)))
	assert.NotZero(t, d.ClaimID)
	require.Len(t, store.inserted, 1)
	assert.Same(t, d, store.inserted[0])
}

func TestAdjudicateOverrideCopayWins(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier3, Copay: decPtr(decimal.NewFromInt(40))}
	store.overrides.Add(formulary.Override{
		PlanID: 10, DrugID: 1,
		CopayAmount:   decPtr(decimal.NewFromInt(5)),
		EffectiveDate: day(2026, 1, 1),
	})

	d, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, d.MemberCopay.Equal(decimal.NewFromInt(5)))
	assert.True(t, d.PlanPaidAmount.Equal(decimal.NewFromInt(95)))
}

func TestAdjudicateExpiredOverrideIgnored(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier1}
	store.overrides.Add(formulary.Override{
		PlanID: 10, DrugID: 1,
		CopayAmount:     decPtr(decimal.NewFromInt(5)),
		EffectiveDate:   day(2025, 1, 1),
		TerminationDate: dayPtr(2026, 1, 1),
	})

	d, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.NoError(t, err)

	// The window closed before the fill, so the tier table applies.
	assert.True(t, d.MemberCopay.Equal(decimal.NewFromInt(10)))
}

func TestAdjudicateQuantityLimitDoublesCopay(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier2, QuantityLimit: intPtr(20)}

	req := testRequest()
	req.QuantityDispensed = decimal.NewFromInt(30)

	d, err := newTestEngine(store).Adjudicate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, claim.StatusProcessed, d.Status)
	assert.True(t, d.MemberCopay.Equal(decimal.NewFromInt(50)))
	assert.True(t, d.PlanPaidAmount.Equal(decimal.NewFromInt(50)))
}

func TestAdjudicateQuantityAtLimitNoPenalty(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier2, QuantityLimit: intPtr(30)}

	d, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, d.MemberCopay.Equal(decimal.NewFromInt(25)))
}

func TestAdjudicateIneligibleMemberPersistsRejection(t *testing.T) {
	store := newStubStore()
	store.members[1] = member.Member{
		ID: 1, PlanID: 10,
		Status:        member.StatusTerminated,
		EffectiveDate: day(2026, 1, 1),
	}
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier2}

	d, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, claim.StatusRejected, d.Status)
	assert.Equal(t, claim.CodeEligibility, d.RejectionCode)
	assert.Equal(t, "status: terminated", d.RejectionDescription)
	assert.True(t, d.MemberCopay.IsZero())
	assert.True(t, d.PlanPaidAmount.IsZero())
	require.Len(t, store.inserted, 1)
}

func TestAdjudicatePriorAuthMissingPersistsRejection(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier4, PriorAuthRequired: true}

	d, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, claim.StatusRejected, d.Status)
	assert.Equal(t, claim.CodePriorAuth, d.RejectionCode)
	assert.Equal(t, "Prior authorization required", d.RejectionDescription)
	require.Len(t, store.inserted, 1)
}

func TestAdjudicatePriorAuthApprovedPasses(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier4, PriorAuthRequired: true}
	store.auths[authKey{1, 1}] = []priorauth.Authorization{{
		MemberID: 1, DrugID: 1,
		Status:         priorauth.StatusApproved,
		ApprovedAt:     dayPtr(2026, 1, 1),
		ExpirationDate: dayPtr(2026, 12, 31),
	}}

	d, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, claim.StatusProcessed, d.Status)
	assert.True(t, d.MemberCopay.Equal(decimal.NewFromInt(100)))
}

func TestAdjudicatePriorAuthWaivedByOverride(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier4, PriorAuthRequired: true}
	waived := false
	store.overrides.Add(formulary.Override{
		PlanID: 10, DrugID: 1,
		PriorAuthOverride: &waived,
		EffectiveDate:     day(2026, 1, 1),
	})

	d, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, claim.StatusProcessed, d.Status)
}

func TestAdjudicateCopayExceedsTotalFails(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier4}

	req := testRequest()
	req.IngredientCost = decimal.NewFromInt(40)
	req.DispensingFee = decimal.NewFromInt(2)

	d, err := newTestEngine(store).Adjudicate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, claim.IsComputation(err))
	assert.Nil(t, d)
	// The failed adjudication leaves no record behind.
	assert.Empty(t, store.inserted)
}

func TestAdjudicateUnknownMember(t *testing.T) {
	store := newStubStore()
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier1}

	_, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, claim.IsNotFound(err))
	assert.Empty(t, store.inserted)
}

func TestAdjudicateUnknownDrug(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)

	_, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, claim.IsNotFound(err))
}

func TestAdjudicateOverlappingOverridesFail(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier1}
	store.overrides.Add(formulary.Override{
		PlanID: 10, DrugID: 1,
		CopayAmount:   decPtr(decimal.NewFromInt(5)),
		EffectiveDate: day(2026, 1, 1),
	})
	store.overrides.Add(formulary.Override{
		PlanID: 10, DrugID: 1,
		CopayAmount:   decPtr(decimal.NewFromInt(7)),
		EffectiveDate: day(2026, 2, 1),
	})

	_, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, claim.IsDataIntegrity(err))
	assert.Empty(t, store.inserted)
}

func TestAdjudicateInvalidRequestNeverReachesStore(t *testing.T) {
	store := newStubStore()

	req := testRequest()
	req.DaysSupply = 0

	_, err := newTestEngine(store).Adjudicate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, claim.IsValidation(err))
	assert.Empty(t, store.inserted)
}

func TestAdjudicateInsertFailureRollsBack(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier1}
	store.insertErr = claim.ErrStoreUnavailable

	_, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, claim.ErrStoreUnavailable)
	assert.Empty(t, store.inserted)
}

func TestAdjudicateTaxAndDeductibleStayZero(t *testing.T) {
	store := newStubStore()
	seedActiveMember(store)
	store.drugs[1] = formulary.Drug{ID: 1, Tier: formulary.Tier1}

	d, err := newTestEngine(store).Adjudicate(context.Background(), testRequest())
	require.NoError(t, err)

	// Copay plus plan paid accounts for the full total; tax and deductible
	// are recorded but excluded from the split.
	assert.True(t, d.MemberCopay.Add(d.PlanPaidAmount).Equal(d.TotalAmount))
	assert.True(t, d.SalesTax.IsZero())
	assert.True(t, d.DeductibleAmount.IsZero())
}
