package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbmlabs/rxadjudicator/internal/adjudication"
	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
	"github.com/pbmlabs/rxadjudicator/internal/domain/formulary"
	"github.com/pbmlabs/rxadjudicator/internal/domain/member"
	"github.com/pbmlabs/rxadjudicator/internal/domain/priorauth"
)

// fixtureStore backs the engine with a fixed member and drug and records
// inserted decisions.
type fixtureStore struct {
	member   member.Member
	drug     formulary.Drug
	decision *claim.Decision
}

func (s *fixtureStore) Adjudicate(ctx context.Context, fn func(ctx context.Context, snap adjudication.Snapshot) error) error {
	return fn(ctx, s)
}

func (s *fixtureStore) Member(ctx context.Context, id int64) (member.Member, error) {
	if id != s.member.ID {
		return member.Member{}, &claim.NotFoundError{Entity: "member", ID: id}
	}
	return s.member, nil
}

func (s *fixtureStore) Drug(ctx context.Context, id int64) (formulary.Drug, error) {
	if id != s.drug.ID {
		return formulary.Drug{}, &claim.NotFoundError{Entity: "drug", ID: id}
	}
	return s.drug, nil
}

func (s *fixtureStore) ActiveOverride(ctx context.Context, planID, drugID int64, date time.Time) (*formulary.Override, error) {
	return nil, nil
}

func (s *fixtureStore) Authorizations(ctx context.Context, memberID, drugID int64) ([]priorauth.Authorization, error) {
	return nil, nil
}

func (s *fixtureStore) InsertDecision(ctx context.Context, d *claim.Decision) error {
	d.ClaimID = 5001
	s.decision = d
	return nil
}

func (s *fixtureStore) Decision(ctx context.Context, claimID int64) (*claim.Decision, error) {
	if s.decision == nil || s.decision.ClaimID != claimID {
		return nil, &claim.NotFoundError{Entity: "claim", ID: claimID}
	}
	return s.decision, nil
}

var handlerNow = time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

func newFixture() (*fixtureStore, *ClaimsHandler) {
	store := &fixtureStore{
		member: member.Member{
			ID: 1, PlanID: 10,
			Status:        member.StatusActive,
			EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		drug: formulary.Drug{ID: 2, Tier: formulary.Tier2},
	}
	engine := adjudication.NewEngine(store, nil,
		adjudication.WithClock(func() time.Time { return handlerNow }))
	return store, NewClaimsHandler(engine, store, nil)
}

func requestBody() map[string]any {
	return map[string]any{
		"member_id":           1,
		"drug_id":             2,
		"pharmacy_id":         7,
		"prescription_number": "RX00000001",
		"date_prescribed":     "2026-03-01",
		"date_filled":         "2026-03-15",
		"days_supply":         30,
		"quantity_dispensed":  "30",
		"prescriber_npi":      "1234567890",
		"ingredient_cost":     "90.00",
		"dispensing_fee":      "10.00",
	}
}

func postClaim(t *testing.T, h *ClaimsHandler, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestAdjudicateProcessed(t *testing.T) {
	store, h := newFixture()

	rec := postClaim(t, h, requestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AdjudicateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(5001), resp.ClaimID)
	assert.Equal(t, claim.StatusProcessed, resp.ClaimStatus)
	assert.Equal(t, "25", resp.MemberCopay.String())
	assert.Equal(t, "75", resp.PlanPaidAmount.String())
	assert.Empty(t, resp.RejectionCode)
	require.NotNil(t, store.decision)
}

func TestAdjudicateRejectionIsCreated(t *testing.T) {
	store, h := newFixture()
	store.drug.PriorAuthRequired = true

	rec := postClaim(t, h, requestBody())
	// Business rejections are successful responses carrying the code.
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AdjudicateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, claim.StatusRejected, resp.ClaimStatus)
	assert.Equal(t, "P001", resp.RejectionCode)
	assert.Equal(t, "Prior authorization required", resp.RejectionDescription)
}

func TestAdjudicateValidationError(t *testing.T) {
	_, h := newFixture()

	body := requestBody()
	body["days_supply"] = 0

	rec := postClaim(t, h, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdjudicateBadDate(t *testing.T) {
	_, h := newFixture()

	body := requestBody()
	body["date_filled"] = "15/03/2026"

	rec := postClaim(t, h, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "date_filled")
}

func TestAdjudicateMalformedBody(t *testing.T) {
	_, h := newFixture()

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdjudicateUnknownMember(t *testing.T) {
	_, h := newFixture()

	body := requestBody()
	body["member_id"] = 999

	rec := postClaim(t, h, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdjudicateComputationError(t *testing.T) {
	store, h := newFixture()
	store.drug.Tier = formulary.Tier4 // $100 copay

	body := requestBody()
	body["ingredient_cost"] = "40.00"
	body["dispensing_fee"] = "2.00"

	rec := postClaim(t, h, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Nil(t, store.decision)
}

func TestGetClaim(t *testing.T) {
	store, h := newFixture()
	require.Equal(t, http.StatusCreated, postClaim(t, h, requestBody()).Code)

	req := httptest.NewRequest(http.MethodGet, "/5001", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var d claim.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, store.decision.ClaimID, d.ClaimID)
	assert.Equal(t, claim.StatusProcessed, d.Status)
}

func TestGetClaimNotFound(t *testing.T) {
	_, h := newFixture()

	req := httptest.NewRequest(http.MethodGet, "/42", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetClaimBadID(t *testing.T) {
	_, h := newFixture()

	req := httptest.NewRequest(http.MethodGet, "/abc", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
