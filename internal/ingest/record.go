// Package ingest consumes raw claim feed records, validates and stages them,
// and hands the valid ones to the adjudication engine exactly once.
package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
)

// DefaultDaysSupply is substituted when a feed record omits days supply.
const DefaultDaysSupply = 30

// placeholderNPI stands in for feeds that drop the prescriber column.
// Validation still runs against it, so the placeholder must be well formed.
const placeholderNPI = "9999999999"

// ingredientShare is the portion of a feed record's total cost attributed to
// the drug itself; the remainder is the dispensing fee. Feeds report one
// blended cost, the claim record needs the split.
var ingredientShare = decimal.NewFromFloat(0.9)

// FeedRecord is one raw claim as it arrives on the feed topic. Identifiers
// are external: the member's card ID and the drug's NDC, not internal keys.
type FeedRecord struct {
	ExternalMemberID   string          `json:"member_id"`
	NDC                string          `json:"ndc"`
	PharmacyNPI        string          `json:"pharmacy_npi"`
	PrescriberNPI      string          `json:"prescriber_npi,omitempty"`
	PrescriptionNumber string          `json:"prescription_number,omitempty"`
	DatePrescribed     string          `json:"date_prescribed,omitempty"`
	DateFilled         string          `json:"date_filled"`
	Quantity           decimal.Decimal `json:"quantity"`
	DaysSupply         int             `json:"days_supply,omitempty"`
	TotalCost          decimal.Decimal `json:"total_cost"`
}

// Key returns the record's idempotency identity: same member, drug, fill date
// and prescription number means the same fill.
func (r *FeedRecord) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", r.ExternalMemberID, r.NDC, r.PrescriptionNumber, r.DateFilled)
}

// Normalize fills defaults for optional columns. Runs after validation so a
// record missing required fields never reaches this point.
func (r *FeedRecord) Normalize() {
	if r.DaysSupply == 0 {
		r.DaysSupply = DefaultDaysSupply
	}
	if r.PrescriberNPI == "" {
		r.PrescriberNPI = placeholderNPI
	}
	if r.PrescriptionNumber == "" {
		r.PrescriptionNumber = "RX-" + uuid.NewString()
	}
	if r.DatePrescribed == "" {
		r.DatePrescribed = r.DateFilled
	}
}

// ToRequest converts a normalized record into an adjudication request using
// resolved internal identifiers. The blended feed cost splits 90/10 into
// ingredient cost and dispensing fee.
func (r *FeedRecord) ToRequest(memberID, drugID, pharmacyID int64) (*claim.AdjudicationRequest, error) {
	filled, err := parseFeedDate(r.DateFilled)
	if err != nil {
		return nil, fmt.Errorf("date_filled: %w", err)
	}
	prescribed, err := parseFeedDate(r.DatePrescribed)
	if err != nil {
		return nil, fmt.Errorf("date_prescribed: %w", err)
	}

	ingredient := r.TotalCost.Mul(ingredientShare).Round(2)
	fee := r.TotalCost.Sub(ingredient)

	return &claim.AdjudicationRequest{
		MemberID:           memberID,
		DrugID:             drugID,
		PharmacyID:         pharmacyID,
		PrescriptionNumber: r.PrescriptionNumber,
		DatePrescribed:     prescribed,
		DateFilled:         filled,
		DaysSupply:         r.DaysSupply,
		QuantityDispensed:  r.Quantity,
		PrescriberNPI:      r.PrescriberNPI,
		IngredientCost:     ingredient,
		DispensingFee:      fee,
	}, nil
}

func parseFeedDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a YYYY-MM-DD date: %q", s)
	}
	return t, nil
}
