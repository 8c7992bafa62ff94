package claim

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// MaxDaysSupply is the upper bound for a single fill.
const MaxDaysSupply = 365

var npiPattern = regexp.MustCompile(`^\d{10}$`)

// AdjudicationRequest carries the fill details for a single claim. Ingredient
// cost and dispensing fee are supplied by the caller; the engine does not
// compute network pricing.
type AdjudicationRequest struct {
	MemberID           int64           `json:"member_id"`
	DrugID             int64           `json:"drug_id"`
	PharmacyID         int64           `json:"pharmacy_id"`
	PrescriptionNumber string          `json:"prescription_number"`
	DatePrescribed     time.Time       `json:"date_prescribed"`
	DateFilled         time.Time       `json:"date_filled"`
	DaysSupply         int             `json:"days_supply"`
	QuantityDispensed  decimal.Decimal `json:"quantity_dispensed"`
	PrescriberNPI      string          `json:"prescriber_npi"`
	IngredientCost     decimal.Decimal `json:"ingredient_cost"`
	DispensingFee      decimal.Decimal `json:"dispensing_fee"`
}

// TotalAmount is ingredient cost plus dispensing fee.
func (r *AdjudicationRequest) TotalAmount() decimal.Decimal {
	return r.IngredientCost.Add(r.DispensingFee)
}

// Validate checks the request preconditions. It runs before any business rule
// and before any persistence; a violation means no claim record is written.
func (r *AdjudicationRequest) Validate(now time.Time) error {
	if r.DaysSupply <= 0 || r.DaysSupply > MaxDaysSupply {
		return &ValidationError{Field: "days_supply", Reason: "must be between 1 and 365"}
	}
	if !r.QuantityDispensed.IsPositive() {
		return &ValidationError{Field: "quantity_dispensed", Reason: "must be positive"}
	}
	if r.DateFilled.Before(r.DatePrescribed) {
		return &ValidationError{Field: "date_filled", Reason: "cannot precede date prescribed"}
	}
	if dateOnly(r.DateFilled).After(dateOnly(now)) {
		return &ValidationError{Field: "date_filled", Reason: "cannot be in the future"}
	}
	if !npiPattern.MatchString(r.PrescriberNPI) {
		return &ValidationError{Field: "prescriber_npi", Reason: "must be a 10-digit NPI"}
	}
	if r.IngredientCost.IsNegative() {
		return &ValidationError{Field: "ingredient_cost", Reason: "cannot be negative"}
	}
	if r.DispensingFee.IsNegative() {
		return &ValidationError{Field: "dispensing_fee", Reason: "cannot be negative"}
	}
	return nil
}

// dateOnly truncates a timestamp to its calendar day in UTC. Eligibility and
// formulary windows are date-granular.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
