package claim

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the terminal state of an adjudicated claim. The engine only ever
// produces processed or rejected; reversal and void act on an existing record
// and are handled elsewhere.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusRejected  Status = "rejected"
)

// RejectionCode is a closed enumeration. New codes require a new constant and
// a description here, not free text at the call site.
type RejectionCode string

const (
	CodeEligibility RejectionCode = "E001"
	CodePriorAuth   RejectionCode = "P001"
)

// descPriorAuth is the fixed wording carried on every P001 rejection.
const descPriorAuth = "Prior authorization required"

// Outcome is the result variant of an adjudication: accepted with amounts, or
// rejected with a code. Constructing it only through Accepted, RejectedEligibility
// and RejectedPriorAuth guarantees the code/description pairing invariant.
type Outcome struct {
	status      Status
	code        RejectionCode
	description string
	memberCopay decimal.Decimal
	planPaid    decimal.Decimal
}

// Accepted builds a processed outcome with the computed financial split.
func Accepted(memberCopay, planPaid decimal.Decimal) Outcome {
	return Outcome{
		status:      StatusProcessed,
		memberCopay: memberCopay,
		planPaid:    planPaid,
	}
}

// RejectedEligibility builds an E001 rejection carrying the eligibility reason.
func RejectedEligibility(reason string) Outcome {
	return Outcome{
		status:      StatusRejected,
		code:        CodeEligibility,
		description: reason,
		memberCopay: decimal.Zero,
		planPaid:    decimal.Zero,
	}
}

// RejectedPriorAuth builds a P001 rejection.
func RejectedPriorAuth() Outcome {
	return Outcome{
		status:      StatusRejected,
		code:        CodePriorAuth,
		description: descPriorAuth,
		memberCopay: decimal.Zero,
		planPaid:    decimal.Zero,
	}
}

// Status returns the terminal state of the outcome.
func (o Outcome) Status() Status { return o.status }

// Rejected reports whether the outcome is a business rejection.
func (o Outcome) Rejected() bool { return o.status == StatusRejected }

// Code returns the rejection code, empty for processed outcomes.
func (o Outcome) Code() RejectionCode { return o.code }

// Decision is the immutable record persisted for every adjudication attempt,
// accepted or rejected. It is created exactly once and never mutated.
type Decision struct {
	ClaimID            int64           `json:"claim_id"`
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
	TotalAmount        decimal.Decimal `json:"total_amount"`

	// Sales tax and deductible are carried on the record but are not part of
	// the copay/plan-paid computation; both persist as zero today.
	SalesTax         decimal.Decimal `json:"sales_tax"`
	DeductibleAmount decimal.Decimal `json:"deductible_amount"`

	MemberCopay          decimal.Decimal `json:"member_copay"`
	PlanPaidAmount       decimal.Decimal `json:"plan_paid_amount"`
	Status               Status          `json:"claim_status"`
	RejectionCode        RejectionCode   `json:"rejection_code,omitempty"`
	RejectionDescription string          `json:"rejection_description,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// NewDecision assembles the persisted record for a request and its outcome.
// The claim ID is assigned by the store at insert time.
func NewDecision(req *AdjudicationRequest, out Outcome, at time.Time) *Decision {
	return &Decision{
		MemberID:             req.MemberID,
		DrugID:               req.DrugID,
		PharmacyID:           req.PharmacyID,
		PrescriptionNumber:   req.PrescriptionNumber,
		DatePrescribed:       req.DatePrescribed,
		DateFilled:           req.DateFilled,
		DaysSupply:           req.DaysSupply,
		QuantityDispensed:    req.QuantityDispensed,
		PrescriberNPI:        req.PrescriberNPI,
		IngredientCost:       req.IngredientCost,
		DispensingFee:        req.DispensingFee,
		TotalAmount:          req.TotalAmount(),
		SalesTax:             decimal.Zero,
		DeductibleAmount:     decimal.Zero,
		MemberCopay:          out.memberCopay,
		PlanPaidAmount:       out.planPaid,
		Status:               out.status,
		RejectionCode:        out.code,
		RejectionDescription: out.description,
		CreatedAt:            at.UTC(),
	}
}
