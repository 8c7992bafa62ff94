package ingest

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// NDC labeler-product-package segment formats. Feeds carry the dashed
// 10-digit layouts (5-3-2, 5-4-1, 4-4-2), the normalized 5-4-2, or the
// 11-digit undashed form from older switches.
var ndcPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d{5}-\d{3}-\d{2}$`),
	regexp.MustCompile(`^\d{5}-\d{4}-\d{1}$`),
	regexp.MustCompile(`^\d{4}-\d{4}-\d{2}$`),
	regexp.MustCompile(`^\d{5}-\d{4}-\d{2}$`),
	regexp.MustCompile(`^\d{11}$`),
}

var npiPattern = regexp.MustCompile(`^\d{10}$`)

var (
	warnQuantityAbove = decimal.NewFromInt(1000)
	warnCostAbove     = decimal.NewFromInt(50000)
)

// Report carries the outcome of feed record validation. Errors make the
// record invalid; warnings are advisory and staged alongside valid records.
type Report struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the record passed validation.
func (r *Report) Valid() bool { return len(r.Errors) == 0 }

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks a raw feed record before normalization. Rules mirror the
// upstream feed contract: required identifiers, NDC and NPI formats, sane
// dates, positive quantity and non-negative cost.
func Validate(rec *FeedRecord, now time.Time) *Report {
	rep := &Report{}

	if rec.ExternalMemberID == "" {
		rep.errorf("member_id is required")
	}

	if rec.NDC == "" {
		rep.errorf("ndc is required")
	} else if !validNDC(rec.NDC) {
		rep.errorf("ndc %q is not a recognized format", rec.NDC)
	}

	if rec.PharmacyNPI == "" {
		rep.errorf("pharmacy_npi is required")
	} else if !npiPattern.MatchString(rec.PharmacyNPI) {
		rep.errorf("pharmacy_npi %q must be a 10-digit NPI", rec.PharmacyNPI)
	}
	if rec.PrescriberNPI != "" && !npiPattern.MatchString(rec.PrescriberNPI) {
		rep.errorf("prescriber_npi %q must be a 10-digit NPI", rec.PrescriberNPI)
	}

	if rec.DateFilled == "" {
		rep.errorf("date_filled is required")
	} else if filled, err := parseFeedDate(rec.DateFilled); err != nil {
		rep.errorf("date_filled: %v", err)
	} else {
		today := now.UTC().Truncate(24 * time.Hour)
		if filled.After(today) {
			rep.errorf("date_filled %s is in the future", rec.DateFilled)
		} else if filled.Before(today.AddDate(-1, 0, 0)) {
			rep.warnf("date_filled %s is more than a year old", rec.DateFilled)
		}
	}

	if rec.DatePrescribed != "" {
		if _, err := parseFeedDate(rec.DatePrescribed); err != nil {
			rep.errorf("date_prescribed: %v", err)
		}
	}

	if !rec.Quantity.IsPositive() {
		rep.errorf("quantity must be positive, got %s", rec.Quantity)
	} else if rec.Quantity.GreaterThan(warnQuantityAbove) {
		rep.warnf("quantity %s exceeds %s units", rec.Quantity, warnQuantityAbove)
	}

	if rec.TotalCost.IsNegative() {
		rep.errorf("total_cost cannot be negative, got %s", rec.TotalCost)
	} else if rec.TotalCost.GreaterThan(warnCostAbove) {
		rep.warnf("total_cost %s exceeds $%s", rec.TotalCost, warnCostAbove)
	}

	if rec.DaysSupply < 0 || rec.DaysSupply > 365 {
		rep.errorf("days_supply must be between 0 and 365, got %d", rec.DaysSupply)
	}

	return rep
}

func validNDC(ndc string) bool {
	for _, p := range ndcPatterns {
		if p.MatchString(ndc) {
			return true
		}
	}
	return false
}
