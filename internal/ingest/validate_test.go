package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var feedNow = time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

func validFeedRecord() *FeedRecord {
	return &FeedRecord{
		ExternalMemberID:   "MBR000123",
		NDC:                "00071-0155-23",
		PharmacyNPI:        "1234567893",
		PrescriberNPI:      "1234567891",
		PrescriptionNumber: "RX00000001",
		DatePrescribed:     "2026-03-01",
		DateFilled:         "2026-03-15",
		Quantity:           decimal.NewFromInt(30),
		DaysSupply:         30,
		TotalCost:          decimal.NewFromFloat(125.40),
	}
}

func TestValidateAcceptsCleanRecord(t *testing.T) {
	rep := Validate(validFeedRecord(), feedNow)

	assert.True(t, rep.Valid())
	assert.Empty(t, rep.Warnings)
}

func TestValidateNDCFormats(t *testing.T) {
	valid := []string{
		"00071-0155-23", // 5-4-2
		"12345-678-90",  // 5-3-2
		"12345-6789-0",  // 5-4-1
		"1234-5678-90",  // 4-4-2
		"00071015523",   // 11 digits undashed
	}
	for _, ndc := range valid {
		rec := validFeedRecord()
		rec.NDC = ndc
		assert.True(t, Validate(rec, feedNow).Valid(), "ndc %s should be valid", ndc)
	}

	invalid := []string{"", "1234567890", "071-0155-23", "00071_0155_23", "abcde-fgh-ij"}
	for _, ndc := range invalid {
		rec := validFeedRecord()
		rec.NDC = ndc
		assert.False(t, Validate(rec, feedNow).Valid(), "ndc %q should be invalid", ndc)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FeedRecord)
		want   string
	}{
		{"missing member", func(r *FeedRecord) { r.ExternalMemberID = "" }, "member_id"},
		{"missing pharmacy npi", func(r *FeedRecord) { r.PharmacyNPI = "" }, "pharmacy_npi"},
		{"bad pharmacy npi", func(r *FeedRecord) { r.PharmacyNPI = "123" }, "pharmacy_npi"},
		{"bad prescriber npi", func(r *FeedRecord) { r.PrescriberNPI = "abc" }, "prescriber_npi"},
		{"missing fill date", func(r *FeedRecord) { r.DateFilled = "" }, "date_filled"},
		{"garbled fill date", func(r *FeedRecord) { r.DateFilled = "03/15/2026" }, "date_filled"},
		{"garbled prescribed date", func(r *FeedRecord) { r.DatePrescribed = "yesterday" }, "date_prescribed"},
		{"zero quantity", func(r *FeedRecord) { r.Quantity = decimal.Zero }, "quantity"},
		{"negative cost", func(r *FeedRecord) { r.TotalCost = decimal.NewFromInt(-5) }, "total_cost"},
		{"days supply out of range", func(r *FeedRecord) { r.DaysSupply = 400 }, "days_supply"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validFeedRecord()
			tt.mutate(rec)

			rep := Validate(rec, feedNow)
			assert.False(t, rep.Valid())
			assert.True(t, containsSubstring(rep.Errors, tt.want),
				"errors %v should mention %s", rep.Errors, tt.want)
		})
	}
}

func TestValidateFutureFillDate(t *testing.T) {
	rec := validFeedRecord()
	rec.DateFilled = "2026-03-21"

	rep := Validate(rec, feedNow)
	assert.False(t, rep.Valid())
}

func TestValidateWarnings(t *testing.T) {
	rec := validFeedRecord()
	rec.DateFilled = "2025-01-15"
	rec.Quantity = decimal.NewFromInt(5000)
	rec.TotalCost = decimal.NewFromInt(75000)

	rep := Validate(rec, feedNow)

	// Old fills, bulk quantities and outlier costs are suspicious but
	// processable.
	assert.True(t, rep.Valid())
	assert.Len(t, rep.Warnings, 3)
}

func TestValidateOptionalFieldsMayBeEmpty(t *testing.T) {
	rec := validFeedRecord()
	rec.PrescriberNPI = ""
	rec.PrescriptionNumber = ""
	rec.DatePrescribed = ""
	rec.DaysSupply = 0

	assert.True(t, Validate(rec, feedNow).Valid())
}

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
