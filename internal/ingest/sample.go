package ingest

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

var sampleNDCs = []string{
	"00071-0155-23",
	"00093-7214-01",
	"50090-2891-00",
	"00378-1805-01",
	"68645-0522-54",
}

// GenerateSample produces a deterministic batch of feed records for local
// testing, validCount well-formed records plus invalidCount records that each
// break one validation rule.
func GenerateSample(validCount, invalidCount int, seed int64) []FeedRecord {
	rng := rand.New(rand.NewSource(seed))
	now := time.Now().UTC()

	records := make([]FeedRecord, 0, validCount+invalidCount)

	for i := 0; i < validCount; i++ {
		filled := now.AddDate(0, 0, -rng.Intn(30))
		records = append(records, FeedRecord{
			ExternalMemberID:   fmt.Sprintf("MBR%06d", rng.Intn(1000)),
			NDC:                sampleNDCs[rng.Intn(len(sampleNDCs))],
			PharmacyNPI:        fmt.Sprintf("1%09d", rng.Intn(1_000_000_000)),
			PrescriberNPI:      fmt.Sprintf("1%09d", rng.Intn(1_000_000_000)),
			PrescriptionNumber: fmt.Sprintf("RX%08d", rng.Intn(100_000_000)),
			DatePrescribed:     filled.AddDate(0, 0, -rng.Intn(10)).Format("2006-01-02"),
			DateFilled:         filled.Format("2006-01-02"),
			Quantity:           decimal.NewFromInt(int64(1 + rng.Intn(90))),
			DaysSupply:         30,
			TotalCost:          decimal.NewFromFloat(float64(rng.Intn(50000)) / 100),
		})
	}

	breakers := []func(*FeedRecord){
		func(r *FeedRecord) { r.NDC = "not-an-ndc" },
		func(r *FeedRecord) { r.PharmacyNPI = "123" },
		func(r *FeedRecord) { r.DateFilled = now.AddDate(0, 0, 7).Format("2006-01-02") },
		func(r *FeedRecord) { r.Quantity = decimal.Zero },
		func(r *FeedRecord) { r.TotalCost = decimal.NewFromInt(-10) },
		func(r *FeedRecord) { r.ExternalMemberID = "" },
	}

	for i := 0; i < invalidCount; i++ {
		filled := now.AddDate(0, 0, -rng.Intn(30))
		rec := FeedRecord{
			ExternalMemberID:   fmt.Sprintf("MBR%06d", rng.Intn(1000)),
			NDC:                sampleNDCs[rng.Intn(len(sampleNDCs))],
			PharmacyNPI:        fmt.Sprintf("1%09d", rng.Intn(1_000_000_000)),
			PrescriberNPI:      fmt.Sprintf("1%09d", rng.Intn(1_000_000_000)),
			PrescriptionNumber: fmt.Sprintf("RX%08d", rng.Intn(100_000_000)),
			DatePrescribed:     filled.Format("2006-01-02"),
			DateFilled:         filled.Format("2006-01-02"),
			Quantity:           decimal.NewFromInt(int64(1 + rng.Intn(90))),
			DaysSupply:         30,
			TotalCost:          decimal.NewFromFloat(float64(rng.Intn(50000)) / 100),
		}
		breakers[i%len(breakers)](&rec)
		records = append(records, rec)
	}

	return records
}
