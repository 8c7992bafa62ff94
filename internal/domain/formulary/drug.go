// Package formulary resolves tier, copay, prior-auth and quantity-limit rules
// for a (plan, drug, date) triple, applying plan-specific date-ranged overrides.
package formulary

import (
	"github.com/shopspring/decimal"
)

// Tier is the cost-sharing category assigned to a drug, 1 (lowest member
// cost) through 4 (highest).
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
	Tier4 Tier = 4
)

// Valid reports whether the tier is within the supported range.
func (t Tier) Valid() bool { return t >= Tier1 && t <= Tier4 }

// baseCopay is the tier-indexed copay table used when neither a plan override
// nor a drug-level copay is present.
var baseCopay = map[Tier]decimal.Decimal{
	Tier1: decimal.NewFromInt(10),
	Tier2: decimal.NewFromInt(25),
	Tier3: decimal.NewFromInt(50),
	Tier4: decimal.NewFromInt(100),
}

// BaseCopay returns the base copay for a tier.
func BaseCopay(t Tier) decimal.Decimal { return baseCopay[t] }

// Drug is catalog reference data, read-only to the engine. Copay, when set,
// is a drug-level amount that takes precedence over the tier table.
type Drug struct {
	ID                int64
	NDC               string
	Name              string
	Tier              Tier
	PriorAuthRequired bool
	QuantityLimit     *int
	Copay             *decimal.Decimal
}
