package formulary

import (
	"github.com/shopspring/decimal"
)

// Coverage is the resolved rule set for a (plan, drug, date) triple.
type Coverage struct {
	Tier              Tier
	Copay             decimal.Decimal
	RequiresPriorAuth bool
	QuantityLimit     *int
}

// Resolve merges a drug's base attributes with an active plan override. An
// override field applies only when explicitly set; otherwise the drug value
// holds. Copay falls back to the tier table computed against the resolved
// tier, so a tier override changes which base copay applies.
func Resolve(drug Drug, override *Override) Coverage {
	cov := Coverage{
		Tier:              drug.Tier,
		RequiresPriorAuth: drug.PriorAuthRequired,
		QuantityLimit:     drug.QuantityLimit,
	}

	if override != nil {
		if override.TierOverride != nil {
			cov.Tier = *override.TierOverride
		}
		if override.PriorAuthOverride != nil {
			cov.RequiresPriorAuth = *override.PriorAuthOverride
		}
		if override.QuantityOverride != nil {
			cov.QuantityLimit = override.QuantityOverride
		}
	}

	switch {
	case override != nil && override.CopayAmount != nil:
		cov.Copay = *override.CopayAmount
	case drug.Copay != nil:
		cov.Copay = *drug.Copay
	default:
		cov.Copay = BaseCopay(cov.Tier)
	}

	return cov
}
