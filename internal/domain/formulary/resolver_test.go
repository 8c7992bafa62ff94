package formulary

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
)

func tierPtr(t Tier) *Tier                       { return &t }
func intPtr(i int) *int                          { return &i }
func boolPtr(b bool) *bool                       { return &b }
func decPtr(d decimal.Decimal) *decimal.Decimal  { return &d }
func day(y int, m time.Month, d int) time.Time   { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
func dayPtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}

func TestResolveNoOverride(t *testing.T) {
	drug := Drug{ID: 1, Tier: Tier2, PriorAuthRequired: true, QuantityLimit: intPtr(60)}

	cov := Resolve(drug, nil)

	assert.Equal(t, Tier2, cov.Tier)
	assert.True(t, cov.Copay.Equal(decimal.NewFromInt(25)))
	assert.True(t, cov.RequiresPriorAuth)
	require.NotNil(t, cov.QuantityLimit)
	assert.Equal(t, 60, *cov.QuantityLimit)
}

func TestResolveDrugLevelCopayBeatsTierTable(t *testing.T) {
	drug := Drug{ID: 1, Tier: Tier3, Copay: decPtr(decimal.NewFromFloat(12.50))}

	cov := Resolve(drug, nil)

	assert.True(t, cov.Copay.Equal(decimal.NewFromFloat(12.50)))
}

func TestResolveOverrideCopayBeatsEverything(t *testing.T) {
	drug := Drug{ID: 1, Tier: Tier3, Copay: decPtr(decimal.NewFromFloat(12.50))}
	ov := &Override{CopayAmount: decPtr(decimal.NewFromInt(5))}

	cov := Resolve(drug, ov)

	assert.True(t, cov.Copay.Equal(decimal.NewFromInt(5)))
}

func TestResolveTierOverrideMovesBaseCopay(t *testing.T) {
	// Overriding the tier changes which table entry applies when no explicit
	// copay is set anywhere.
	drug := Drug{ID: 1, Tier: Tier4}
	ov := &Override{TierOverride: tierPtr(Tier1)}

	cov := Resolve(drug, ov)

	assert.Equal(t, Tier1, cov.Tier)
	assert.True(t, cov.Copay.Equal(decimal.NewFromInt(10)))
}

func TestResolveUnsetOverrideFieldsKeepDrugValues(t *testing.T) {
	drug := Drug{ID: 1, Tier: Tier2, PriorAuthRequired: true, QuantityLimit: intPtr(30)}
	ov := &Override{CopayAmount: decPtr(decimal.NewFromInt(5))}

	cov := Resolve(drug, ov)

	assert.Equal(t, Tier2, cov.Tier)
	assert.True(t, cov.RequiresPriorAuth)
	require.NotNil(t, cov.QuantityLimit)
	assert.Equal(t, 30, *cov.QuantityLimit)
}

func TestResolveExplicitFalseOverridesPriorAuth(t *testing.T) {
	// An override explicitly set to false waives the drug's PA requirement;
	// a nil field would have left it in force.
	drug := Drug{ID: 1, Tier: Tier2, PriorAuthRequired: true}
	ov := &Override{PriorAuthOverride: boolPtr(false)}

	cov := Resolve(drug, ov)

	assert.False(t, cov.RequiresPriorAuth)
}

func TestResolveQuantityOverride(t *testing.T) {
	drug := Drug{ID: 1, Tier: Tier1, QuantityLimit: intPtr(90)}
	ov := &Override{QuantityOverride: intPtr(30)}

	cov := Resolve(drug, ov)

	require.NotNil(t, cov.QuantityLimit)
	assert.Equal(t, 30, *cov.QuantityLimit)
}

func TestOverrideContains(t *testing.T) {
	ov := Override{
		EffectiveDate:   day(2026, 1, 1),
		TerminationDate: dayPtr(2026, 7, 1),
	}

	assert.False(t, ov.Contains(day(2025, 12, 31)))
	assert.True(t, ov.Contains(day(2026, 1, 1)))
	assert.True(t, ov.Contains(day(2026, 6, 30)))
	// Half-open window: the termination date itself is outside.
	assert.False(t, ov.Contains(day(2026, 7, 1)))
}

func TestOverrideContainsOpenEnded(t *testing.T) {
	ov := Override{EffectiveDate: day(2026, 1, 1)}

	assert.True(t, ov.Contains(day(2031, 1, 1)))
}

func TestOverrideIndexActive(t *testing.T) {
	idx := NewOverrideIndex()
	idx.Add(Override{
		PlanID: 10, DrugID: 1,
		EffectiveDate:   day(2026, 1, 1),
		TerminationDate: dayPtr(2026, 4, 1),
	})
	idx.Add(Override{
		PlanID: 10, DrugID: 1,
		EffectiveDate: day(2026, 4, 1),
	})

	first, err := idx.Active(10, 1, day(2026, 2, 15))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, day(2026, 1, 1), first.EffectiveDate)

	// Adjacent windows share a boundary without overlapping.
	second, err := idx.Active(10, 1, day(2026, 4, 1))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, day(2026, 4, 1), second.EffectiveDate)

	none, err := idx.Active(10, 2, day(2026, 2, 15))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestOverrideIndexOverlapIsIntegrityError(t *testing.T) {
	idx := NewOverrideIndex()
	idx.Add(Override{
		PlanID: 10, DrugID: 1,
		EffectiveDate:   day(2026, 1, 1),
		TerminationDate: dayPtr(2026, 6, 1),
	})
	idx.Add(Override{
		PlanID: 10, DrugID: 1,
		EffectiveDate: day(2026, 3, 1),
	})

	_, err := idx.Active(10, 1, day(2026, 4, 15))
	require.Error(t, err)
	assert.True(t, claim.IsDataIntegrity(err))

	// Outside the overlapping region lookups still work.
	ov, err := idx.Active(10, 1, day(2026, 1, 15))
	require.NoError(t, err)
	require.NotNil(t, ov)
}
