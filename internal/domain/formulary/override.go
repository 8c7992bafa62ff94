package formulary

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
)

// Override is a plan-scoped formulary exception with a half-open validity
// window [EffectiveDate, TerminationDate). A nil TerminationDate means the
// override is open-ended. Each field wins over the drug's base attribute only
// when explicitly set.
type Override struct {
	PlanID            int64
	DrugID            int64
	TierOverride      *Tier
	CopayAmount       *decimal.Decimal
	PriorAuthOverride *bool
	QuantityOverride  *int
	EffectiveDate     time.Time
	TerminationDate   *time.Time
}

// Contains reports whether the service date falls inside the validity window.
func (o *Override) Contains(date time.Time) bool {
	day := dateOnly(date)
	if day.Before(dateOnly(o.EffectiveDate)) {
		return false
	}
	if o.TerminationDate != nil && !day.Before(dateOnly(*o.TerminationDate)) {
		return false
	}
	return true
}

type overrideKey struct {
	planID int64
	drugID int64
}

// OverrideIndex is a sorted range index of overrides keyed by (plan, drug).
// It enforces the at-most-one-active invariant at read time: a lookup that
// matches more than one window is a data-integrity error, never an arbitrary
// pick.
type OverrideIndex struct {
	mu      sync.RWMutex
	byScope map[overrideKey][]Override
}

// NewOverrideIndex creates an empty index.
func NewOverrideIndex() *OverrideIndex {
	return &OverrideIndex{byScope: make(map[overrideKey][]Override)}
}

// Add inserts an override, keeping each scope's windows ordered by effective
// date. Overlap is detected lazily at lookup so that bad reference data loaded
// in bulk still surfaces as a read-time integrity failure.
func (idx *OverrideIndex) Add(o Override) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := overrideKey{planID: o.PlanID, drugID: o.DrugID}
	scope := append(idx.byScope[key], o)
	sort.Slice(scope, func(i, j int) bool {
		return scope[i].EffectiveDate.Before(scope[j].EffectiveDate)
	})
	idx.byScope[key] = scope
}

// Active returns the override whose window contains the date, or nil when the
// plan has none for this drug.
func (idx *OverrideIndex) Active(planID, drugID int64, date time.Time) (*Override, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var found *Override
	for i := range idx.byScope[overrideKey{planID: planID, drugID: drugID}] {
		o := idx.byScope[overrideKey{planID: planID, drugID: drugID}][i]
		if !o.Contains(date) {
			continue
		}
		if found != nil {
			return nil, &claim.DataIntegrityError{
				Detail: fmt.Sprintf("multiple active formulary overrides for plan %d drug %d on %s",
					planID, drugID, dateOnly(date).Format("2006-01-02")),
			}
		}
		found = &o
	}
	return found, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
