// Package member holds the member snapshot and the eligibility rules.
package member

import (
	"time"
)

// EligibilityStatus is the enrollment state recorded on a member.
type EligibilityStatus string

const (
	StatusActive     EligibilityStatus = "active"
	StatusInactive   EligibilityStatus = "inactive"
	StatusSuspended  EligibilityStatus = "suspended"
	StatusTerminated EligibilityStatus = "terminated"
)

// Member is reference data owned by the enrollment system and read-only to
// the adjudication engine. TerminationDate, when set, is never before
// EffectiveDate.
type Member struct {
	ID              int64
	PlanID          int64
	ExternalID      string
	Status          EligibilityStatus
	EffectiveDate   time.Time
	TerminationDate *time.Time
}

// ReasonEligible is the reason string for a member who passes every rule.
const ReasonEligible = "eligible"

// Evaluate decides whether a member may receive service on the given date.
// Rules run in order and the first match wins. It is a pure function of the
// member snapshot and the service date.
func Evaluate(m Member, serviceDate time.Time) (bool, string) {
	if m.Status != StatusActive {
		return false, "status: " + string(m.Status)
	}
	day := dateOnly(serviceDate)
	if day.Before(dateOnly(m.EffectiveDate)) {
		return false, "before effective date"
	}
	if m.TerminationDate != nil && day.After(dateOnly(*m.TerminationDate)) {
		return false, "after termination"
	}
	return true, ReasonEligible
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
