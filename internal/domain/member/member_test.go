package member

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func TestEvaluate(t *testing.T) {
	base := Member{
		ID:            1,
		PlanID:        10,
		ExternalID:    "MBR000001",
		Status:        StatusActive,
		EffectiveDate: date(2026, 1, 1),
	}

	tests := []struct {
		name        string
		mutate      func(*Member)
		serviceDate time.Time
		eligible    bool
		reason      string
	}{
		{
			name:        "active within window",
			mutate:      func(m *Member) {},
			serviceDate: date(2026, 3, 5),
			eligible:    true,
			reason:      ReasonEligible,
		},
		{
			name:        "inactive",
			mutate:      func(m *Member) { m.Status = StatusInactive },
			serviceDate: date(2026, 3, 5),
			eligible:    false,
			reason:      "status: inactive",
		},
		{
			name:        "suspended",
			mutate:      func(m *Member) { m.Status = StatusSuspended },
			serviceDate: date(2026, 3, 5),
			eligible:    false,
			reason:      "status: suspended",
		},
		{
			name:        "terminated status beats date rules",
			mutate:      func(m *Member) { m.Status = StatusTerminated },
			serviceDate: date(2025, 6, 1),
			eligible:    false,
			reason:      "status: terminated",
		},
		{
			name:        "before effective date",
			mutate:      func(m *Member) {},
			serviceDate: date(2025, 12, 31),
			eligible:    false,
			reason:      "before effective date",
		},
		{
			name:        "on effective date",
			mutate:      func(m *Member) {},
			serviceDate: date(2026, 1, 1),
			eligible:    true,
			reason:      ReasonEligible,
		},
		{
			name:        "on termination date",
			mutate:      func(m *Member) { m.TerminationDate = datePtr(2026, 6, 30) },
			serviceDate: date(2026, 6, 30),
			eligible:    true,
			reason:      ReasonEligible,
		},
		{
			name:        "after termination date",
			mutate:      func(m *Member) { m.TerminationDate = datePtr(2026, 6, 30) },
			serviceDate: date(2026, 7, 1),
			eligible:    false,
			reason:      "after termination",
		},
		{
			name:        "open ended enrollment",
			mutate:      func(m *Member) {},
			serviceDate: date(2030, 1, 1),
			eligible:    true,
			reason:      ReasonEligible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)

			eligible, reason := Evaluate(m, tt.serviceDate)
			assert.Equal(t, tt.eligible, eligible)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestEvaluateIgnoresTimeOfDay(t *testing.T) {
	m := Member{
		Status:          StatusActive,
		EffectiveDate:   date(2026, 1, 1),
		TerminationDate: datePtr(2026, 6, 30),
	}

	// A fill late on the termination day is still inside the window.
	eligible, _ := Evaluate(m, time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC))
	assert.True(t, eligible)
}
