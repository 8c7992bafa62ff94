package priorauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func dayPtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}

func TestCovers(t *testing.T) {
	service := day(2026, 3, 15)

	tests := []struct {
		name string
		auth Authorization
		want bool
	}{
		{
			name: "approved open ended",
			auth: Authorization{Status: StatusApproved, ApprovedAt: dayPtr(2026, 1, 1)},
			want: true,
		},
		{
			name: "approved expiring after service",
			auth: Authorization{Status: StatusApproved, ApprovedAt: dayPtr(2026, 1, 1), ExpirationDate: dayPtr(2026, 6, 1)},
			want: true,
		},
		{
			name: "approved expiring on service date",
			auth: Authorization{Status: StatusApproved, ApprovedAt: dayPtr(2026, 1, 1), ExpirationDate: dayPtr(2026, 3, 15)},
			want: true,
		},
		{
			name: "approved but expired",
			auth: Authorization{Status: StatusApproved, ApprovedAt: dayPtr(2025, 1, 1), ExpirationDate: dayPtr(2026, 3, 14)},
			want: false,
		},
		{
			name: "pending",
			auth: Authorization{Status: StatusPending},
			want: false,
		},
		{
			name: "denied",
			auth: Authorization{Status: StatusDenied},
			want: false,
		},
		{
			name: "expired status regardless of dates",
			auth: Authorization{Status: StatusExpired, ExpirationDate: dayPtr(2026, 12, 31)},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.auth.Covers(service))
		})
	}
}

func TestAuthorized(t *testing.T) {
	service := day(2026, 3, 15)

	auths := []Authorization{
		{Status: StatusDenied},
		{Status: StatusApproved, ApprovedAt: dayPtr(2025, 1, 1), ExpirationDate: dayPtr(2025, 12, 31)},
		{Status: StatusApproved, ApprovedAt: dayPtr(2026, 1, 1), ExpirationDate: dayPtr(2026, 12, 31)},
	}

	assert.True(t, Authorized(auths, service))
	assert.False(t, Authorized(auths[:2], service))
	assert.False(t, Authorized(nil, service))
}

func TestAuthorizedIsReadOnly(t *testing.T) {
	// One approval covers any number of fills; nothing is consumed.
	service := day(2026, 3, 15)
	auths := []Authorization{
		{Status: StatusApproved, ApprovedAt: dayPtr(2026, 1, 1)},
	}

	for i := 0; i < 3; i++ {
		assert.True(t, Authorized(auths, service))
	}
}
