// Package priorauth gates coverage on an approved, unexpired prior
// authorization for a (member, drug) pair.
package priorauth

import (
	"time"
)

// Status is the review state of an authorization request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Authorization is reference data owned by the PA review workflow and
// read-only to the engine. An approved authorization always carries an
// approval date.
type Authorization struct {
	ID             int64
	MemberID       int64
	DrugID         int64
	Status         Status
	ApprovedAt     *time.Time
	ExpirationDate *time.Time
}

// Covers reports whether this authorization satisfies a fill on the service
// date: approved, and either open-ended or expiring on or after the date.
func (a *Authorization) Covers(serviceDate time.Time) bool {
	if a.Status != StatusApproved {
		return false
	}
	if a.ExpirationDate == nil {
		return true
	}
	return !dateOnly(*a.ExpirationDate).Before(dateOnly(serviceDate))
}

// Authorized reports whether any authorization on file covers the service
// date. The check is read-only: authorizations are never consumed or
// decremented, so concurrent claims against one approval all pass.
func Authorized(auths []Authorization, serviceDate time.Time) bool {
	for i := range auths {
		if auths[i].Covers(serviceDate) {
			return true
		}
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
