// Package claim defines the adjudication request, the persisted claim
// decision, and the error taxonomy shared by the engine and its callers.
package claim

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable indicates the persistence layer failed and the whole
// adjudication was rolled back. Callers may retry the entire request.
var ErrStoreUnavailable = errors.New("claim record store unavailable")

// ValidationError reports a malformed or out-of-range request field.
// Nothing is persisted when validation fails.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced entity that does not resolve.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// DataIntegrityError reports reference data violating an invariant, such as
// overlapping formulary override windows. The engine fails fast instead of
// picking one arbitrarily.
type DataIntegrityError struct {
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return "data integrity violation: " + e.Detail
}

// ComputationError reports a financial result that cannot be valid, such as a
// copay exceeding the total claim amount. Clamping is not permitted; nothing
// is persisted.
type ComputationError struct {
	Detail string
}

func (e *ComputationError) Error() string {
	return "computation error: " + e.Detail
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDataIntegrity reports whether err is a DataIntegrityError.
func IsDataIntegrity(err error) bool {
	var di *DataIntegrityError
	return errors.As(err, &di)
}

// IsComputation reports whether err is a ComputationError.
func IsComputation(err error) bool {
	var ce *ComputationError
	return errors.As(err, &ce)
}
