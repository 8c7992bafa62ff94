package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StagingRecord is one feed record captured in claims_staging, valid or not.
// Raw payloads are kept verbatim so rejected records can be inspected and
// resubmitted.
type StagingRecord struct {
	Source    string
	RecordKey string
	RawData   json.RawMessage
	Valid     bool
	Errors    []string
}

// InsertStaging appends a feed record to the staging table.
func (s *Store) InsertStaging(ctx context.Context, rec StagingRecord) error {
	status := "valid"
	if !rec.Valid {
		status = "invalid"
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO claims_staging (source, record_key, raw_data, validation_status, error_messages)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Source, rec.RecordKey, rec.RawData, status, rec.Errors)
	if err != nil {
		return fmt.Errorf("insert staging record: %w", err)
	}
	return nil
}

// ErrUnknownReference indicates a feed record names a member or drug that is
// not on file. The record is marked permanently failed, not retried.
var ErrUnknownReference = errors.New("unknown reference")

// ResolveMemberID maps an external member identifier to the internal key.
func (s *Store) ResolveMemberID(ctx context.Context, externalID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT member_id FROM members WHERE external_member_id = $1`, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: member %q", ErrUnknownReference, externalID)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve member: %w", err)
	}
	return id, nil
}

// ResolveDrugID maps an NDC code to the internal drug key.
func (s *Store) ResolveDrugID(ctx context.Context, ndc string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT drug_id FROM drugs WHERE ndc_code = $1`, ndc).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: ndc %q", ErrUnknownReference, ndc)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve drug: %w", err)
	}
	return id, nil
}
