package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/biogate/internal/biogate/store"
	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
)

type MemberStore struct {
	db *sql.DB
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

// ListEligibleMembers reads every member with a biometric id that has not
// been soft-deleted. The dashboard stores deleted_at as either NULL or an
// empty string for live rows.
func (s *MemberStore) ListEligibleMembers(ctx context.Context) ([]types.MemberRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, biometric_id, status, start_date, expiry_date, payment_status
FROM members
WHERE biometric_id IS NOT NULL
  AND TRIM(biometric_id) != ''
  AND (deleted_at IS NULL OR deleted_at = '')
ORDER BY id;
`)
	if err != nil {
		return nil, fmt.Errorf("%w: ListEligibleMembers query: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []types.MemberRecord
	for rows.Next() {
		var (
			rec       types.MemberRecord
			name      sql.NullString
			bioID     sql.NullString
			status    sql.NullString
			startDate sql.NullString
			expiry    sql.NullString
			payment   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &name, &bioID, &status, &startDate, &expiry, &payment); err != nil {
			return nil, fmt.Errorf("ListEligibleMembers scan: %w", err)
		}
		rec.Name = name.String
		rec.BiometricID = strings.TrimSpace(bioID.String)
		rec.Status = status.String
		rec.StartDate = startDate.String
		rec.ExpiryDate = expiry.String
		rec.PaymentStatus = payment.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListEligibleMembers rows: %w", err)
	}

	return out, nil
}
