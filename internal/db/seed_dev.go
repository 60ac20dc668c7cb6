package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeedMember is one row inserted by SeedDev.
type SeedMember struct {
	Name          string
	BiometricID   string
	Status        string
	StartDate     string
	ExpiryDate    string
	PaymentStatus string
	Deleted       bool
}

// DevMembers covers every branch of the access decision: allowed,
// inactive, overdue, pending, expired, not yet started, soft-deleted and
// not enrolled.
func DevMembers(now time.Time) []SeedMember {
	day := 24 * time.Hour
	iso := func(t time.Time) string { return t.Format("2006-01-02") }
	return []SeedMember{
		{Name: "Asha Rao", BiometricID: "1001", Status: "active", StartDate: iso(now.Add(-30 * day)), ExpiryDate: iso(now.Add(30 * day)), PaymentStatus: "current"},
		{Name: "Ben Okafor", BiometricID: "1002", Status: "active", StartDate: iso(now.Add(-30 * day)), ExpiryDate: iso(now.Add(30 * day)), PaymentStatus: "overdue"},
		{Name: "Chen Wei", BiometricID: "1003", Status: "inactive", PaymentStatus: "current"},
		{Name: "Dana Roy", BiometricID: "1004", Status: "active", ExpiryDate: iso(now.Add(-2 * day)), PaymentStatus: "current"},
		{Name: "Eli Moss", BiometricID: "1005", Status: "active", PaymentStatus: "pending"},
		{Name: "Fay Lin", BiometricID: "1006", Status: "active", StartDate: iso(now.Add(7 * day)), PaymentStatus: "current"},
		{Name: "Gus Park", BiometricID: "1007", Status: "active", PaymentStatus: "current", Deleted: true},
		{Name: "Hana Ito", BiometricID: "", Status: "active", PaymentStatus: "current"},
	}
}

// SeedDev inserts members into a freshly migrated dev database.
func SeedDev(ctx context.Context, db *sql.DB, members []SeedMember) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	for _, m := range members {
		var deletedAt any
		if m.Deleted {
			deletedAt = time.Now().UTC().Format(time.RFC3339)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO members(name, biometric_id, status, start_date, expiry_date, payment_status, deleted_at)
VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?);`,
			m.Name, m.BiometricID, m.Status, m.StartDate, m.ExpiryDate, m.PaymentStatus, deletedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed member %q: %w", m.Name, err)
		}
	}

	return tx.Commit()
}
