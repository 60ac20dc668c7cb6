package store

import (
	"context"
	"errors"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
)

// ErrUnavailable reports that the member store could not be read at all
// (missing file, locked, bad schema).
var ErrUnavailable = errors.New("member store unavailable")

// MemberStore is the read-only boundary to the membership records.
type MemberStore interface {
	// ListEligibleMembers returns every member that has a non-empty
	// biometric id and is not soft-deleted.
	ListEligibleMembers(ctx context.Context) ([]types.MemberRecord, error)
}
