package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
	"github.com/BrandonDHaskell/biogate/internal/biogate/store/memory"
	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/clock"
)

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func active(id string) types.MemberRecord {
	return types.MemberRecord{BiometricID: id, Status: types.MemberActive, PaymentStatus: types.PaymentCurrent}
}

// ── Eligible ────────────────────────────────────────────────────────────────

func TestEligible(t *testing.T) {
	// Store dates are wall-clock local times, so compare against a local now.
	at := time.Date(2026, 6, 15, 12, 0, 0, 0, time.Local)
	cases := []struct {
		name string
		mod  func(*types.MemberRecord)
		want bool
	}{
		{"active current no dates", func(*types.MemberRecord) {}, true},
		{"empty payment", func(r *types.MemberRecord) { r.PaymentStatus = "" }, true},
		{"inactive", func(r *types.MemberRecord) { r.Status = types.MemberInactive }, false},
		{"unknown status", func(r *types.MemberRecord) { r.Status = "frozen" }, false},
		{"pending", func(r *types.MemberRecord) { r.PaymentStatus = types.PaymentPending }, false},
		{"overdue", func(r *types.MemberRecord) { r.PaymentStatus = types.PaymentOverdue }, false},
		{"not started", func(r *types.MemberRecord) { r.StartDate = "2026-07-01" }, false},
		{"started", func(r *types.MemberRecord) { r.StartDate = "2026-01-01T00:00:00Z" }, true},
		{"expired", func(r *types.MemberRecord) { r.ExpiryDate = "2026-06-15T11:59:59Z" }, false},
		{"expires exactly now", func(r *types.MemberRecord) { r.ExpiryDate = "2026-06-15T12:00:00Z" }, true},
		{"offset dropped", func(r *types.MemberRecord) { r.ExpiryDate = "2026-06-15T11:30:00-05:00" }, false},
		{"fractional expiry", func(r *types.MemberRecord) { r.ExpiryDate = "2026-06-15T12:00:00.5Z" }, true},
		{"unparsable start", func(r *types.MemberRecord) { r.StartDate = "soon" }, true},
		{"unparsable expiry", func(r *types.MemberRecord) { r.ExpiryDate = "15/06/2024" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := active("1001")
			tc.mod(&rec)
			assert.Equal(t, tc.want, service.Eligible(rec, at))
		})
	}
}

func TestParseStoreDate_DropsZone(t *testing.T) {
	got, ok := service.ParseStoreDate("2026-06-30T23:59:59Z")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 6, 30, 23, 59, 59, 0, time.Local), got)

	got, ok = service.ParseStoreDate("2026-06-30T23:59:59.5-12:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 6, 30, 23, 59, 59, 500_000_000, time.Local), got)
}

func TestEligible_ZonedExpiryComparedAsWallClock(t *testing.T) {
	rec := types.MemberRecord{
		BiometricID:   "1001",
		Status:        types.MemberActive,
		PaymentStatus: types.PaymentCurrent,
		ExpiryDate:    "2026-06-30T23:59:59-12:00",
	}
	assert.False(t, service.Eligible(rec, time.Date(2026, 7, 1, 0, 30, 0, 0, time.Local)))
	assert.True(t, service.Eligible(rec, time.Date(2026, 6, 30, 23, 0, 0, 0, time.Local)))
}

func TestParseStoreDate_LocalWhenZoneless(t *testing.T) {
	got, ok := service.ParseStoreDate("2026-06-15 08:30:00")
	require.True(t, ok)
	assert.Equal(t, time.Local, got.Location())
	assert.Equal(t, 8, got.Hour())

	got, ok = service.ParseStoreDate("2026-06-15T08:30:00.123")
	require.True(t, ok)
	assert.Equal(t, 123*time.Millisecond, time.Duration(got.Nanosecond()))

	_, ok = service.ParseStoreDate("   ")
	assert.False(t, ok)
}

// ── Load ────────────────────────────────────────────────────────────────────

func TestLoad_SplitsAllowedAndDenied(t *testing.T) {
	overdue := active("1002")
	overdue.PaymentStatus = types.PaymentOverdue
	padded := active("  1003 ")

	st := memory.NewMemberStore(active("1001"), overdue, padded, types.MemberRecord{BiometricID: " ", Status: types.MemberActive})
	log, _ := test.NewNullLogger()
	c := service.NewClassifier(st, clock.Fake(now), log)

	got, ok := c.Load(context.Background())
	require.True(t, ok)

	assert.True(t, got.IsAllowed("1001"))
	assert.True(t, got.IsDenied("1002"))
	assert.True(t, got.IsAllowed("1003"), "ids are trimmed")
	assert.False(t, got.IsAllowed(""))
	assert.False(t, got.IsDenied(""))

	a, d, total := got.Counts()
	assert.Equal(t, []int{2, 1, 3}, []int{a, d, total})
	assert.Equal(t, now, got.LoadedAt)
}

func TestLoad_StoreFailureIsSoft(t *testing.T) {
	st := memory.NewMemberStore(active("1001"))
	st.FailWith(errors.New("database is locked"))
	log, hook := test.NewNullLogger()

	got, ok := service.NewClassifier(st, clock.Fake(now), log).Load(context.Background())
	assert.False(t, ok)
	_, _, total := got.Counts()
	assert.Zero(t, total)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
