package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/biogate/internal/biogate/store"
	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/clock"
)

// Classifier turns the member table into an allow/deny split.
type Classifier struct {
	store store.MemberStore
	clock clock.Clock
	log   logrus.FieldLogger
}

func NewClassifier(s store.MemberStore, c clock.Clock, log logrus.FieldLogger) *Classifier {
	return &Classifier{store: s, clock: c, log: log}
}

// Load reads the store and classifies every member with a biometric id.
// A failed read yields an empty classification and a warning; it is never
// returned as an error so the supervisor keeps running with the terminal's
// last known groups.
func (c *Classifier) Load(ctx context.Context) (types.Classification, bool) {
	now := c.clock.Now()
	out := types.EmptyClassification(now)

	rows, err := c.store.ListEligibleMembers(ctx)
	if err != nil {
		c.log.WithError(err).Warn("member store read failed; using empty classification")
		return out, false
	}

	for _, rec := range rows {
		id := strings.TrimSpace(rec.BiometricID)
		if id == "" {
			continue
		}
		rec.BiometricID = id
		out.Members[id] = rec
		if Eligible(rec, now) {
			out.Allowed[id] = struct{}{}
		} else {
			out.Denied[id] = struct{}{}
		}
	}

	allowed, denied, total := out.Counts()
	c.log.WithFields(logrus.Fields{
		"allowed": allowed,
		"denied":  denied,
		"total":   total,
	}).Info("members classified")
	return out, true
}

// Eligible reports whether a member may enter at now. Unparsable dates
// are treated as absent.
func Eligible(rec types.MemberRecord, now time.Time) bool {
	if rec.Status != types.MemberActive {
		return false
	}
	if start, ok := ParseStoreDate(rec.StartDate); ok && now.Before(start) {
		return false
	}
	if expiry, ok := ParseStoreDate(rec.ExpiryDate); ok && now.After(expiry) {
		return false
	}
	return !paymentBlocks(rec.PaymentStatus)
}

func paymentBlocks(status string) bool {
	return status == types.PaymentPending || status == types.PaymentOverdue
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseStoreDate accepts the date shapes the dashboard writes. Every value
// is read as a local wall-clock time; a zone or offset in the string is
// dropped, not converted.
func ParseStoreDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local), true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
