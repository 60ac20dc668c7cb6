package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/clock"
	"github.com/BrandonDHaskell/biogate/internal/device"
	"github.com/BrandonDHaskell/biogate/internal/device/devicetest"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []types.AttendanceReport
	err     error
}

func (r *recordingReporter) Report(_ context.Context, rep types.AttendanceReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return r.err
}

func (r *recordingReporter) Reports() []types.AttendanceReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.AttendanceReport(nil), r.reports...)
}

func classification(members ...types.MemberRecord) types.Classification {
	cls := types.EmptyClassification(now)
	for _, m := range members {
		cls.Members[m.BiometricID] = m
		if service.Eligible(m, now) {
			cls.Allowed[m.BiometricID] = struct{}{}
		} else {
			cls.Denied[m.BiometricID] = struct{}{}
		}
	}
	return cls
}

func newProcessor(r service.Reporter) *service.Processor {
	log, _ := test.NewNullLogger()
	return service.NewProcessor(r, 0, clock.Fake(now), log)
}

func TestProcess_Scenario(t *testing.T) {
	allowed := active("1001")
	allowed.ID, allowed.Name = 7, "Ana"
	overdue := active("1002")
	overdue.PaymentStatus = types.PaymentOverdue
	cls := classification(allowed, overdue)

	rep := &recordingReporter{}
	p := newProcessor(rep)
	sess := &devicetest.Session{}
	t1 := now.Add(-time.Minute)

	got := p.Process(context.Background(), sess, types.ScanEvent{UserID: "1001", Timestamp: t1}, cls)
	assert.True(t, got.Allowed)
	assert.Equal(t, types.ReasonAllowed, got.Reason)
	assert.Equal(t, t1, got.Timestamp)
	require.NotNil(t, got.MemberID)
	assert.Equal(t, int64(7), *got.MemberID)
	assert.Equal(t, "Ana", *got.MemberName)
	assert.Equal(t, []int{service.DefaultUnlockSeconds}, sess.Unlocks())

	got = p.Process(context.Background(), sess, types.ScanEvent{UserID: "1002", Timestamp: t1}, cls)
	assert.False(t, got.Allowed)
	assert.Equal(t, types.ReasonPaymentOverdue, got.Reason)

	got = p.Process(context.Background(), sess, types.ScanEvent{UserID: "9999"}, cls)
	assert.False(t, got.Allowed)
	assert.Equal(t, types.ReasonUnknownUser, got.Reason)
	assert.Nil(t, got.MemberID)
	assert.Nil(t, got.MemberName)
	assert.Equal(t, now, got.Timestamp, "zero event time falls back to clock")

	assert.Len(t, sess.Unlocks(), 1, "only the allowed scan unlocks")
	assert.Len(t, rep.Reports(), 3)
}

func TestProcess_RelayError(t *testing.T) {
	rep := &recordingReporter{}
	sess := &devicetest.Session{UnlockErr: device.Connectivity("unlock", errors.New("timeout"))}

	got := newProcessor(rep).Process(context.Background(), sess, types.ScanEvent{UserID: "1001"}, classification(active("1001")))
	assert.False(t, got.Allowed)
	assert.Equal(t, types.ReasonRelayError, got.Reason)
	assert.Len(t, sess.Unlocks(), 1)
	require.Len(t, rep.Reports(), 1)
	assert.Equal(t, types.ReasonRelayError, rep.Reports()[0].Reason)
}

func TestProcess_DenyReasonPriority(t *testing.T) {
	inactiveOverdue := types.MemberRecord{BiometricID: "1", Status: types.MemberInactive, PaymentStatus: types.PaymentOverdue, ExpiryDate: "2020-01-01"}
	pending := active("2")
	pending.PaymentStatus = types.PaymentPending
	pending.ExpiryDate = "2020-01-01"
	expired := active("3")
	expired.ExpiryDate = "2020-01-01"
	notStarted := active("4")
	notStarted.StartDate = "2030-01-01"

	cls := classification(inactiveOverdue, pending, expired, notStarted)
	p := newProcessor(&recordingReporter{})
	sess := &devicetest.Session{}

	want := map[string]string{
		"1": types.ReasonInactive,
		"2": types.ReasonPaymentPending,
		"3": types.ReasonExpired,
		"4": types.ReasonExpired,
	}
	for id, reason := range want {
		got := p.Process(context.Background(), sess, types.ScanEvent{UserID: id}, cls)
		assert.False(t, got.Allowed, id)
		assert.Equal(t, reason, got.Reason, id)
	}
	assert.Empty(t, sess.Unlocks())
}

func TestProcess_ReporterFailureIsDropped(t *testing.T) {
	rep := &recordingReporter{err: errors.New("connection refused")}
	got := newProcessor(rep).Process(context.Background(), &devicetest.Session{}, types.ScanEvent{UserID: "1001"}, classification(active("1001")))
	assert.Equal(t, types.ReasonAllowed, got.Reason)
	assert.Len(t, rep.Reports(), 1)
}
