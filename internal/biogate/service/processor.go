package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/clock"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

const DefaultUnlockSeconds = 3

// Reporter delivers attendance reports downstream.
type Reporter interface {
	Report(ctx context.Context, r types.AttendanceReport) error
}

// Processor decides each scan against the current classification.
type Processor struct {
	reporter      Reporter
	unlockSeconds int
	clock         clock.Clock
	log           logrus.FieldLogger
}

func NewProcessor(r Reporter, unlockSeconds int, c clock.Clock, log logrus.FieldLogger) *Processor {
	if unlockSeconds <= 0 {
		unlockSeconds = DefaultUnlockSeconds
	}
	return &Processor{reporter: r, unlockSeconds: unlockSeconds, clock: c, log: log}
}

// Process unlocks the door for allowed members and reports every scan.
// A failed unlock is reported as not allowed with ReasonRelayError. Report
// failures are logged and dropped.
func (p *Processor) Process(
	ctx context.Context,
	sess device.Session,
	ev types.ScanEvent,
	cls types.Classification,
) types.AttendanceReport {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = p.clock.Now()
	}
	report := types.AttendanceReport{BiometricID: ev.UserID, Timestamp: ts}

	if m, ok := cls.Member(ev.UserID); ok {
		id, name := m.ID, m.Name
		report.MemberID = &id
		report.MemberName = &name
	}

	log := p.log.WithField("biometric_id", ev.UserID)

	switch {
	case cls.IsAllowed(ev.UserID):
		report.Allowed = true
		report.Reason = types.ReasonAllowed
		if err := sess.UnlockRelay(ctx, p.unlockSeconds); err != nil {
			report.Allowed = false
			report.Reason = types.ReasonRelayError
			log.WithError(err).Warn("door unlock failed")
		}
	case cls.IsDenied(ev.UserID):
		m, _ := cls.Member(ev.UserID)
		report.Reason = denyReason(m)
	default:
		report.Reason = types.ReasonUnknownUser
	}

	log.WithFields(logrus.Fields{
		"allowed": report.Allowed,
		"reason":  report.Reason,
	}).Info("scan processed")

	if err := p.reporter.Report(ctx, report); err != nil {
		log.WithError(err).Warn("attendance report dropped")
	}
	return report
}

func denyReason(m types.MemberRecord) string {
	switch {
	case m.Status != types.MemberActive:
		return types.ReasonInactive
	case m.PaymentStatus == types.PaymentPending:
		return types.ReasonPaymentPending
	case m.PaymentStatus == types.PaymentOverdue:
		return types.ReasonPaymentOverdue
	default:
		return types.ReasonExpired
	}
}
