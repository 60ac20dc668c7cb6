package types

import "time"

// Reason codes carried on every attendance report.
const (
	ReasonAllowed        = "allowed"
	ReasonRelayError     = "relay_error"
	ReasonInactive       = "inactive"
	ReasonPaymentPending = "payment_" + PaymentPending
	ReasonPaymentOverdue = "payment_" + PaymentOverdue
	ReasonExpired        = "expired"
	ReasonUnknownUser    = "unknown_user"
)

// ScanEvent is a single verification reported by the terminal's live
// stream. Timestamp is the terminal's own clock and may be zero.
type ScanEvent struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Status    uint8     `json:"status,omitempty"`
	Punch     uint8     `json:"punch,omitempty"`
}

// DedupKey identifies a replayed event. Terminals resend the same
// (user, timestamp) pair after a reconnect.
func (e ScanEvent) DedupKey() string {
	if e.Timestamp.IsZero() {
		return e.UserID + "-none"
	}
	return e.UserID + "-" + e.Timestamp.Format(time.RFC3339)
}

// AttendanceReport is the outbound fact sent for every processed scan.
type AttendanceReport struct {
	BiometricID string    `json:"biometricId"`
	MemberID    *int64    `json:"memberId"`
	MemberName  *string   `json:"memberName"`
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}
