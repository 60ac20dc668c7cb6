package types

import "time"

// Lifecycle states a member row can carry. Anything other than
// MemberActive counts as not active.
const (
	MemberActive   = "active"
	MemberInactive = "inactive"
)

// Payment states. Pending and overdue block access.
const (
	PaymentCurrent = "current"
	PaymentPending = "pending"
	PaymentOverdue = "overdue"
)

// Access groups written to the terminal. The terminal firmware shows an
// accept for AllowedGroup and a deny for DeniedGroup on its own.
const (
	AllowedGroup = "1"
	DeniedGroup  = "0"
)

// MemberRecord is one row of the member store. Date fields are kept as the
// raw store strings (ISO-8601 or empty).
type MemberRecord struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	BiometricID   string `json:"biometric_id"`
	Status        string `json:"status"`
	StartDate     string `json:"start_date,omitempty"`
	ExpiryDate    string `json:"expiry_date,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

// Classification is the allow/deny split of every member with a biometric
// id. It is built once per store load and never mutated afterwards.
type Classification struct {
	Allowed  map[string]struct{}
	Denied   map[string]struct{}
	Members  map[string]MemberRecord
	LoadedAt time.Time
}

// EmptyClassification returns a classification where everyone is unknown.
func EmptyClassification(at time.Time) Classification {
	return Classification{
		Allowed:  map[string]struct{}{},
		Denied:   map[string]struct{}{},
		Members:  map[string]MemberRecord{},
		LoadedAt: at,
	}
}

func (c Classification) IsAllowed(biometricID string) bool {
	_, ok := c.Allowed[biometricID]
	return ok
}

func (c Classification) IsDenied(biometricID string) bool {
	_, ok := c.Denied[biometricID]
	return ok
}

// Member returns the store snapshot for biometricID, if any.
func (c Classification) Member(biometricID string) (MemberRecord, bool) {
	m, ok := c.Members[biometricID]
	return m, ok
}

func (c Classification) Counts() (allowed, denied, total int) {
	return len(c.Allowed), len(c.Denied), len(c.Members)
}

// DeviceUser is a user enrolled on the terminal itself. UserID is the
// terminal's string id and joins against MemberRecord.BiometricID.
type DeviceUser struct {
	UID       uint16 `json:"uid"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Password  string `json:"-"`
	Card      uint32 `json:"card"`
	Privilege uint8  `json:"privilege"`
	GroupID   string `json:"group_id"`
}
