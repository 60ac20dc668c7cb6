package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrNotArray is returned when the member document is not a JSON array.
var ErrNotArray = errors.New("members must be a JSON array")

// MemberDecision is the caller's verdict for one biometric id.
type MemberDecision struct {
	BiometricID string
	Allowed     bool
}

// Validate bounds the id to what the terminal's 24-byte user id holds.
func (m MemberDecision) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.BiometricID, validation.Required, validation.Length(1, 24)),
	)
}

// EntryError rejects a single array element.
type EntryError struct {
	Index int
	Err   error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("member[%d]: %v", e.Index, e.Err)
}

func (e EntryError) Unwrap() error { return e.Err }

type memberEntry struct {
	BiometricID  json.RawMessage `json:"biometricId"`
	BiometricID2 json.RawMessage `json:"biometric_id"`
	Allowed      json.RawMessage `json:"allowed"`
}

// ParseMembers decodes [{"biometricId": "1001", "allowed": true}, ...].
// Ids may be strings or integers under either key. A missing "allowed"
// means false. Bad entries are returned separately and do not fail the
// batch.
func ParseMembers(data []byte) ([]MemberDecision, []EntryError, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNotArray, err)
	}

	var (
		out      []MemberDecision
		rejected []EntryError
	)
	for i, r := range raw {
		m, err := parseEntry(r)
		if err == nil {
			err = m.Validate()
		}
		if err != nil {
			rejected = append(rejected, EntryError{Index: i, Err: err})
			continue
		}
		out = append(out, m)
	}
	return out, rejected, nil
}

func parseEntry(r json.RawMessage) (MemberDecision, error) {
	var e memberEntry
	if err := json.Unmarshal(r, &e); err != nil {
		return MemberDecision{}, errors.New("entry must be an object")
	}

	idRaw := e.BiometricID
	if isNull(idRaw) {
		idRaw = e.BiometricID2
	}
	id, err := parseID(idRaw)
	if err != nil {
		return MemberDecision{}, err
	}

	var allowed bool
	if !isNull(e.Allowed) {
		if err := json.Unmarshal(e.Allowed, &allowed); err != nil {
			return MemberDecision{}, errors.New("allowed must be a boolean")
		}
	}
	return MemberDecision{BiometricID: id, Allowed: allowed}, nil
}

func isNull(r json.RawMessage) bool {
	t := bytes.TrimSpace(r)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func parseID(r json.RawMessage) (string, error) {
	if isNull(r) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(r, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(r, &n); err != nil {
		return "", errors.New("biometricId must be a string or number")
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return "", fmt.Errorf("biometricId %s is not an integer", n)
	}
	return strconv.FormatInt(v, 10), nil
}
