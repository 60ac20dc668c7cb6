package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
)

// MemberStore is an in-memory member table. It is intended for use in
// tests and dev environments.
type MemberStore struct {
	mu      sync.RWMutex
	members []types.MemberRecord
	err     error
	calls   int
}

func NewMemberStore(members ...types.MemberRecord) *MemberStore {
	return &MemberStore{members: members}
}

// Set replaces the whole table.
func (s *MemberStore) Set(members ...types.MemberRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = members
}

// FailWith makes every following read return err. Pass nil to recover.
func (s *MemberStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemberStore) ListEligibleMembers(_ context.Context) ([]types.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]types.MemberRecord, 0, len(s.members))
	for _, m := range s.members {
		if strings.TrimSpace(m.BiometricID) == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Calls returns how many times the table was read. Test-only helper.
func (s *MemberStore) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}
