package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/BrandonDHaskell/biogate/internal/biogate/store"
	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/db"
)

// FileStore opens the dashboard database read-only on first use and
// reopens it after any failure, so a file that appears later or is
// replaced under us is picked up on the next read.
type FileStore struct {
	path string

	mu   sync.Mutex
	conn *sql.DB
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) ListEligibleMembers(ctx context.Context) ([]types.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := db.Open(ctx, db.Config{Path: s.path, ReadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		s.conn = conn
	}

	out, err := NewMemberStore(s.conn).ListEligibleMembers(ctx)
	if err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return nil, err
	}
	return out, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
