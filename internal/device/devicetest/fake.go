// Package devicetest provides scripted in-memory terminals for tests.
package devicetest

import (
	"context"
	"io"
	"sync"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

// Write records one SetUserGroup call.
type Write struct {
	UserID string
	Group  string
}

// Session is a fake terminal session. Zero value is usable. Configure the
// exported error fields before handing it out.
type Session struct {
	mu sync.Mutex

	Users []types.DeviceUser

	DisableErr   error
	EnableErr    error
	ListUsersErr error
	UnlockErr    error
	LiveErr      error
	// WriteErrs fails SetUserGroup for specific user ids.
	WriteErrs map[string]error

	// Events are delivered by the live stream in order. After they run out
	// the stream returns EndErr, or blocks until ctx ends if EndErr is nil.
	Events []types.ScanEvent
	EndErr error

	writes       []Write
	unlocks      []int
	calls        []string
	disconnected int
}

func (s *Session) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *Session) Disable(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("disable")
	return s.DisableErr
}

func (s *Session) Enable(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("enable")
	return s.EnableErr
}

func (s *Session) ListUsers(context.Context) ([]types.DeviceUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("list_users")
	if s.ListUsersErr != nil {
		return nil, s.ListUsersErr
	}
	out := make([]types.DeviceUser, len(s.Users))
	copy(out, s.Users)
	return out, nil
}

func (s *Session) SetUserGroup(_ context.Context, u types.DeviceUser, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("set_group")
	if err := s.WriteErrs[u.UserID]; err != nil {
		return err
	}
	s.writes = append(s.writes, Write{UserID: u.UserID, Group: group})
	return nil
}

func (s *Session) UnlockRelay(_ context.Context, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("unlock")
	s.unlocks = append(s.unlocks, seconds)
	return s.UnlockErr
}

func (s *Session) LiveEvents(context.Context) (device.EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("live_events")
	if s.LiveErr != nil {
		return nil, s.LiveErr
	}
	events := make([]types.ScanEvent, len(s.Events))
	copy(events, s.Events)
	return &stream{events: events, end: s.EndErr}, nil
}

func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected++
	return nil
}

// Writes returns the successful group writes in call order.
func (s *Session) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// Unlocks returns the seconds passed to every UnlockRelay call.
func (s *Session) Unlocks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.unlocks...)
}

// Calls returns the method names invoked, in order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Session) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

type stream struct {
	events []types.ScanEvent
	end    error
}

func (st *stream) Next(ctx context.Context) (types.ScanEvent, error) {
	if err := ctx.Err(); err != nil {
		return types.ScanEvent{}, err
	}
	if len(st.events) > 0 {
		ev := st.events[0]
		st.events = st.events[1:]
		return ev, nil
	}
	if st.end != nil {
		return types.ScanEvent{}, st.end
	}
	<-ctx.Done()
	return types.ScanEvent{}, ctx.Err()
}

// Dialer hands out scripted sessions, one per Dial. A nil entry in Errs
// (or a short Errs) means that attempt succeeds.
type Dialer struct {
	mu       sync.Mutex
	Sessions []*Session
	Errs     []error
	attempts []device.Address
}

func (d *Dialer) Dial(_ context.Context, addr device.Address) (device.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.attempts)
	d.attempts = append(d.attempts, addr)
	if n < len(d.Errs) && d.Errs[n] != nil {
		return nil, d.Errs[n]
	}
	if len(d.Sessions) == 0 {
		return nil, device.Connectivity("dial", io.ErrUnexpectedEOF)
	}
	s := d.Sessions[0]
	if len(d.Sessions) > 1 {
		d.Sessions = d.Sessions[1:]
	}
	return s, nil
}

// Attempts returns how many times Dial was called.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}
