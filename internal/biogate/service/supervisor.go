package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/clock"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

const (
	DefaultRefreshInterval = 300 * time.Second
	DefaultBackoffFloor    = 2 * time.Second
	DefaultBackoffCap      = 60 * time.Second
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSettingUp
	StateMonitoring
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSettingUp:
		return "setting_up"
	case StateMonitoring:
		return "monitoring"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ScanHandler receives every fresh, non-duplicate scan.
type ScanHandler interface {
	HandleScan(ctx context.Context, sess device.Session, ev types.ScanEvent, cls types.Classification) error
}

// ProcessorHandler decides scans locally.
type ProcessorHandler struct{ *Processor }

func (h ProcessorHandler) HandleScan(ctx context.Context, sess device.Session, ev types.ScanEvent, cls types.Classification) error {
	h.Process(ctx, sess, ev, cls)
	return nil
}

// Observer is notified of lifecycle changes. Calls come from the
// supervisor goroutine and must not block.
type Observer interface {
	OnState(s State)
	OnConnected(addr device.Address)
	OnError(err error, retryIn time.Duration)
}

type NopObserver struct{}

func (NopObserver) OnState(State)                {}
func (NopObserver) OnConnected(device.Address)   {}
func (NopObserver) OnError(error, time.Duration) {}

// Observers fans out to each observer in order.
type Observers []Observer

func (o Observers) OnState(s State) {
	for _, ob := range o {
		ob.OnState(s)
	}
}

func (o Observers) OnConnected(addr device.Address) {
	for _, ob := range o {
		ob.OnConnected(addr)
	}
}

func (o Observers) OnError(err error, retryIn time.Duration) {
	for _, ob := range o {
		ob.OnError(err, retryIn)
	}
}

type SupervisorConfig struct {
	Address         device.Address
	RefreshInterval time.Duration
	DedupCapacity   int
	BackoffFloor    time.Duration
	BackoffCap      time.Duration
}

// Snapshot is a point-in-time copy of supervisor state for status readers.
type Snapshot struct {
	State       State
	Device      string
	SessionID   string
	ConnectedAt time.Time
	LastError   string
	LastErrorAt time.Time
	Backoff     time.Duration
	LastLoadAt  time.Time
	Allowed     int
	Denied      int
	Members     int
	Syncs       int
	Scans       int
	Duplicates  int
}

// Supervisor owns the terminal session. It connects with backoff, brings
// access groups up to date, and feeds live scans to the handler until ctx
// is cancelled.
type Supervisor struct {
	cfg        SupervisorConfig
	dialer     device.Dialer
	classifier *Classifier
	sync       *Synchronizer
	handler    ScanHandler
	observer   Observer
	clock      clock.Clock
	log        logrus.FieldLogger

	// Owned by the Run goroutine.
	dedup       *Dedup
	cls         types.Classification
	loaded      bool
	lastLoad    time.Time
	lastAttempt time.Time
	mustResync  bool

	mu   sync.Mutex
	snap Snapshot
}

// NewSupervisor builds a supervisor. classifier may be nil, in which case
// no store is read and no groups are written.
func NewSupervisor(
	cfg SupervisorConfig,
	dialer device.Dialer,
	classifier *Classifier,
	handler ScanHandler,
	observer Observer,
	c clock.Clock,
	log logrus.FieldLogger,
) *Supervisor {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = DefaultBackoffFloor
	}
	if cfg.BackoffCap < cfg.BackoffFloor {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Supervisor{
		cfg:        cfg,
		dialer:     dialer,
		classifier: classifier,
		sync:       NewSynchronizer(log),
		handler:    handler,
		observer:   observer,
		clock:      c,
		log:        log.WithField("device", cfg.Address.String()),
		dedup:      NewDedup(cfg.DedupCapacity),
		cls:        types.EmptyClassification(c.Now()),
		snap:       Snapshot{Device: cfg.Address.String(), Backoff: cfg.BackoffFloor},
	}
}

// Run blocks until ctx is cancelled. It returns nil on cancellation; every
// other failure is retried.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.classifier != nil {
		s.reload(ctx)
	}

	backoff := s.cfg.BackoffFloor
	for ctx.Err() == nil {
		s.setState(StateConnecting)
		sess, err := s.dialer.Dial(ctx, s.cfg.Address)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if !s.retryAfter(ctx, fmt.Errorf("connect: %w", err), backoff) {
				break
			}
			backoff = nextBackoff(backoff, s.cfg.BackoffCap)
			continue
		}

		backoff = s.cfg.BackoffFloor
		sid := uuid.NewString()
		s.connected(sid, backoff)
		s.observer.OnConnected(s.cfg.Address)

		log := s.log.WithField("session_id", sid)
		log.Info("terminal connected")

		recycle, err := s.runSession(ctx, sess, log)
		if derr := sess.Disconnect(); derr != nil {
			log.WithError(derr).Debug("disconnect")
		}
		if ctx.Err() != nil {
			break
		}
		s.setState(StateDisconnected)
		if recycle {
			log.Info("refresh interval elapsed; recycling session")
			continue
		}
		if !s.retryAfter(ctx, err, backoff) {
			break
		}
		backoff = nextBackoff(backoff, s.cfg.BackoffCap)
	}

	s.setState(StateStopped)
	s.log.Info("supervisor stopped")
	return nil
}

// runSession performs setup and then monitors until the stream fails, the
// handler fails, or the refresh interval elapses (recycle == true).
func (s *Supervisor) runSession(ctx context.Context, sess device.Session, log logrus.FieldLogger) (recycle bool, err error) {
	s.setState(StateSettingUp)

	if s.classifier != nil && s.refreshDue() {
		s.reload(ctx)
	}

	if err := sess.Disable(ctx); err != nil {
		log.WithError(err).Warn("disable terminal")
	}
	if s.classifier != nil && s.mustResync {
		if err := s.resync(ctx, sess); err != nil {
			// Leave the terminal scanning even though the session is dropped.
			if eerr := sess.Enable(ctx); eerr != nil {
				log.WithError(eerr).Debug("enable after failed sync")
			}
			return false, err
		}
	}
	if err := sess.Enable(ctx); err != nil {
		log.WithError(err).Warn("enable terminal")
	}

	stream, err := sess.LiveEvents(ctx)
	if err != nil {
		return false, fmt.Errorf("register live events: %w", err)
	}

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.classifier != nil {
		timer := s.clock.AfterFunc(s.untilRefresh(), cancel)
		defer timer.Stop()
	}

	s.setState(StateMonitoring)
	for {
		ev, err := stream.Next(mctx)
		if err != nil {
			if mctx.Err() != nil && ctx.Err() == nil {
				return true, nil
			}
			return false, fmt.Errorf("live events: %w", err)
		}
		if ev.UserID == "" {
			continue
		}
		if s.dedup.Seen(ev.DedupKey()) {
			s.count(func(sn *Snapshot) { sn.Duplicates++ })
			log.WithField("biometric_id", ev.UserID).Debug("duplicate scan dropped")
			continue
		}
		if err := s.handler.HandleScan(ctx, sess, ev, s.cls); err != nil {
			return false, fmt.Errorf("handle scan: %w", err)
		}
		s.count(func(sn *Snapshot) { sn.Scans++ })
	}
}

func (s *Supervisor) resync(ctx context.Context, sess device.Session) error {
	users, err := sess.ListUsers(ctx)
	if err != nil {
		if errors.Is(err, device.ErrConnectivity) {
			return fmt.Errorf("list users: %w", err)
		}
		s.log.WithError(err).Warn("list users rejected; resync deferred")
		return nil
	}
	if _, err := s.sync.Sync(ctx, sess, s.cls.Allowed, s.cls.Denied, users); err != nil {
		return fmt.Errorf("sync groups: %w", err)
	}
	s.mustResync = false
	s.count(func(sn *Snapshot) { sn.Syncs++ })
	return nil
}

func (s *Supervisor) reload(ctx context.Context) {
	now := s.clock.Now()
	s.lastAttempt = now
	cls, ok := s.classifier.Load(ctx)
	s.cls = cls
	s.mustResync = true
	if ok {
		s.loaded = true
		s.lastLoad = now
	}

	allowed, denied, total := cls.Counts()
	s.count(func(sn *Snapshot) {
		if ok {
			sn.LastLoadAt = now
		}
		sn.Allowed, sn.Denied, sn.Members = allowed, denied, total
	})
}

func (s *Supervisor) refreshDue() bool {
	if !s.loaded {
		return true
	}
	return s.clock.Now().Sub(s.lastLoad) >= s.cfg.RefreshInterval
}

// untilRefresh is measured from the last load attempt so a failing store
// is retried once per interval rather than on every setup.
func (s *Supervisor) untilRefresh() time.Duration {
	d := s.lastAttempt.Add(s.cfg.RefreshInterval).Sub(s.clock.Now())
	if d <= 0 {
		return s.cfg.RefreshInterval
	}
	return d
}

// retryAfter records err and sleeps for d. It reports false if ctx ended
// first.
func (s *Supervisor) retryAfter(ctx context.Context, err error, d time.Duration) bool {
	s.setState(StateDisconnected)
	now := s.clock.Now()
	s.count(func(sn *Snapshot) {
		sn.LastError = err.Error()
		sn.LastErrorAt = now
		sn.Backoff = d
		sn.SessionID = ""
	})
	s.log.WithError(err).WithField("retry_in", d.String()).Warn("terminal session lost")
	s.observer.OnError(err, d)

	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}

func (s *Supervisor) connected(sessionID string, backoff time.Duration) {
	now := s.clock.Now()
	s.count(func(sn *Snapshot) {
		sn.SessionID = sessionID
		sn.ConnectedAt = now
		sn.Backoff = backoff
	})
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	changed := s.snap.State != st
	s.snap.State = st
	s.mu.Unlock()
	if changed {
		s.log.WithField("state", st.String()).Debug("state change")
	}
	s.observer.OnState(st)
}

func (s *Supervisor) count(f func(*Snapshot)) {
	s.mu.Lock()
	f(&s.snap)
	s.mu.Unlock()
}

// Snapshot is safe to call from any goroutine.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
