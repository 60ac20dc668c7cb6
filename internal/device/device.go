// Package device defines the terminal session the supervisor drives. The
// wire protocol lives in internal/zk; everything above it depends only on
// these interfaces.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
)

var (
	// ErrConnectivity covers unreachable terminals, timeouts and protocol
	// errors. The session is unusable after it.
	ErrConnectivity = errors.New("device connectivity")

	// ErrDeviceWrite means the terminal rejected a single command. The
	// session stays usable.
	ErrDeviceWrite = errors.New("device write rejected")

	// ErrUnauthorized is returned when the comm key is rejected. It also
	// matches ErrConnectivity.
	ErrUnauthorized = fmt.Errorf("%w: comm key rejected", ErrConnectivity)
)

const (
	TransportUDP = "udp"
	TransportTCP = "tcp"

	DefaultPort    = 4370
	DefaultTimeout = 10 * time.Second
)

// Address is everything needed to reach one terminal.
type Address struct {
	Host      string
	Port      int
	CommKey   int
	Transport string
	Timeout   time.Duration
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Dialer opens sessions. Implementations must honour ctx during connect.
type Dialer interface {
	Dial(ctx context.Context, addr Address) (Session, error)
}

// Session is an authenticated connection to one terminal. Methods are not
// safe for concurrent use; the supervisor goroutine owns the session.
type Session interface {
	// Disable stops the terminal from accepting scans while groups change.
	Disable(ctx context.Context) error
	Enable(ctx context.Context) error

	ListUsers(ctx context.Context) ([]types.DeviceUser, error)
	SetUserGroup(ctx context.Context, u types.DeviceUser, group string) error

	// UnlockRelay energises the door relay for the given seconds.
	UnlockRelay(ctx context.Context, seconds int) error

	// LiveEvents registers for attendance events. The returned stream is
	// valid until it reports an error or the session is disconnected.
	LiveEvents(ctx context.Context) (EventStream, error)

	// Disconnect is safe to call more than once.
	Disconnect() error
}

// EventStream yields scan events pushed by the terminal.
type EventStream interface {
	// Next blocks until an event arrives, the transport fails, or ctx ends.
	// Any error is terminal for the stream.
	Next(ctx context.Context) (types.ScanEvent, error)
}

// Connectivity wraps err so it matches ErrConnectivity.
func Connectivity(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnectivity) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrConnectivity, err)
}

// Rejected wraps err so it matches ErrDeviceWrite.
func Rejected(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrDeviceWrite)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDeviceWrite, err)
}
