// Package bridge is the delegate-decision front end: terminal facts go out
// as JSON lines and one-shot commands print a single JSON result, leaving
// every decision to the calling process.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/clock"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

// LocalTimestamp is the zone-less ISO-8601 form downstream consumers parse.
const LocalTimestamp = "2006-01-02T15:04:05"

type StatusEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ConnectedEvent struct {
	Type string `json:"type"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

type ScanEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Emitter writes one JSON object per line. It is both the supervisor's
// ScanHandler and its Observer in monitor mode.
type Emitter struct {
	mu    sync.Mutex
	w     io.Writer
	addr  device.Address
	clock clock.Clock
}

func NewEmitter(w io.Writer, addr device.Address, c clock.Clock) *Emitter {
	return &Emitter{w: w, addr: addr, clock: c}
}

// Emit writes v as a single line.
func (e *Emitter) Emit(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	if f, ok := e.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (e *Emitter) Status(msg string) error {
	return e.Emit(StatusEvent{Type: "status", Message: msg})
}

func (e *Emitter) HandleScan(_ context.Context, _ device.Session, ev types.ScanEvent, _ types.Classification) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = e.clock.Now()
	}
	return e.Emit(ScanEvent{Type: "scan", UserID: ev.UserID, Timestamp: ts.Local().Format(LocalTimestamp)})
}

func (e *Emitter) OnState(s service.State) {
	switch s {
	case service.StateConnecting:
		_ = e.Status("Connecting to " + e.addr.String())
	case service.StateStopped:
		_ = e.Status("Service stopped")
	}
}

func (e *Emitter) OnConnected(addr device.Address) {
	_ = e.Emit(ConnectedEvent{Type: "connected", IP: addr.Host, Port: addr.Port})
}

func (e *Emitter) OnError(err error, retryIn time.Duration) {
	_ = e.Emit(ErrorEvent{Type: "error", Error: err.Error()})
	_ = e.Status(fmt.Sprintf("Reconnecting in %d seconds...", int(retryIn.Seconds())))
}
