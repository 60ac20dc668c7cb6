package httpapi

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
)

type memberCounts struct {
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
	Total   int `json:"total"`
}

type statusView struct {
	State       string       `json:"state"`
	Device      string       `json:"device"`
	SessionID   string       `json:"session_id,omitempty"`
	ConnectedAt string       `json:"connected_at,omitempty"`
	Connected   string       `json:"connected,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	LastErrorAt string       `json:"last_error_at,omitempty"`
	Backoff     string       `json:"backoff"`
	LastLoadAt  string       `json:"last_load_at,omitempty"`
	StoreAge    string       `json:"store_age,omitempty"`
	Members     memberCounts `json:"members"`
	Syncs       int          `json:"syncs"`
	Scans       int          `json:"scans"`
	Duplicates  int          `json:"duplicates"`
}

func statusFromSnapshot(s service.Snapshot, now time.Time) statusView {
	v := statusView{
		State:      s.State.String(),
		Device:     s.Device,
		SessionID:  s.SessionID,
		LastError:  s.LastError,
		Backoff:    s.Backoff.String(),
		Members:    memberCounts{Allowed: s.Allowed, Denied: s.Denied, Total: s.Members},
		Syncs:      s.Syncs,
		Scans:      s.Scans,
		Duplicates: s.Duplicates,
	}
	if !s.ConnectedAt.IsZero() && s.SessionID != "" {
		v.ConnectedAt = s.ConnectedAt.UTC().Format(time.RFC3339)
		v.Connected = humanize.RelTime(s.ConnectedAt, now, "ago", "from now")
	}
	if !s.LastErrorAt.IsZero() {
		v.LastErrorAt = s.LastErrorAt.UTC().Format(time.RFC3339)
	}
	if !s.LastLoadAt.IsZero() {
		v.LastLoadAt = s.LastLoadAt.UTC().Format(time.RFC3339)
		v.StoreAge = humanize.RelTime(s.LastLoadAt, now, "ago", "from now")
	}
	return v
}
