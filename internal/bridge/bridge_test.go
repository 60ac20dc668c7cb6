package bridge_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/bridge"
	"github.com/BrandonDHaskell/biogate/internal/clock"
	"github.com/BrandonDHaskell/biogate/internal/device"
	"github.com/BrandonDHaskell/biogate/internal/device/devicetest"
)

var addr = device.Address{Host: "192.168.1.81", Port: 4370}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

// ── Emitter ─────────────────────────────────────────────────────────────────

func TestEmitter_Lines(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 6, 15, 8, 30, 0, 0, time.Local)
	e := bridge.NewEmitter(&buf, addr, clock.Fake(now))

	e.OnState(service.StateConnecting)
	e.OnConnected(addr)
	require.NoError(t, e.HandleScan(context.Background(), nil, types.ScanEvent{UserID: "1001"}, types.Classification{}))
	e.OnError(errors.New("timed out"), 4*time.Second)

	got := lines(t, &buf)
	require.Len(t, got, 5)
	assert.Equal(t, map[string]any{"type": "status", "message": "Connecting to 192.168.1.81:4370"}, got[0])
	assert.Equal(t, map[string]any{"type": "connected", "ip": "192.168.1.81", "port": float64(4370)}, got[1])
	assert.Equal(t, map[string]any{"type": "scan", "userId": "1001", "timestamp": "2026-06-15T08:30:00"}, got[2])
	assert.Equal(t, map[string]any{"type": "error", "error": "timed out"}, got[3])
	assert.Equal(t, "Reconnecting in 4 seconds...", got[4]["message"])
}

// ── ParseMembers ────────────────────────────────────────────────────────────

func TestParseMembers(t *testing.T) {
	doc := `[
		{"biometricId": "1001", "allowed": true},
		{"biometric_id": 1002, "allowed": false},
		{"biometricId": 1003},
		{"biometricId": "", "allowed": true},
		{"biometricId": 1.5, "allowed": true},
		{"biometricId": "1006", "allowed": "yes"},
		"1007",
		{"biometricId": "abcdefghijklmnopqrstuvwxyz", "allowed": true}
	]`
	got, rejected, err := bridge.ParseMembers([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, []bridge.MemberDecision{
		{BiometricID: "1001", Allowed: true},
		{BiometricID: "1002", Allowed: false},
		{BiometricID: "1003", Allowed: false},
	}, got)

	idx := make([]int, 0, len(rejected))
	for _, r := range rejected {
		idx = append(idx, r.Index)
	}
	assert.Equal(t, []int{3, 4, 5, 6, 7}, idx)
}

func TestParseMembers_NotArray(t *testing.T) {
	_, _, err := bridge.ParseMembers([]byte(`{"biometricId": "1"}`))
	assert.ErrorIs(t, err, bridge.ErrNotArray)
}

// ── One-shot operations ─────────────────────────────────────────────────────

func TestSyncAccessGroups(t *testing.T) {
	sess := &devicetest.Session{Users: []types.DeviceUser{{UID: 1, UserID: "1001"}, {UID: 2, UserID: "1002"}}}
	d := &devicetest.Dialer{Sessions: []*devicetest.Session{sess}}
	log, _ := test.NewNullLogger()

	out := bridge.SyncAccessGroups(context.Background(), d, addr, []bridge.MemberDecision{
		{BiometricID: "1001", Allowed: true},
		{BiometricID: "1002", Allowed: true},
		{BiometricID: "1002", Allowed: false},
		{BiometricID: "9999", Allowed: true},
	}, log)

	require.True(t, out.Success, out.Error)
	assert.Equal(t, []devicetest.Write{
		{UserID: "1001", Group: types.AllowedGroup},
		{UserID: "1002", Group: types.DeniedGroup},
	}, sess.Writes())
	assert.Equal(t, 1, sess.Disconnects())

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"results":[
		{"userId":"1001","success":true,"allowed":true},
		{"userId":"1002","success":true,"allowed":false}
	]}`, string(b))
}

func TestSyncAccessGroups_ConnectivityKeepsResultsAndEnables(t *testing.T) {
	sess := &devicetest.Session{
		Users:     []types.DeviceUser{{UID: 1, UserID: "1001"}, {UID: 2, UserID: "1002"}},
		WriteErrs: map[string]error{"1001": device.Connectivity("write", errors.New("timeout"))},
	}
	d := &devicetest.Dialer{Sessions: []*devicetest.Session{sess}}
	log, _ := test.NewNullLogger()

	out := bridge.SyncAccessGroups(context.Background(), d, addr, []bridge.MemberDecision{
		{BiometricID: "1001", Allowed: true},
		{BiometricID: "1002", Allowed: false},
	}, log)

	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "timeout")
	require.Len(t, out.Results, 1)
	assert.Equal(t, "1001", out.Results[0].UserID)
	assert.False(t, out.Results[0].Success)
	assert.Equal(t, []string{"list_users", "disable", "set_group", "enable"}, sess.Calls())
	assert.Equal(t, 1, sess.Disconnects())

	b, err := json.Marshal(out)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, false, m["success"])
	assert.Len(t, m["results"], 1)
}

func TestSyncAccessGroups_DialFailure(t *testing.T) {
	d := &devicetest.Dialer{Errs: []error{device.Connectivity("dial", errors.New("no route to host"))}}
	log, _ := test.NewNullLogger()

	out := bridge.SyncAccessGroups(context.Background(), d, addr, nil, log)
	b, err := json.Marshal(out)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, false, m["success"])
	assert.Contains(t, m["error"], "no route to host")
	assert.NotContains(t, m, "results")
}

func TestUnlockDoor(t *testing.T) {
	sess := &devicetest.Session{}
	out := bridge.UnlockDoor(context.Background(), &devicetest.Dialer{Sessions: []*devicetest.Session{sess}}, addr, 5)
	assert.Equal(t, bridge.UnlockOutput{Success: true}, out)
	assert.Equal(t, []int{5}, sess.Unlocks())

	failing := &devicetest.Session{UnlockErr: device.Rejected("unlock", nil)}
	out = bridge.UnlockDoor(context.Background(), &devicetest.Dialer{Sessions: []*devicetest.Session{failing}}, addr, 5)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
}

func TestTestConnection(t *testing.T) {
	out := bridge.TestConnection(context.Background(), &devicetest.Dialer{Sessions: []*devicetest.Session{{}}}, addr)
	assert.Equal(t, bridge.TestOutput{Success: true, Connected: true}, out)

	out = bridge.TestConnection(context.Background(), &devicetest.Dialer{Errs: []error{device.ErrUnauthorized}}, addr)
	assert.False(t, out.Connected)
	assert.Contains(t, out.Error, "comm key rejected")
}
