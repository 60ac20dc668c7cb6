package bridge

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

// SyncOutput is printed by sync-groups. On failure results holds the writes
// attempted before the batch stopped, and is omitted when there were none.
type SyncOutput struct {
	Success  bool
	Results  []service.UserSyncResult
	Rejected []string
	Error    string
}

func (o SyncOutput) MarshalJSON() ([]byte, error) {
	if !o.Success {
		return json.Marshal(struct {
			Success bool                     `json:"success"`
			Results []service.UserSyncResult `json:"results,omitempty"`
			Error   string                   `json:"error"`
		}{false, o.Results, o.Error})
	}
	results := o.Results
	if results == nil {
		results = []service.UserSyncResult{}
	}
	return json.Marshal(struct {
		Success  bool                     `json:"success"`
		Results  []service.UserSyncResult `json:"results"`
		Rejected []string                 `json:"rejected,omitempty"`
	}{true, results, o.Rejected})
}

type UnlockOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type TestOutput struct {
	Success   bool   `json:"success"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// SyncAccessGroups writes the given decisions onto one terminal. Ids the
// terminal does not know are skipped. When an id repeats, the last entry
// wins.
func SyncAccessGroups(
	ctx context.Context,
	dialer device.Dialer,
	addr device.Address,
	members []MemberDecision,
	log logrus.FieldLogger,
) SyncOutput {
	sess, err := dialer.Dial(ctx, addr)
	if err != nil {
		return SyncOutput{Error: err.Error()}
	}
	defer func() { _ = sess.Disconnect() }()

	verdict := make(map[string]bool, len(members))
	for _, m := range members {
		verdict[m.BiometricID] = m.Allowed
	}
	allowed := map[string]struct{}{}
	denied := map[string]struct{}{}
	for id, ok := range verdict {
		if ok {
			allowed[id] = struct{}{}
		} else {
			denied[id] = struct{}{}
		}
	}

	users, err := sess.ListUsers(ctx)
	if err != nil {
		return SyncOutput{Error: err.Error()}
	}

	if err := sess.Disable(ctx); err != nil {
		log.WithError(err).Warn("disable terminal")
	}
	defer func() {
		if err := sess.Enable(ctx); err != nil {
			log.WithError(err).Warn("enable terminal")
		}
	}()

	res, err := service.NewSynchronizer(log).Sync(ctx, sess, allowed, denied, users)
	if err != nil {
		return SyncOutput{Results: res.Results, Error: err.Error()}
	}
	return SyncOutput{Success: true, Results: res.Results}
}

func UnlockDoor(ctx context.Context, dialer device.Dialer, addr device.Address, seconds int) UnlockOutput {
	sess, err := dialer.Dial(ctx, addr)
	if err != nil {
		return UnlockOutput{Error: err.Error()}
	}
	defer func() { _ = sess.Disconnect() }()

	if err := sess.UnlockRelay(ctx, seconds); err != nil {
		return UnlockOutput{Error: err.Error()}
	}
	return UnlockOutput{Success: true}
}

func TestConnection(ctx context.Context, dialer device.Dialer, addr device.Address) TestOutput {
	sess, err := dialer.Dial(ctx, addr)
	if err != nil {
		return TestOutput{Error: err.Error()}
	}
	if err := sess.Disconnect(); err != nil {
		return TestOutput{Error: err.Error()}
	}
	return TestOutput{Success: true, Connected: true}
}
