package service

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

// UserSyncResult is the outcome for one terminal user.
type UserSyncResult struct {
	UserID  string `json:"userId"`
	Success bool   `json:"success"`
	Allowed bool   `json:"allowed"`
	Error   string `json:"error,omitempty"`
}

type SyncResult struct {
	Assigned int
	Failed   int
	Skipped  int
	Results  []UserSyncResult
}

// Synchronizer writes allow/deny groups onto the terminal's users. The
// caller must have scanning disabled for the duration of Sync.
type Synchronizer struct {
	log logrus.FieldLogger
}

func NewSynchronizer(log logrus.FieldLogger) *Synchronizer {
	return &Synchronizer{log: log}
}

// Sync assigns AllowedGroup to terminal users in allowed and DeniedGroup
// to those in denied. Users in neither set are left untouched. A rejected
// write is recorded and the batch continues; a connectivity failure stops
// the batch and is returned with the partial result.
func (s *Synchronizer) Sync(
	ctx context.Context,
	sess device.Session,
	allowed, denied map[string]struct{},
	users []types.DeviceUser,
) (SyncResult, error) {
	byID := make(map[string]types.DeviceUser, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	var res SyncResult
	ids := make([]string, 0, len(byID))
	for id := range byID {
		_, a := allowed[id]
		_, d := denied[id]
		if !a && !d {
			res.Skipped++
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		_, isAllowed := allowed[id]
		group := types.DeniedGroup
		if isAllowed {
			group = types.AllowedGroup
		}

		entry := UserSyncResult{UserID: id, Allowed: isAllowed}
		err := sess.SetUserGroup(ctx, byID[id], group)
		switch {
		case err == nil:
			entry.Success = true
			res.Assigned++
		case errors.Is(err, device.ErrConnectivity):
			entry.Error = err.Error()
			res.Failed++
			res.Results = append(res.Results, entry)
			s.log.WithError(err).WithField("biometric_id", id).Warn("group sync aborted")
			return res, err
		default:
			entry.Error = err.Error()
			res.Failed++
			s.log.WithError(err).WithFields(logrus.Fields{
				"biometric_id": id,
				"group":        group,
			}).Warn("group write rejected")
		}
		res.Results = append(res.Results, entry)
	}

	s.log.WithFields(logrus.Fields{
		"assigned": res.Assigned,
		"failed":   res.Failed,
		"skipped":  res.Skipped,
	}).Info("access groups synced")
	return res, nil
}
