package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cleansync/internal/client/conflict"
	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/records"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/dbx"
)

// reconcile settles the stored local copy against a remote one and persists
// the outcome. It runs inside tx with writeMu held; notifications are
// returned for delivery after the lock is released.
func (s *syncService) reconcile(ctx context.Context, tx dbx.DBTX, key string, local, remote *models.Record) ([]Notification, error) {
	res, err := s.resolver.Resolve(key, local, remote)
	if err != nil {
		return nil, err
	}

	recRepo := records.NewSQLiteRepository(tx)
	q := queue.NewSQLiteRepository(tx)

	switch res.Resolution {
	case conflict.ResolutionRemote:
		return nil, s.adopt(ctx, recRepo, q, key, res.Data)

	case conflict.ResolutionNone:
		return nil, s.adopt(ctx, recRepo, q, key, local)

	case conflict.ResolutionLocal:
		return nil, s.repush(ctx, recRepo, q, key, res.Data, remote.Version())

	case conflict.ResolutionMerged:
		merged := res.Data
		if err := s.persist(ctx, recRepo, q, key, merged, operationFor(merged)); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		err := conflicts.NewSQLiteRepository(tx).Save(ctx, &models.Conflict{
			ID:             s.ids.New(),
			Key:            key,
			UUID:           local.UUID(),
			Local:          local,
			Remote:         remote,
			Reason:         res.Reason,
			FieldConflicts: res.FieldConflicts,
			CreatedAt:      now,
			Resolved:       true,
			Choice:         models.ChoiceMerged,
			ResolvedAt:     &now,
		})
		if err != nil {
			return nil, fmt.Errorf("record merge: %w", err)
		}
		s.logger.Info(ctx, "conflict merged", "key", key, "uuid", local.UUID(), "fields", len(res.FieldConflicts))
		return nil, nil

	case conflict.ResolutionManual:
		c := &models.Conflict{
			ID:        s.ids.New(),
			Key:       key,
			UUID:      local.UUID(),
			Local:     local,
			Remote:    remote,
			Reason:    res.Reason,
			CreatedAt: s.now().UTC(),
		}
		if err := conflicts.NewSQLiteRepository(tx).Save(ctx, c); err != nil {
			return nil, fmt.Errorf("record conflict: %w", err)
		}

		marked := local.Clone()
		marked.Meta.SyncStatus = models.SyncStatusConflict
		if err := recRepo.Upsert(ctx, key, marked); err != nil {
			return nil, err
		}
		if err := dequeue(ctx, q, local.UUID()); err != nil {
			return nil, err
		}

		s.logger.Warn(ctx, "conflict needs manual resolution", "key", key, "uuid", local.UUID(), "reason", res.Reason)
		return []Notification{{
			Kind:       NotifyConflictPending,
			Key:        key,
			UUID:       local.UUID(),
			ConflictID: c.ID,
			Message:    fmt.Sprintf("%s %s needs a decision: %s", key, local.UUID(), res.Reason),
		}}, nil
	}
	return nil, fmt.Errorf("unexpected resolution %q", res.Resolution)
}

// adopt stores rec as the confirmed remote state and drops any queued push
// for it.
func (s *syncService) adopt(ctx context.Context, recRepo records.Repository, q queue.Repository, key string, rec *models.Record) error {
	out := rec.Clone()
	now := s.now().UTC()
	out.Meta.SyncStatus = models.SyncStatusSynced
	out.Meta.LastSyncedAt = &now
	if err := recRepo.Upsert(ctx, key, out); err != nil {
		return err
	}
	return dequeue(ctx, q, out.UUID())
}

// repush stamps rec above floor so the server accepts it, and queues it.
func (s *syncService) repush(ctx context.Context, recRepo records.Repository, q queue.Repository,
	key string, rec *models.Record, floor int64) error {
	in := rec.Clone()
	if in.Meta.Version < floor {
		in.Meta.Version = floor
	}
	out := s.stamper.Stamp(in)
	out.Meta.SyncStatus = models.SyncStatusPending
	return s.persist(ctx, recRepo, q, key, out, operationFor(out))
}

func dequeue(ctx context.Context, q queue.Repository, coalesceKey string) error {
	e, err := q.GetByCoalesceKey(ctx, coalesceKey)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return q.Remove(ctx, e.ID)
}

func operationFor(rec *models.Record) string {
	if rec.IsDeleted() {
		return common.OperationDelete
	}
	return common.OperationUpdate
}

// unsynced reports whether rec carries local changes the remote has not
// acknowledged.
func unsynced(rec *models.Record) bool {
	switch rec.Meta.SyncStatus {
	case models.SyncStatusLocal, models.SyncStatusPending, models.SyncStatusConflict:
		return true
	}
	return false
}
