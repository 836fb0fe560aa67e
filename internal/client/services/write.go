package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/cleansync/internal/client/identity"
	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/documents"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/records"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/dbx"
)

// Set stamps every record, stores it under key and enqueues a push for it.
// All records are committed together or not at all.
func (s *syncService) Set(ctx context.Context, key string, recs ...*models.Record) (WriteResult, error) {
	if key == "" {
		return WriteResult{}, fmt.Errorf("set: empty key: %w", common.ErrorInvalidOperation)
	}

	s.writeMu.Lock()
	if s.stamper == nil {
		s.writeMu.Unlock()
		return WriteResult{}, ErrNotInitialized
	}

	stamped := make([]*models.Record, 0, len(recs))
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recRepo := records.NewSQLiteRepository(tx)
		q := queue.NewSQLiteRepository(tx)

		for _, rec := range recs {
			if rec == nil {
				continue
			}
			in := rec.Clone()

			op := common.OperationCreate
			if uuid := in.UUID(); uuid != "" {
				stored, err := recRepo.Get(ctx, key, uuid)
				switch {
				case err == nil:
					op = common.OperationUpdate
					// A stale copy must not move the clock backwards.
					if stored.Version() > in.Version() {
						in.Meta.Version = stored.Version()
					}
					if !stored.Meta.CreatedAt.IsZero() {
						in.Meta.CreatedAt = stored.Meta.CreatedAt
					}
					if stored.Meta.SyncStatus == models.SyncStatusSynced {
						in.Meta.SyncStatus = models.SyncStatusSynced
					}
				case !errors.Is(err, common.ErrorNotFound):
					return err
				}
			}

			out := s.stamper.Stamp(in)
			if out.IsDeleted() {
				op = common.OperationDelete
			}
			if err := s.persist(ctx, recRepo, q, key, out, op); err != nil {
				return err
			}
			stamped = append(stamped, out)
		}
		return nil
	})
	s.writeMu.Unlock()

	if err != nil {
		s.logger.Error(ctx, "local write failed", "key", key, "error", err)
		return WriteResult{}, fmt.Errorf("set %s: %w", key, err)
	}

	s.checkQueueSize(ctx)
	return WriteResult{Success: true, Records: stamped}, nil
}

// persist upserts rec and enqueues op for it. A never-pushed record becomes
// pending. Callers run inside a transaction holding writeMu.
func (s *syncService) persist(ctx context.Context, recRepo records.Repository, q queue.Repository,
	key string, rec *models.Record, op string) error {
	rec.MarkQueued()
	if err := recRepo.Upsert(ctx, key, rec); err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	entry, err := models.NewQueueEntry(s.ids.New(), key, rec, op, s.now().UTC())
	if err != nil {
		return fmt.Errorf("encode queue entry: %w", err)
	}
	if err := q.Enqueue(ctx, entry); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// SetValue stores v as a plain JSON document under key. Documents carry no
// metadata; a newer write replaces any queued push for the same key.
func (s *syncService) SetValue(ctx context.Context, key string, v any) (WriteResult, error) {
	if key == "" {
		return WriteResult{}, fmt.Errorf("set value: empty key: %w", common.ErrorInvalidOperation)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return WriteResult{}, fmt.Errorf("encode %s: %w", key, err)
	}

	s.writeMu.Lock()
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		now := s.now().UTC()
		if err := documents.NewSQLiteRepository(tx).Set(ctx, key, data, now); err != nil {
			return fmt.Errorf("store document: %w", err)
		}
		return queue.NewSQLiteRepository(tx).Enqueue(ctx, &models.QueueEntry{
			ID:         s.ids.New(),
			Key:        key,
			Operation:  common.OperationUpdate,
			Data:       data,
			EnqueuedAt: now,
		})
	})
	s.writeMu.Unlock()

	if err != nil {
		s.logger.Error(ctx, "local write failed", "key", key, "error", err)
		return WriteResult{}, fmt.Errorf("set value %s: %w", key, err)
	}

	s.checkQueueSize(ctx)
	return WriteResult{Success: true}, nil
}

// Get returns the live records of a bucket. Tombstones are hidden.
func (s *syncService) Get(ctx context.Context, key string) ([]*models.Record, error) {
	recs, err := records.NewSQLiteRepository(s.db).List(ctx, key, false)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	s.triggerPull()
	return recs, nil
}

// GetRecord returns one live record or common.ErrorNotFound.
func (s *syncService) GetRecord(ctx context.Context, key, uuid string) (*models.Record, error) {
	rec, err := records.NewSQLiteRepository(s.db).Get(ctx, key, uuid)
	if err != nil {
		return nil, err
	}
	s.triggerPull()
	if rec.IsDeleted() {
		return nil, common.ErrorNotFound
	}
	return rec, nil
}

// GetValue decodes the document under key into out. It reports false when
// no document is stored.
func (s *syncService) GetValue(ctx context.Context, key string, out any) (bool, error) {
	data, err := documents.NewSQLiteRepository(s.db).Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get value %s: %w", key, err)
	}
	s.triggerPull()
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Buckets lists every key that holds records or a document, sorted.
func (s *syncService) Buckets(ctx context.Context) ([]string, error) {
	recKeys, err := records.NewSQLiteRepository(s.db).Buckets(ctx)
	if err != nil {
		return nil, err
	}
	docKeys, err := documents.NewSQLiteRepository(s.db).Keys(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(recKeys)+len(docKeys))
	out := make([]string, 0, len(recKeys)+len(docKeys))
	for _, k := range append(recKeys, docKeys...) {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Remove tombstones the given records and enqueues their deletion. Without
// uuids every live record of the bucket and the document under key are
// removed. Unknown or already deleted uuids are ignored.
func (s *syncService) Remove(ctx context.Context, key string, uuids ...string) (WriteResult, error) {
	s.writeMu.Lock()
	if s.stamper == nil {
		s.writeMu.Unlock()
		return WriteResult{}, ErrNotInitialized
	}

	removed := make([]*models.Record, 0, len(uuids))
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recRepo := records.NewSQLiteRepository(tx)
		q := queue.NewSQLiteRepository(tx)

		var targets []*models.Record
		if len(uuids) == 0 {
			live, err := recRepo.List(ctx, key, false)
			if err != nil {
				return err
			}
			targets = live
			if err := s.removeDocument(ctx, tx, q, key); err != nil {
				return err
			}
		} else {
			for _, uuid := range uuids {
				rec, err := recRepo.Get(ctx, key, uuid)
				if errors.Is(err, common.ErrorNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				targets = append(targets, rec)
			}
		}

		for _, rec := range targets {
			if identity.IsDeleted(rec) {
				continue
			}
			out := s.stamper.SoftDelete(rec)
			if err := s.persist(ctx, recRepo, q, key, out, common.OperationDelete); err != nil {
				return err
			}
			removed = append(removed, out)
		}
		return nil
	})
	s.writeMu.Unlock()

	if err != nil {
		s.logger.Error(ctx, "local delete failed", "key", key, "error", err)
		return WriteResult{}, fmt.Errorf("remove %s: %w", key, err)
	}

	s.checkQueueSize(ctx)
	return WriteResult{Success: true, Records: removed}, nil
}

func (s *syncService) removeDocument(ctx context.Context, tx dbx.DBTX, q queue.Repository, key string) error {
	docs := documents.NewSQLiteRepository(tx)
	data, err := docs.Get(ctx, key)
	if err != nil || data == nil {
		return err
	}
	if err := docs.Delete(ctx, key); err != nil {
		return err
	}
	return q.Enqueue(ctx, &models.QueueEntry{
		ID:         s.ids.New(),
		Key:        key,
		Operation:  common.OperationDelete,
		Data:       json.RawMessage("null"),
		EnqueuedAt: s.now().UTC(),
	})
}

// checkQueueSize raises an alert when the queue outgrows MaxQueueSize.
// Writes are never refused.
func (s *syncService) checkQueueSize(ctx context.Context) {
	n, err := queue.NewSQLiteRepository(s.db).Len(ctx)
	if err != nil {
		s.logger.Warn(ctx, "queue length unavailable", "error", err)
		return
	}
	if n <= s.opts.MaxQueueSize {
		return
	}

	s.logger.Warn(ctx, "sync queue over limit", "size", n, "limit", s.opts.MaxQueueSize)
	s.monitor.QueueSizeAlert(n, s.opts.MaxQueueSize)
	s.notify(Notification{
		Kind:    NotifyQueueSize,
		Message: fmt.Sprintf("sync queue holds %d entries (limit %d)", n, s.opts.MaxQueueSize),
	})
}
