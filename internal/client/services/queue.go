package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/client"
	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/monitor"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/documents"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/records"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/dbx"
)

// retryDelay is min(base * 2^attempts, ceiling).
func retryDelay(attempts int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

// ProcessQueue pushes queued entries one at a time in FIFO order. Entries
// still inside their backoff window are left for a later pass. A pass that
// finds another one running returns immediately with Busy set.
func (s *syncService) ProcessQueue(ctx context.Context) (DrainResult, error) {
	if !s.draining.CompareAndSwap(false, true) {
		return DrainResult{Busy: true}, nil
	}
	defer s.draining.Store(false)

	var res DrainResult
	if s.currentStamper() == nil {
		return res, ErrNotInitialized
	}

	entries, err := queue.NewSQLiteRepository(s.db).List(ctx)
	if err != nil {
		return res, fmt.Errorf("list queue: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if e.Attempts >= s.opts.MaxRetries {
			if err := s.fail(ctx, e, e.LastError); err != nil {
				return res, err
			}
			res.Failed++
			continue
		}

		if e.LastAttemptAt != nil {
			due := e.LastAttemptAt.Add(retryDelay(e.Attempts, s.opts.BaseRetryDelay, s.opts.MaxRetryDelay))
			if s.now().Before(due) {
				res.Deferred++
				continue
			}
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		res.Attempted++
		if err := s.pushOne(ctx, e, &res); err != nil {
			return res, err
		}
	}

	if res.Attempted > 0 {
		s.logger.Debug(ctx, "queue drained", "attempted", res.Attempted, "delivered", res.Delivered,
			"retried", res.Retried, "failed", res.Failed, "conflicts", res.Conflicts)
	}
	return res, nil
}

// pushOne sends e and records the outcome. Only storage errors are returned;
// transport errors count as a failed attempt.
func (s *syncService) pushOne(ctx context.Context, e *models.QueueEntry, res *DrainResult) error {
	resp, err := s.transport.Push(ctx, &client.PushRequest{
		Entity:    e.Key,
		Operation: e.Operation,
		Data:      e.Data,
		DeviceID:  s.DeviceID(),
		Timestamp: s.now().UnixMilli(),
	})
	if err == nil && resp == nil {
		err = fmt.Errorf("empty push response: %w", client.ErrRemote)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.recordFailure(ctx, e, err, res)
	}

	if resp.Conflict {
		res.Conflicts++
		s.setStat(func(st *Stats) { st.Conflicts++ })
		err := s.settlePushConflict(ctx, e, resp.ServerData)
		if errors.Is(err, errUnusableServerCopy) {
			return s.recordFailure(ctx, e, err, res)
		}
		return err
	}

	if err := s.acknowledge(ctx, e); err != nil {
		return err
	}
	res.Delivered++
	now := s.now()
	s.setStat(func(st *Stats) {
		st.Delivered++
		st.LastPushAt = now
	})
	return nil
}

// acknowledge removes a delivered entry and marks its record synced when the
// stored version is still the one that was pushed and no manual conflict is
// open for it.
func (s *syncService) acknowledge(ctx context.Context, e *models.QueueEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := queue.NewSQLiteRepository(tx).Remove(ctx, e.ID); err != nil {
			return err
		}
		if e.UUID == "" {
			return nil
		}

		recRepo := records.NewSQLiteRepository(tx)
		stored, err := recRepo.Get(ctx, e.Key, e.UUID)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if stored.Version() != e.Version {
			return nil
		}

		now := s.now().UTC()
		stored.Meta.LastSyncedAt = &now
		open, err := hasOpenConflict(ctx, conflicts.NewSQLiteRepository(tx), e.UUID)
		if err != nil {
			return err
		}
		if !open {
			stored.Meta.SyncStatus = models.SyncStatusSynced
		}
		return recRepo.Upsert(ctx, e.Key, stored)
	})
}

// hasOpenConflict reports whether uuid still waits for a manual decision.
// Merged records are flagged conflict too, but their review entry is stored
// already resolved.
func hasOpenConflict(ctx context.Context, repo conflicts.Repository, uuid string) (bool, error) {
	open, err := repo.ListUnresolved(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range open {
		if c.UUID == uuid {
			return true, nil
		}
	}
	return false, nil
}

// recordFailure counts a failed attempt and moves the entry to the failed
// queue once its retry budget is spent.
func (s *syncService) recordFailure(ctx context.Context, e *models.QueueEntry, cause error, res *DrainResult) error {
	s.logger.Warn(ctx, "push failed", "key", e.Key, "uuid", e.UUID, "attempt", e.Attempts+1, "error", cause)
	s.setStat(func(st *Stats) { st.LastError = cause.Error() })

	s.writeMu.Lock()
	err := queue.NewSQLiteRepository(s.db).RecordAttempt(ctx, e.ID, s.now().UTC(), cause.Error())
	s.writeMu.Unlock()
	if errors.Is(err, common.ErrorNotFound) {
		// Replaced by a newer write while the push was in flight.
		return nil
	}
	if err != nil {
		return err
	}

	if e.Attempts+1 < s.opts.MaxRetries {
		res.Retried++
		s.setStat(func(st *Stats) { st.Retries++ })
		return nil
	}

	e.Attempts++
	if err := s.fail(ctx, e, cause.Error()); err != nil {
		return err
	}
	res.Failed++
	return nil
}

// fail moves e to the failed queue and reports it.
func (s *syncService) fail(ctx context.Context, e *models.QueueEntry, reason string) error {
	if reason == "" {
		reason = "retry budget exhausted"
	}

	s.writeMu.Lock()
	err := queue.NewSQLiteRepository(s.db).MoveToFailed(ctx, e.ID, reason, s.now().UTC())
	s.writeMu.Unlock()
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("move to failed queue: %w", err)
	}

	s.logger.Error(ctx, "push permanently failed", "key", e.Key, "uuid", e.UUID, "attempts", e.Attempts, "reason", reason)
	s.setStat(func(st *Stats) { st.PermanentFailures++ })
	s.monitor.SyncFailureRecorded(monitor.SyncFailureEvent{
		Entity:    e.Key,
		UUID:      e.UUID,
		Operation: e.Operation,
		Attempts:  e.Attempts,
		Reason:    reason,
	})
	s.notify(Notification{
		Kind:    NotifyDeliveryFailed,
		Key:     e.Key,
		UUID:    e.UUID,
		Message: fmt.Sprintf("%s %s could not be delivered after %d attempts: %s", e.Operation, e.Key, e.Attempts, reason),
	})
	return nil
}

var errUnusableServerCopy = errors.New("conflict response without a usable server copy")

// settlePushConflict resolves a rejected push against the copy the server
// returned.
func (s *syncService) settlePushConflict(ctx context.Context, e *models.QueueEntry, serverData json.RawMessage) error {
	if e.UUID == "" {
		return s.adoptServerDocument(ctx, e, serverData)
	}

	var remote models.Record
	if len(serverData) == 0 || json.Unmarshal(serverData, &remote) != nil || remote.UUID() != e.UUID {
		return errUnusableServerCopy
	}

	var notes []Notification
	s.writeMu.Lock()
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recRepo := records.NewSQLiteRepository(tx)
		q := queue.NewSQLiteRepository(tx)

		local, err := recRepo.Get(ctx, e.Key, e.UUID)
		if errors.Is(err, common.ErrorNotFound) {
			return q.Remove(ctx, e.ID)
		}
		if err != nil {
			return err
		}

		notes, err = s.reconcile(ctx, tx, e.Key, local, &remote)
		return err
	})
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("settle push conflict: %w", err)
	}

	s.notify(notes...)
	return nil
}

// adoptServerDocument accepts the server copy of a plain document.
func (s *syncService) adoptServerDocument(ctx context.Context, e *models.QueueEntry, serverData json.RawMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if len(serverData) > 0 && json.Valid(serverData) {
			if err := documents.NewSQLiteRepository(tx).Set(ctx, e.Key, serverData, s.now().UTC()); err != nil {
				return err
			}
		}
		return queue.NewSQLiteRepository(tx).Remove(ctx, e.ID)
	})
}

func (s *syncService) FailedEntries(ctx context.Context) ([]*models.FailedEntry, error) {
	failed, err := queue.NewSQLiteRepository(s.db).ListFailed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	return failed, nil
}

// RetryFailed moves failed entries back to the active queue with a fresh
// retry budget. Without ids every failed entry is retried. An entry whose
// record already has a newer queued push is dropped instead. It returns the
// number of entries requeued.
func (s *syncService) RetryFailed(ctx context.Context, ids ...string) (int, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	requeued := 0
	s.writeMu.Lock()
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		q := queue.NewSQLiteRepository(tx)

		failed, err := q.ListFailed(ctx)
		if err != nil {
			return err
		}
		for _, f := range failed {
			if len(wanted) > 0 && !wanted[f.ID] {
				continue
			}
			if err := q.RemoveFailed(ctx, f.ID); err != nil {
				return err
			}

			_, err := q.GetByCoalesceKey(ctx, f.CoalesceKey())
			if err == nil {
				continue
			}
			if !errors.Is(err, common.ErrorNotFound) {
				return err
			}

			e := f.QueueEntry
			e.Attempts = 0
			e.LastAttemptAt = nil
			e.LastError = ""
			e.EnqueuedAt = s.now().UTC()
			if err := q.Enqueue(ctx, &e); err != nil {
				return err
			}
			requeued++
		}
		return nil
	})
	s.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}

	if requeued > 0 {
		s.logger.Info(ctx, "failed entries requeued", "count", requeued)
	}
	return requeued, nil
}

func (s *syncService) ClearFailed(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	n, err := queue.NewSQLiteRepository(s.db).ClearFailed(ctx)
	s.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return n, nil
}
