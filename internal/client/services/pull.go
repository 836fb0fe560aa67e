package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/documents"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/records"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/dbx"
)

var errMalformedChange = errors.New("malformed change")

type pullOutcome int

const (
	pullApplied pullOutcome = iota
	pullSkipped
	pullConflict
)

// PullFromCloud fetches remote changes since the stored checkpoint and merges
// them into local storage. The checkpoint only advances when every change was
// stored; malformed changes are logged and skipped.
func (s *syncService) PullFromCloud(ctx context.Context) (PullResult, error) {
	if !s.pulling.CompareAndSwap(false, true) {
		return PullResult{Busy: true}, nil
	}
	defer s.pulling.Store(false)

	var res PullResult
	if s.currentStamper() == nil {
		return res, ErrNotInitialized
	}

	meta := metadata.NewSQLiteRepository(s.db)
	since, err := metadata.GetTime(ctx, meta, metadata.KeyLastSyncAt)
	if err != nil {
		return res, fmt.Errorf("read checkpoint: %w", err)
	}

	started := s.now().UTC()
	resp, err := s.transport.Pull(ctx, since)
	if err != nil {
		s.setStat(func(st *Stats) { st.LastError = err.Error() })
		return res, fmt.Errorf("pull: %w", err)
	}
	res.Received = len(resp.Changes)

	var (
		notes  []Notification
		failed []error
	)
	for _, ch := range resp.Changes {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var (
			outcome pullOutcome
			n       []Notification
		)
		s.writeMu.Lock()
		err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			outcome, n, err = s.applyChange(ctx, tx, ch)
			return err
		})
		s.writeMu.Unlock()

		switch {
		case errors.Is(err, errMalformedChange):
			res.Errors++
			s.logger.Warn(ctx, "skipping pulled change", "key", ch.Key, "uuid", ch.UUID, "error", err)
			continue
		case err != nil:
			res.Errors++
			failed = append(failed, fmt.Errorf("%s/%s: %w", ch.Key, ch.UUID, err))
			continue
		}

		notes = append(notes, n...)
		switch outcome {
		case pullApplied:
			res.Applied++
		case pullSkipped:
			res.Skipped++
		case pullConflict:
			res.Conflicts++
		}
	}
	s.notify(notes...)

	s.setStat(func(st *Stats) {
		st.PullApplied += int64(res.Applied)
		st.PullSkipped += int64(res.Skipped)
		st.Conflicts += int64(res.Conflicts)
	})

	if len(failed) > 0 {
		return res, fmt.Errorf("apply pulled changes: %w", errors.Join(failed...))
	}

	checkpoint := started
	if resp.ServerTime > 0 {
		checkpoint = time.UnixMilli(resp.ServerTime).UTC()
	}
	s.writeMu.Lock()
	err = metadata.SetTime(ctx, meta, metadata.KeyLastSyncAt, checkpoint)
	s.writeMu.Unlock()
	if err != nil {
		return res, fmt.Errorf("write checkpoint: %w", err)
	}
	res.Checkpoint = checkpoint
	s.setStat(func(st *Stats) { st.LastPullAt = started })

	if res.Received > 0 {
		s.logger.Debug(ctx, "pull applied", "received", res.Received, "applied", res.Applied,
			"skipped", res.Skipped, "conflicts", res.Conflicts)
	}
	return res, nil
}

func (s *syncService) applyChange(ctx context.Context, tx dbx.DBTX, ch models.Change) (pullOutcome, []Notification, error) {
	if ch.Key == "" || !common.ValidOperation(ch.Operation) {
		return pullSkipped, nil, fmt.Errorf("%w: key %q operation %q", errMalformedChange, ch.Key, ch.Operation)
	}
	if ch.UUID == "" {
		return s.applyDocument(ctx, tx, ch)
	}

	incoming, err := s.decodeChange(ch)
	if err != nil {
		return pullSkipped, nil, err
	}

	recRepo := records.NewSQLiteRepository(tx)
	q := queue.NewSQLiteRepository(tx)

	local, err := recRepo.Get(ctx, ch.Key, ch.UUID)
	if errors.Is(err, common.ErrorNotFound) {
		if incoming == nil {
			return pullSkipped, nil, nil
		}
		return pullApplied, nil, s.adopt(ctx, recRepo, q, ch.Key, incoming)
	}
	if err != nil {
		return pullSkipped, nil, err
	}

	version := ch.Version
	if incoming != nil {
		version = incoming.Version()
	}
	if local.Version() >= version {
		return pullSkipped, nil, nil
	}

	if incoming == nil {
		incoming = local.Clone()
		now := s.now().UTC()
		incoming.Meta.Version = version
		incoming.Meta.UpdatedAt = now
		incoming.Meta.DeletedAt = &now
	}

	if unsynced(local) {
		notes, err := s.reconcile(ctx, tx, ch.Key, local, incoming)
		return pullConflict, notes, err
	}
	return pullApplied, nil, s.adopt(ctx, recRepo, q, ch.Key, incoming)
}

// decodeChange returns the record carried by ch, or nil for a delete that
// carries no data.
func (s *syncService) decodeChange(ch models.Change) (*models.Record, error) {
	data := bytes.TrimSpace(ch.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		if ch.Operation == common.OperationDelete {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s without data", errMalformedChange, ch.Operation)
	}

	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedChange, err)
	}
	if rec.Meta == nil {
		rec.Meta = &models.Metadata{}
	}
	if rec.Meta.UUID == "" {
		rec.Meta.UUID = ch.UUID
	}
	if rec.Meta.UUID != ch.UUID {
		return nil, fmt.Errorf("%w: uuid %s does not match %s", errMalformedChange, rec.Meta.UUID, ch.UUID)
	}
	if ch.Version > rec.Meta.Version {
		rec.Meta.Version = ch.Version
	}
	if ch.Operation == common.OperationDelete && rec.Meta.DeletedAt == nil {
		deletedAt := rec.Meta.UpdatedAt
		if deletedAt.IsZero() {
			deletedAt = s.now().UTC()
		}
		rec.Meta.DeletedAt = &deletedAt
	}
	return &rec, nil
}

// applyDocument overwrites a plain document unless a local write for the
// same key is still queued.
func (s *syncService) applyDocument(ctx context.Context, tx dbx.DBTX, ch models.Change) (pullOutcome, []Notification, error) {
	pending := &models.QueueEntry{Key: ch.Key}
	_, err := queue.NewSQLiteRepository(tx).GetByCoalesceKey(ctx, pending.CoalesceKey())
	if err == nil {
		return pullSkipped, nil, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return pullSkipped, nil, err
	}

	docs := documents.NewSQLiteRepository(tx)
	if ch.Operation == common.OperationDelete {
		return pullApplied, nil, docs.Delete(ctx, ch.Key)
	}
	if !json.Valid(ch.Data) {
		return pullSkipped, nil, fmt.Errorf("%w: document %s is not JSON", errMalformedChange, ch.Key)
	}
	return pullApplied, nil, docs.Set(ctx, ch.Key, ch.Data, s.now().UTC())
}
