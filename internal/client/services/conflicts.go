package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/records"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/dbx"
)

// ErrAlreadyResolved is returned when resolving a settled conflict.
var ErrAlreadyResolved = errors.New("conflict already resolved")

// ConflictService exposes conflicts that need a user decision.
type ConflictService interface {
	Pending(ctx context.Context) ([]*models.Conflict, error)
	List(ctx context.Context) ([]*models.Conflict, error)
	Get(ctx context.Context, id string) (*models.Conflict, error)
	// Resolve keeps the chosen side, queues it for push and marks the
	// conflict resolved. It returns the stored record.
	Resolve(ctx context.Context, id string, choice models.ConflictChoice) (*models.Record, error)
	// Purge drops resolved conflicts older than age.
	Purge(ctx context.Context, age time.Duration) (int, error)
}

type conflictService struct {
	sync *syncService
}

func (c *conflictService) Pending(ctx context.Context) ([]*models.Conflict, error) {
	return conflicts.NewSQLiteRepository(c.sync.db).ListUnresolved(ctx)
}

func (c *conflictService) List(ctx context.Context) ([]*models.Conflict, error) {
	return conflicts.NewSQLiteRepository(c.sync.db).List(ctx)
}

func (c *conflictService) Get(ctx context.Context, id string) (*models.Conflict, error) {
	return conflicts.NewSQLiteRepository(c.sync.db).Get(ctx, id)
}

func (c *conflictService) Resolve(ctx context.Context, id string, choice models.ConflictChoice) (*models.Record, error) {
	if choice != models.ChoiceLocal && choice != models.ChoiceRemote {
		return nil, fmt.Errorf("resolve %s with %q: %w", id, choice, common.ErrorInvalidOperation)
	}

	s := c.sync
	s.writeMu.Lock()
	if s.stamper == nil {
		s.writeMu.Unlock()
		return nil, ErrNotInitialized
	}

	var (
		kept     *models.Record
		conflict *models.Conflict
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := conflicts.NewSQLiteRepository(tx)
		recRepo := records.NewSQLiteRepository(tx)

		var err error
		conflict, err = repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if conflict.Resolved {
			return ErrAlreadyResolved
		}

		chosen := conflict.Local
		if choice == models.ChoiceRemote {
			chosen = conflict.Remote
		}
		if chosen == nil || chosen.Meta == nil {
			return fmt.Errorf("conflict %s has no %s copy: %w", id, choice, common.ErrorInvalidOperation)
		}

		floor := max(conflict.Local.Version(), conflict.Remote.Version())
		stored, err := recRepo.Get(ctx, conflict.Key, conflict.UUID)
		switch {
		case err == nil:
			floor = max(floor, stored.Version())
		case !errors.Is(err, common.ErrorNotFound):
			return err
		}

		in := chosen.Clone()
		in.Meta.Version = floor
		kept = s.stamper.Stamp(in)
		kept.Meta.SyncStatus = models.SyncStatusPending

		if err := s.persist(ctx, recRepo, queue.NewSQLiteRepository(tx), conflict.Key, kept, operationFor(kept)); err != nil {
			return err
		}
		return repo.MarkResolved(ctx, id, choice, s.now().UTC())
	})
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("resolve conflict %s: %w", id, err)
	}

	s.resolver.ReportManual(conflict.Key, conflict.UUID, choice, conflict.Reason)
	s.logger.Info(ctx, "conflict resolved", "id", id, "key", conflict.Key, "uuid", conflict.UUID, "choice", string(choice))
	return kept, nil
}

func (c *conflictService) Purge(ctx context.Context, age time.Duration) (int, error) {
	s := c.sync
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conflicts.NewSQLiteRepository(s.db).PurgeResolved(ctx, s.now().Add(-age))
}
