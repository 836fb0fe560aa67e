package changes

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/logging"
)

// PushResult is the outcome of one push. Conflict means the stored copy was
// kept; Current then holds it.
type PushResult struct {
	Stored   *Change
	Conflict bool
	Current  *Change
}

// PullResult carries the changes since a checkpoint and the clock reading
// the next pull should start from.
type PullResult struct {
	Changes    []*Change
	ServerTime time.Time
}

// Service applies pushes to and reads pulls from a Repository.
type Service struct {
	repo   Repository
	logger logging.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger logging.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With("module", "changes"),
		now:    time.Now,
	}
}

// Push validates and stores one pushed copy for account.
func (s *Service) Push(ctx context.Context, account, entity, operation string, data json.RawMessage, deviceID string) (*PushResult, error) {
	c, err := ParseChange(entity, operation, data, deviceID)
	if err != nil {
		return nil, err
	}
	c.UpdatedAt = s.stamp()

	stored, err := s.repo.Apply(ctx, account, c)
	if errors.Is(err, common.ErrVersionConflict) && stored != nil {
		s.logger.Info(ctx, "push rejected", "account", account, "key", c.Key, "uuid", c.UUID,
			"version", c.Version, "stored_version", stored.Version)
		return &PushResult{Conflict: true, Current: stored}, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "push stored", "account", account, "key", c.Key, "uuid", c.UUID, "version", stored.Version)
	return &PushResult{Stored: stored}, nil
}

// Pull returns the changes of account at or after since. The server time is
// read before the query so that a change committed meanwhile shows up on
// the next pull.
func (s *Service) Pull(ctx context.Context, account string, since time.Time) (*PullResult, error) {
	serverTime := s.stamp()

	list, err := s.repo.Since(ctx, account, since)
	if err != nil {
		return nil, err
	}
	return &PullResult{Changes: list, ServerTime: serverTime}, nil
}

// stamp is the current time at the millisecond precision of the wire.
func (s *Service) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}
