package queue

import (
	"context"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
)

// Repository is the durable outbound queue plus its dead-letter list.
//
// The active queue is FIFO by enqueue order and holds at most one entry per
// coalesce key: enqueueing a newer entry for the same record replaces the
// older one and moves it to the tail with a fresh attempt count.
type Repository interface {
	Enqueue(ctx context.Context, e *models.QueueEntry) error
	List(ctx context.Context) ([]*models.QueueEntry, error)
	Len(ctx context.Context) (int, error)
	GetByCoalesceKey(ctx context.Context, key string) (*models.QueueEntry, error)
	Remove(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, at time.Time, lastErr string) error
	MoveToFailed(ctx context.Context, id, reason string, at time.Time) error

	ListFailed(ctx context.Context) ([]*models.FailedEntry, error)
	FailedLen(ctx context.Context) (int, error)
	RemoveFailed(ctx context.Context, id string) error
	ClearFailed(ctx context.Context) (int, error)
}
