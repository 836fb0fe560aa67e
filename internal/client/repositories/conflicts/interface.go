package conflicts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
)

// Repository is the persistent conflict log.
type Repository interface {
	// Save inserts a conflict or overwrites the one with the same ID.
	Save(ctx context.Context, c *models.Conflict) error
	Get(ctx context.Context, id string) (*models.Conflict, error)
	ListUnresolved(ctx context.Context) ([]*models.Conflict, error)
	List(ctx context.Context) ([]*models.Conflict, error)
	MarkResolved(ctx context.Context, id string, choice models.ConflictChoice, at time.Time) error
	CountUnresolved(ctx context.Context) (int, error)
	// PurgeResolved deletes resolved conflicts older than before.
	PurgeResolved(ctx context.Context, before time.Time) (int, error)
}
