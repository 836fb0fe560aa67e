package records

import (
	"context"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
)

// Repository persists stamped records grouped by bucket (the collection key,
// e.g. "quotes"). Records are addressed by (bucket, uuid).
type Repository interface {
	// Upsert inserts a record or replaces the stored copy with the same uuid.
	Upsert(ctx context.Context, bucket string, rec *models.Record) error

	// Get returns the record or common.ErrorNotFound.
	Get(ctx context.Context, bucket, uuid string) (*models.Record, error)

	// List returns the bucket in insertion order. Tombstones are included
	// only when includeDeleted is set.
	List(ctx context.Context, bucket string, includeDeleted bool) ([]*models.Record, error)

	// Buckets lists every bucket that holds at least one row.
	Buckets(ctx context.Context) ([]string, error)

	// CountByStatus returns how many live records are in each sync status.
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error)
}
