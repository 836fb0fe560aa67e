package metadata

import (
	"context"
)

// Repository is a small key/value store for sync bookkeeping such as the
// device id, the last pull checkpoint and the legacy migration flag.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
