package documents

import (
	"context"
	"encoding/json"
	"time"
)

// Repository stores whole JSON documents by key. It holds values that are not
// collections of records (settings, counters) and the legacy collections that
// predate per-record metadata.
type Repository interface {
	// Get returns (nil, nil) when key is absent.
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage, updatedAt time.Time) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
