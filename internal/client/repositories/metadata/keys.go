package metadata

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Well-known keys.
const (
	KeyDeviceID          = "device_id"
	KeyLastSyncAt        = "last_sync_at"
	KeyMigrationComplete = "migration_complete"
)

// GetTime reads a unix-millisecond timestamp stored under key. A missing key
// yields the zero time.
func GetTime(ctx context.Context, r Repository, key string) (time.Time, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if v == nil {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("metadata[%s] is not a timestamp: %w", key, err)
	}
	return time.UnixMilli(ms), nil
}

// SetTime stores t under key with millisecond precision.
func SetTime(ctx context.Context, r Repository, key string, t time.Time) error {
	return r.Set(ctx, key, []byte(strconv.FormatInt(t.UnixMilli(), 10)))
}

// GetBool reads a flag; a missing key is false.
func GetBool(ctx context.Context, r Repository, key string) (bool, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return string(v) == "true", nil
}

func SetBool(ctx context.Context, r Repository, key string, b bool) error {
	return r.Set(ctx, key, []byte(strconv.FormatBool(b)))
}
