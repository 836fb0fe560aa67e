package records

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/repotest"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stamped(uuid string, version int64, status models.SyncStatus, fields map[string]any) *models.Record {
	r := models.NewRecord(fields)
	now := time.UnixMilli(1700000000000)
	r.Meta = &models.Metadata{
		UUID:       uuid,
		CreatedAt:  now,
		UpdatedAt:  now.Add(time.Duration(version) * time.Second),
		Version:    version,
		DeviceID:   "dev",
		SyncStatus: status,
	}
	return r
}

func TestUpsert_InsertThenUpdate(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, "quotes", stamped("u1", 1, models.SyncStatusLocal, map[string]any{"total": 10})))

	got, err := r.Get(ctx, "quotes", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version())
	assert.Equal(t, float64(10), got.Fields["total"])

	require.NoError(t, r.Upsert(ctx, "quotes", stamped("u1", 2, models.SyncStatusPending, map[string]any{"total": 20})))

	got, err = r.Get(ctx, "quotes", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version())
	assert.Equal(t, models.SyncStatusPending, got.Meta.SyncStatus)
	assert.Equal(t, float64(20), got.Fields["total"])
}

func TestUpsert_RequiresUUID(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))

	err := r.Upsert(context.Background(), "quotes", models.NewRecord(map[string]any{"a": 1}))
	require.ErrorIs(t, err, common.ErrorMissingUUID)
}

func TestGet_NotFound(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))

	_, err := r.Get(context.Background(), "quotes", "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestList_OrderAndTombstones(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, "quotes", stamped("b", 1, models.SyncStatusLocal, nil)))
	require.NoError(t, r.Upsert(ctx, "quotes", stamped("a", 1, models.SyncStatusLocal, nil)))

	dead := stamped("c", 2, models.SyncStatusPending, nil)
	ts := time.Now()
	dead.Meta.DeletedAt = &ts
	require.NoError(t, r.Upsert(ctx, "quotes", dead))
	require.NoError(t, r.Upsert(ctx, "invoices", stamped("x", 1, models.SyncStatusLocal, nil)))

	live, err := r.List(ctx, "quotes", false)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "b", live[0].UUID())
	assert.Equal(t, "a", live[1].UUID())

	all, err := r.List(ctx, "quotes", true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[2].IsDeleted())
}

func TestList_EmptyBucketIsEmptySlice(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))

	got, err := r.List(context.Background(), "nothing", false)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestBuckets(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, "quotes", stamped("u1", 1, models.SyncStatusLocal, nil)))
	require.NoError(t, r.Upsert(ctx, "clients", stamped("u2", 1, models.SyncStatusLocal, nil)))

	buckets, err := r.Buckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"clients", "quotes"}, buckets)
}

func TestCountByStatus(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, "quotes", stamped("1", 1, models.SyncStatusLocal, nil)))
	require.NoError(t, r.Upsert(ctx, "quotes", stamped("2", 1, models.SyncStatusSynced, nil)))
	require.NoError(t, r.Upsert(ctx, "clients", stamped("3", 1, models.SyncStatusSynced, nil)))

	got, err := r.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got[models.SyncStatusLocal])
	assert.Equal(t, 2, got[models.SyncStatusSynced])
	assert.Equal(t, 0, got[models.SyncStatusConflict])
}

func TestRepository_ClosedDBErrors(t *testing.T) {
	db := repotest.OpenDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	require.Error(t, r.Upsert(ctx, "q", stamped("u", 1, models.SyncStatusLocal, nil)))
	_, err := r.Get(ctx, "q", "u")
	require.Error(t, err)
	require.NotErrorIs(t, err, common.ErrorNotFound)
	_, err = r.List(ctx, "q", false)
	require.Error(t, err)
}
