package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/conflict"
	"github.com/dmitrijs2005/cleansync/internal/client/identity"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/documents"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_KeepsDeviceIdentity(t *testing.T) {
	db := repotest.OpenDB(t)
	ctx := context.Background()

	first := NewSyncService(db, &fakeTransport{}, nil, Options{})
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.Init(ctx))
	id := first.DeviceID()
	assert.True(t, identity.ValidID(id))

	second := NewSyncService(db, &fakeTransport{}, nil, Options{})
	require.NoError(t, second.Init(ctx))
	assert.Equal(t, id, second.DeviceID())
}

func TestInit_RunsLegacyMigrationOnce(t *testing.T) {
	db := repotest.OpenDB(t)
	ctx := context.Background()

	legacy := []byte(`[{"name":"Acme","email":"a@acme.test"},{"name":"Globex"}]`)
	require.NoError(t, documents.NewSQLiteRepository(db).Set(ctx, "clients", legacy, time.Now()))

	svc := NewSyncService(db, &fakeTransport{}, nil, Options{RunMigration: true})
	require.NoError(t, svc.Init(ctx))

	got, err := svc.Get(ctx, "clients")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, rec := range got {
		assert.True(t, identity.ValidID(rec.UUID()))
	}

	n, err := svc.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, svc.Init(ctx))
	got, err = svc.Get(ctx, "clients")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	report, err := svc.Migrator().VerifyMigration(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestStartShutdown(t *testing.T) {
	h := newHarness(t, conflict.LastWriteWins, func(o *Options) { o.SyncInterval = 10 * time.Millisecond })
	ctx := context.Background()

	h.create(t, "quotes", map[string]any{"title": "Roof"})

	require.NoError(t, h.svc.Start(ctx))
	require.NoError(t, h.svc.Start(ctx))

	require.Eventually(t, func() bool {
		n, err := h.svc.QueueLength(ctx)
		return err == nil && n == 0 && h.transport.pullCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(shutdownCtx))

	require.ErrorIs(t, h.svc.Start(ctx), ErrClosed)
}

func TestStart_RequiresInit(t *testing.T) {
	svc := NewSyncService(repotest.OpenDB(t), &fakeTransport{}, nil, Options{})
	require.ErrorIs(t, svc.Start(context.Background()), ErrNotInitialized)

	_, err := svc.ProcessQueue(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.PullFromCloud(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestGet_TriggersBackgroundPull(t *testing.T) {
	h := newHarness(t, conflict.LastWriteWins, func(o *Options) { o.PullOnRead = true })
	ctx := context.Background()

	_, err := h.svc.Get(ctx, "quotes")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.transport.pullCount() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.svc.Shutdown(ctx))

	before := h.transport.pullCount()
	_, err = h.svc.Get(ctx, "quotes")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, h.transport.pullCount(), "no background work after shutdown")
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{MaxRetryDelay: time.Millisecond}.withDefaults()
	assert.Equal(t, DefaultSyncInterval, o.SyncInterval)
	assert.Equal(t, DefaultMaxRetries, o.MaxRetries)
	assert.Equal(t, DefaultBaseRetryDelay, o.BaseRetryDelay)
	assert.Equal(t, DefaultBaseRetryDelay, o.MaxRetryDelay)
	assert.Equal(t, DefaultMaxQueueSize, o.MaxQueueSize)
	assert.Equal(t, identity.DefaultBuckets, o.Buckets)
	assert.NotNil(t, o.Logger)
	assert.NotNil(t, o.Monitor)
	assert.NotNil(t, o.Now)
}
