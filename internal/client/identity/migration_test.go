package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/documents"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/records"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMigrator(t *testing.T, db *sql.DB) *Migrator {
	t.Helper()
	clock := newClock()
	ids := NewIDGenerator(nil)
	return NewMigrator(db, NewStamper("device-a", ids, clock.Now), NewValidators(0, clock.Now), ids,
		[]string{"quotes", "invoices", "clients"}, nil, clock.Now)
}

func putLegacy(t *testing.T, db *sql.DB, key, value string) {
	t.Helper()
	require.NoError(t, documents.NewSQLiteRepository(db).Set(context.Background(), key, json.RawMessage(value), time.Now()))
}

func TestRunMigration_StampsRepairsAndRunsOnce(t *testing.T) {
	db := repotest.OpenDB(t)
	ctx := context.Background()
	putLegacy(t, db, "quotes", `[{"quoteNumber":"Q-9","clientName":"Acme","subtotal":100,"tax":15,"total":115,"status":"sent"},{"subtotal":10}]`)
	putLegacy(t, db, "clients", `{"name":"Solo"}`)

	m := newMigrator(t, db)
	report, err := m.RunMigration(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Buckets, 3)
	assert.Equal(t, 2, report.Buckets[0].Records)
	assert.Equal(t, 1, report.Buckets[0].Repaired)
	assert.NotEmpty(t, report.Buckets[0].Issues)
	assert.Equal(t, 0, report.Buckets[1].Records)

	recs := records.NewSQLiteRepository(db)
	quotes, err := recs.List(ctx, "quotes", false)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	for _, q := range quotes {
		require.NotNil(t, q.Meta)
		assert.True(t, ValidID(q.Meta.UUID))
		assert.Equal(t, int64(1), q.Meta.Version)
		assert.Equal(t, models.SyncStatusPending, q.Meta.SyncStatus)
	}

	n, err := queue.NewSQLiteRepository(db).Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	legacy, err := documents.NewSQLiteRepository(db).Get(ctx, "quotes")
	require.NoError(t, err)
	assert.Nil(t, legacy)

	again, err := m.RunMigration(ctx)
	require.NoError(t, err)
	assert.True(t, again.Skipped)

	quotes, err = recs.List(ctx, "quotes", false)
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
	assert.Equal(t, int64(1), quotes[0].Meta.Version)
}

func TestRunMigration_CorruptBucketDoesNotAbort(t *testing.T) {
	db := repotest.OpenDB(t)
	ctx := context.Background()
	putLegacy(t, db, "quotes", `"just a string"`)
	putLegacy(t, db, "invoices", `[{"invoiceNumber":"INV-1","total":10,"amountPaid":0,"balance":10,"status":"sent"}]`)

	m := newMigrator(t, db)
	report, err := m.RunMigration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, report.Buckets[0].Failed)
	assert.NotEmpty(t, report.Buckets[0].Error)
	assert.Equal(t, 1, report.Buckets[1].Records)

	legacy, err := documents.NewSQLiteRepository(db).Get(ctx, "quotes")
	require.NoError(t, err)
	assert.NotNil(t, legacy)

	verify, err := m.VerifyMigration(ctx)
	require.NoError(t, err)
	assert.False(t, verify.Valid)
	assert.Equal(t, 1, verify.Records)
	assert.Equal(t, 1, verify.PerBucket["invoices"])
	assert.Contains(t, verify.Issues, "quotes: legacy document not migrated")
}

func TestVerifyMigration_Clean(t *testing.T) {
	db := repotest.OpenDB(t)
	ctx := context.Background()
	putLegacy(t, db, "clients", `[{"name":"A"},{"name":"B"}]`)

	m := newMigrator(t, db)
	_, err := m.RunMigration(ctx)
	require.NoError(t, err)

	verify, err := m.VerifyMigration(ctx)
	require.NoError(t, err)
	assert.True(t, verify.Valid)
	assert.Equal(t, 2, verify.Records)
	assert.Empty(t, verify.Issues)
}

func TestResetMigration_AllowsSecondPass(t *testing.T) {
	db := repotest.OpenDB(t)
	ctx := context.Background()

	m := newMigrator(t, db)
	_, err := m.RunMigration(ctx)
	require.NoError(t, err)

	require.NoError(t, m.ResetMigration(ctx))
	putLegacy(t, db, "clients", `[{"name":"Late"}]`)

	report, err := m.RunMigration(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Total)
}
