package changes

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	selectSQL = regexp.QuoteMeta(`SELECT version, operation, data, device_id, updated_at FROM changes`)
	insertSQL = regexp.QuoteMeta(`INSERT INTO changes`)
	updateSQL = regexp.QuoteMeta(`UPDATE changes SET`)
	sinceSQL  = regexp.QuoteMeta(`SELECT entity_key, uuid, version, operation, data, device_id, updated_at FROM changes`)
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func storedRow(version int64, device string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"version", "operation", "data", "device_id", "updated_at"}).
		AddRow(version, common.OperationUpdate, `{"v":0}`, device, t0)
}

func TestPostgresApply_InsertsNewRecord(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	c := rec("quotes", "u1", 1, "dev-a", t0)

	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).WithArgs("acct", "quotes", "u1").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(insertSQL).
		WithArgs("acct", "quotes", "u1", int64(1), common.OperationUpdate, `{"v":1}`, "dev-a", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := repo.Apply(context.Background(), "acct", c)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApply_UpdatesNewerVersion(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	c := rec("quotes", "u1", 3, "dev-b", t0)

	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).WithArgs("acct", "quotes", "u1").WillReturnRows(storedRow(2, "dev-a"))
	mock.ExpectExec(updateSQL).
		WithArgs("acct", "quotes", "u1", int64(3), common.OperationUpdate, `{"v":1}`, "dev-b", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.Apply(context.Background(), "acct", c)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApply_ConflictReturnsStoredCopy(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).WithArgs("acct", "quotes", "u1").WillReturnRows(storedRow(2, "dev-a"))
	mock.ExpectRollback()

	cur, err := repo.Apply(context.Background(), "acct", rec("quotes", "u1", 2, "dev-b", t0))
	assert.ErrorIs(t, err, common.ErrVersionConflict)
	require.NotNil(t, cur)
	assert.EqualValues(t, 2, cur.Version)
	assert.Equal(t, "dev-a", cur.DeviceID)
	assert.JSONEq(t, `{"v":0}`, string(cur.Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApply_LostInsertRaceRetriesOnce(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).WithArgs("acct", "quotes", "u1").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(insertSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectSQL).WithArgs("acct", "quotes", "u1").WillReturnRows(storedRow(1, "dev-b"))
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.Apply(context.Background(), "acct", rec("quotes", "u1", 2, "dev-a", t0))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApply_DocumentVersionFollowsStored(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).WithArgs("acct", "settings", "").WillReturnRows(storedRow(4, "other"))
	mock.ExpectExec(updateSQL).
		WithArgs("acct", "settings", "", int64(5), common.OperationUpdate, `{"v":1}`, "dev-a", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := repo.Apply(context.Background(), "acct", rec("settings", "", 0, "dev-a", t0))
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApply_DBErrors(t *testing.T) {
	t.Run("select", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectSQL).WillReturnError(errors.New("db is down"))
		mock.ExpectRollback()

		_, err := repo.Apply(context.Background(), "acct", rec("quotes", "u1", 1, "d", t0))
		assert.ErrorContains(t, err, "select change: db is down")
	})

	t.Run("update rows affected", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectSQL).WillReturnRows(storedRow(1, "d"))
		mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))
		mock.ExpectRollback()

		_, err := repo.Apply(context.Background(), "acct", rec("quotes", "u1", 2, "d", t0))
		assert.ErrorContains(t, err, "rows affected error: rows-err")
	})

	t.Run("begin", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("no conn"))

		_, err := repo.Apply(context.Background(), "acct", rec("quotes", "u1", 1, "d", t0))
		assert.ErrorContains(t, err, "begin tx")
	})
}

func TestPostgresSince(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	since := t0.Add(-time.Hour)

	rows := sqlmock.NewRows([]string{"entity_key", "uuid", "version", "operation", "data", "device_id", "updated_at"}).
		AddRow("quotes", "u1", int64(2), common.OperationUpdate, `{"a":1}`, "dev-a", t0).
		AddRow("settings", "", int64(1), common.OperationDelete, `null`, "dev-b", t0.Add(time.Second))
	mock.ExpectQuery(sinceSQL).WithArgs("acct", since).WillReturnRows(rows)

	got, err := repo.Since(context.Background(), "acct", since)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UUID)
	assert.JSONEq(t, `{"a":1}`, string(got[0].Data))
	assert.Equal(t, common.OperationDelete, got[1].Operation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSince_QueryError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(sinceSQL).WillReturnError(errors.New("boom"))

	_, err := repo.Since(context.Background(), "acct", time.Time{})
	assert.ErrorContains(t, err, "failed to select changes: boom")
}

func TestRunMigrations(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	require.NoError(t, RunMigrations(context.Background(), db))

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	assert.EqualError(t, RunMigrations(context.Background(), db), "boom")
}
