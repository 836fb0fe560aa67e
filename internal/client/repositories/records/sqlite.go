package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, bucket string, rec *models.Record) error {
	if rec == nil || rec.Meta == nil || rec.Meta.UUID == "" {
		return fmt.Errorf("upsert into %s: %w", bucket, common.ErrorMissingUUID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.Meta.UUID, err)
	}

	query := `
		INSERT INTO records (bucket, uuid, data, version, sync_status, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, uuid) DO UPDATE SET
			data = excluded.data,
			version = excluded.version,
			sync_status = excluded.sync_status,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted
	`
	_, err = r.db.ExecContext(ctx, query,
		bucket, rec.Meta.UUID, string(data), rec.Meta.Version,
		string(rec.Meta.SyncStatus), rec.Meta.UpdatedAt.UnixNano(), rec.IsDeleted())
	if err != nil {
		return fmt.Errorf("failed to upsert record %s/%s: %w", bucket, rec.Meta.UUID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, bucket, uuid string) (*models.Record, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE bucket = ? AND uuid = ?`, bucket, uuid).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", bucket, uuid, err)
	}
	return decode(data)
}

func (r *SQLiteRepository) List(ctx context.Context, bucket string, includeDeleted bool) ([]*models.Record, error) {
	query := `SELECT data FROM records WHERE bucket = ? AND (deleted = 0 OR ?) ORDER BY rowid`
	rows, err := r.db.QueryContext(ctx, query, bucket, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list records in %s: %w", bucket, err)
	}
	defer rows.Close()

	result := []*models.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		rec, err := decode(data)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}

	return result, nil
}

func (r *SQLiteRepository) Buckets(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT bucket FROM records ORDER BY bucket`)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM records WHERE deleted = 0 GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	result := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		result[models.SyncStatus(status)] = n
	}
	return result, rows.Err()
}

func decode(data string) (*models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode stored record: %w", err)
	}
	return &rec, nil
}
