package changes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/dbx"
)

// PostgresDB is what PostgresRepository needs from *sql.DB.
type PostgresDB interface {
	dbx.DBTX
	dbx.TxBeginner
}

// PostgresRepository implements Repository over PostgreSQL.
type PostgresRepository struct {
	db PostgresDB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository constructs a repository bound to db.
func NewPostgresRepository(db PostgresDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Apply decides and writes c inside one transaction. The stored row is
// locked while the decision is made. When a concurrent first write wins the
// insert race, the decision is made once more against that row.
func (r *PostgresRepository) Apply(ctx context.Context, account string, c *Change) (*Change, error) {
	var out *Change
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for attempt := 0; attempt < 2; attempt++ {
			stored, err := selectForUpdate(ctx, tx, account, c.Key, c.UUID)
			if err != nil {
				return err
			}
			if stored != nil && !Accepts(stored, c) {
				out = stored
				return common.ErrVersionConflict
			}

			next := Prepare(stored, c)
			if stored != nil {
				if err := update(ctx, tx, account, next); err != nil {
					return err
				}
				out = next
				return nil
			}

			inserted, err := insert(ctx, tx, account, next)
			if err != nil {
				return err
			}
			if inserted {
				out = next
				return nil
			}
		}
		return fmt.Errorf("change %s/%s: concurrent writes did not settle", c.Key, c.UUID)
	})
	if errors.Is(err, common.ErrVersionConflict) {
		return out, err
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func selectForUpdate(ctx context.Context, tx dbx.DBTX, account, key, uuid string) (*Change, error) {
	query := `SELECT version, operation, data, device_id, updated_at FROM changes
		WHERE account = $1 AND entity_key = $2 AND uuid = $3 FOR UPDATE`

	c := &Change{Key: key, UUID: uuid}
	var data []byte
	err := tx.QueryRowContext(ctx, query, account, key, uuid).
		Scan(&c.Version, &c.Operation, &data, &c.DeviceID, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select change: %w", err)
	}
	c.Data = data
	return c, nil
}

func insert(ctx context.Context, tx dbx.DBTX, account string, c *Change) (bool, error) {
	query := `INSERT INTO changes (account, entity_key, uuid, version, operation, data, device_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account, entity_key, uuid) DO NOTHING`

	res, err := tx.ExecContext(ctx, query,
		account, c.Key, c.UUID, c.Version, c.Operation, string(c.Data), c.DeviceID, c.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func update(ctx context.Context, tx dbx.DBTX, account string, c *Change) error {
	query := `UPDATE changes SET version = $4, operation = $5, data = $6, device_id = $7, updated_at = $8
		WHERE account = $1 AND entity_key = $2 AND uuid = $3`

	res, err := tx.ExecContext(ctx, query,
		account, c.Key, c.UUID, c.Version, c.Operation, string(c.Data), c.DeviceID, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

// Since returns the changes of account updated at or after since.
func (r *PostgresRepository) Since(ctx context.Context, account string, since time.Time) ([]*Change, error) {
	query := `SELECT entity_key, uuid, version, operation, data, device_id, updated_at FROM changes
		WHERE account = $1 AND updated_at >= $2
		ORDER BY updated_at, entity_key, uuid`

	rows, err := r.db.QueryContext(ctx, query, account, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select changes: %w", err)
	}
	defer rows.Close()

	var result []*Change
	for rows.Next() {
		var (
			c    Change
			data []byte
		)
		if err := rows.Scan(&c.Key, &c.UUID, &c.Version, &c.Operation, &data, &c.DeviceID, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Data = data
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
