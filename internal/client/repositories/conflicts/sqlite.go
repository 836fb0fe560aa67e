package conflicts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `id, bucket, uuid, local, remote, reason, field_conflicts, created_at, resolved, choice, resolved_at`

func (r *SQLiteRepository) Save(ctx context.Context, c *models.Conflict) error {
	local, err := json.Marshal(c.Local)
	if err != nil {
		return fmt.Errorf("failed to encode local side of %s: %w", c.ID, err)
	}
	remote, err := json.Marshal(c.Remote)
	if err != nil {
		return fmt.Errorf("failed to encode remote side of %s: %w", c.ID, err)
	}
	fields := c.FieldConflicts
	if fields == nil {
		fields = []models.FieldConflict{}
	}
	fc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode field conflicts of %s: %w", c.ID, err)
	}

	var resolvedAt any
	if c.ResolvedAt != nil {
		resolvedAt = c.ResolvedAt.UnixNano()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conflicts (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Key, c.UUID, string(local), string(remote), c.Reason, string(fc),
		c.CreatedAt.UnixNano(), c.Resolved, string(c.Choice), resolvedAt)
	if err != nil {
		return fmt.Errorf("failed to save conflict %s: %w", c.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Conflict, error) {
	c, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM conflicts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	return c, err
}

func (r *SQLiteRepository) ListUnresolved(ctx context.Context) ([]*models.Conflict, error) {
	return r.query(ctx, `SELECT `+columns+` FROM conflicts WHERE resolved = 0 ORDER BY created_at, rowid`)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Conflict, error) {
	return r.query(ctx, `SELECT `+columns+` FROM conflicts ORDER BY created_at, rowid`)
}

func (r *SQLiteRepository) MarkResolved(ctx context.Context, id string, choice models.ConflictChoice, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conflicts SET resolved = 1, choice = ?, resolved_at = ? WHERE id = ?`,
		string(choice), at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conflict %s: %w", id, common.ErrorNotFound)
	}
	return nil
}

func (r *SQLiteRepository) CountUnresolved(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts WHERE resolved = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) PurgeResolved(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM conflicts WHERE resolved = 1 AND resolved_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge conflicts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) query(ctx context.Context, q string) ([]*models.Conflict, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	result := []*models.Conflict{}
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflicts: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Conflict, error) {
	var (
		c                 models.Conflict
		local, remote, fc string
		choice            string
		created           int64
		resolvedAt        sql.NullInt64
	)
	err := s.Scan(&c.ID, &c.Key, &c.UUID, &local, &remote, &c.Reason, &fc,
		&created, &c.Resolved, &choice, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}

	if err := json.Unmarshal([]byte(local), &c.Local); err != nil {
		return nil, fmt.Errorf("failed to decode local side of %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(remote), &c.Remote); err != nil {
		return nil, fmt.Errorf("failed to decode remote side of %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(fc), &c.FieldConflicts); err != nil {
		return nil, fmt.Errorf("failed to decode field conflicts of %s: %w", c.ID, err)
	}
	if len(c.FieldConflicts) == 0 {
		c.FieldConflicts = nil
	}

	c.CreatedAt = time.Unix(0, created)
	c.Choice = models.ConflictChoice(choice)
	if resolvedAt.Valid {
		t := time.Unix(0, resolvedAt.Int64)
		c.ResolvedAt = &t
	}
	return &c, nil
}
