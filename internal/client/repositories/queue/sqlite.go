package queue

import (
	"context"
	"database/sql"
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

const entryColumns = `id, bucket, uuid, operation, data, version, enqueued_at, attempts, last_attempt_at, last_error`

// Enqueue stores e at the tail. Any older entry with the same coalesce key is
// dropped first; callers should run this inside a transaction.
func (r *SQLiteRepository) Enqueue(ctx context.Context, e *models.QueueEntry) error {
	key := e.CoalesceKey()
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE coalesce_key = ?`, key); err != nil {
		return fmt.Errorf("failed to coalesce queue entry %s: %w", key, err)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, coalesce_key, bucket, uuid, operation, data, version, enqueued_at, attempts, last_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, key, e.Key, e.UUID, e.Operation, string(e.Data), e.Version,
		e.EnqueuedAt.UnixNano(), e.Attempts, nanos(e.LastAttemptAt), e.LastError)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	result := []*models.QueueEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Len(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) GetByCoalesceKey(ctx context.Context, key string) (*models.QueueEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE coalesce_key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	return e, err
}

func (r *SQLiteRepository) Remove(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue entry %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) RecordAttempt(ctx context.Context, id string, at time.Time, lastErr string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET attempts = attempts + 1, last_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, at.UnixNano(), lastErr, id)
	if err != nil {
		return fmt.Errorf("failed to record attempt for %s: %w", id, err)
	}
	return requireOne(res, id)
}

// MoveToFailed copies the entry into the failed list and removes it from the
// active queue.
func (r *SQLiteRepository) MoveToFailed(ctx context.Context, id, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO failed_queue (`+entryColumns+`, reason, failed_at)
		SELECT `+entryColumns+`, ?, ? FROM sync_queue WHERE id = ?
	`, reason, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to move %s to failed queue: %w", id, err)
	}
	if err := requireOne(res, id); err != nil {
		return err
	}
	return r.Remove(ctx, id)
}

func (r *SQLiteRepository) ListFailed(ctx context.Context) ([]*models.FailedEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+`, reason, failed_at FROM failed_queue ORDER BY failed_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed queue: %w", err)
	}
	defer rows.Close()

	result := []*models.FailedEntry{}
	for rows.Next() {
		var (
			f        models.FailedEntry
			data     string
			enqueued int64
			last     sql.NullInt64
			failedAt int64
		)
		if err := rows.Scan(&f.ID, &f.Key, &f.UUID, &f.Operation, &data, &f.Version,
			&enqueued, &f.Attempts, &last, &f.LastError, &f.Reason, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failed entry: %w", err)
		}
		f.Data = []byte(data)
		f.EnqueuedAt = time.Unix(0, enqueued)
		f.LastAttemptAt = fromNanos(last)
		f.FailedAt = time.Unix(0, failedAt)
		result = append(result, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failed queue: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) FailedLen(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count failed queue: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) RemoveFailed(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM failed_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove failed entry %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) ClearFailed(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM failed_queue`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear failed queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*models.QueueEntry, error) {
	var (
		e        models.QueueEntry
		data     string
		enqueued int64
		last     sql.NullInt64
	)
	err := s.Scan(&e.ID, &e.Key, &e.UUID, &e.Operation, &data, &e.Version,
		&enqueued, &e.Attempts, &last, &e.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}
	e.Data = []byte(data)
	e.EnqueuedAt = time.Unix(0, enqueued)
	e.LastAttemptAt = fromNanos(last)
	return &e, nil
}

func requireOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue entry %s: %w", id, common.ErrorNotFound)
	}
	return nil
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}
