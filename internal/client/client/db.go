package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/cleansync/internal/client/migrations"
	"github.com/dmitrijs2005/cleansync/internal/filex"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// RunMigrations applies the embedded schema migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the local store at dsn and brings its schema up to date.
// The store is limited to a single connection so writers never contend.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	if filex.IsPlainPath(dsn) {
		if _, err := filex.EnsureParentDir(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}

	return db, nil
}
