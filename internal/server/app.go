// Package server wires the reference sync endpoint: it picks the change log
// backend, builds the HTTP server and runs it until the context ends.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/logging"
	"github.com/dmitrijs2005/cleansync/internal/server/auth"
	"github.com/dmitrijs2005/cleansync/internal/server/changes"
	"github.com/dmitrijs2005/cleansync/internal/server/config"
	"github.com/dmitrijs2005/cleansync/internal/server/httpapi"
)

// openPostgres is a seam for tests.
var openPostgres = changes.OpenPostgres

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *httpapi.Server
}

// NewApp builds the endpoint. A configured DSN selects the Postgres change
// log; otherwise changes are kept in memory.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	app := &App{config: c, logger: logger}

	var repo changes.Repository
	if c.DatabaseDSN != "" {
		db, err := openPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.db = db
		repo = changes.NewPostgresRepository(db)
		logger.Info(ctx, "using postgres change log")
	} else {
		repo = changes.NewMemoryRepository()
		logger.Warn(ctx, "no database configured, changes are kept in memory")
	}

	svc := changes.NewService(repo, logger)
	app.server = httpapi.NewServer(c.Address, logger, svc, c.SecretKey, httpapi.Options{
		MaxBodyBytes:    c.MaxBodyBytes,
		ShutdownTimeout: c.ShutdownTimeout,
	})
	return app, nil
}

// Run serves until ctx is cancelled and then releases the database.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...")
	defer app.close(ctx)

	if err := app.server.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (app *App) close(ctx context.Context) {
	if app.db == nil {
		return
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}

// IssueToken mints a bearer token for account with the configured secret.
func IssueToken(c *config.Config, account string, validity time.Duration) (string, error) {
	if account == "" {
		return "", fmt.Errorf("account is required")
	}
	if validity <= 0 {
		validity = c.TokenValidityDuration
	}
	return auth.GenerateToken(account, []byte(c.SecretKey), validity)
}
