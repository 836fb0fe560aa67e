package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/client"
	"github.com/dmitrijs2005/cleansync/internal/client/config"
	"github.com/dmitrijs2005/cleansync/internal/client/conflict"
	"github.com/dmitrijs2005/cleansync/internal/client/identity"
	"github.com/dmitrijs2005/cleansync/internal/client/monitor"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/cleansync/internal/client/services"
	"github.com/dmitrijs2005/cleansync/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// shutdownTimeout bounds how long Run waits for background sync work.
const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	monitor   monitor.Monitor
	sync      services.SyncService
	conflicts services.ConflictService
	reader    *bufio.Reader

	modeMu sync.Mutex
	mode   Mode
}

// NewApp opens the local store and wires the sync services. When no auth
// token is configured and stdin is a terminal the user is asked for one.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if cfg.AuthToken == "" {
		if token, err := GetSecret("Enter auth token (empty to run unauthenticated)", os.Stdout); err == nil {
			cfg.AuthToken = token
		}
	}

	db, err := client.InitDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Error(ctx, "error initializing database", "path", cfg.DatabasePath, "error", err)
		return nil, err
	}

	monCfg, err := monitorConfig(ctx, cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mon := monitor.New(monCfg)

	transport := client.NewHTTPClient(cfg.ServerURL, cfg.AuthToken, cfg.RequestTimeout)
	app, err := newApp(cfg, logger, db, transport, mon)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

// monitorConfig reports under the device id. The id is write-once, so the
// sync service reads back the same value during Init.
func monitorConfig(ctx context.Context, cfg *config.Config, db *sql.DB, logger logging.Logger) (monitor.Config, error) {
	device := identity.NewDeviceIdentity(metadata.NewSQLiteRepository(db), identity.NewIDGenerator(logger))
	deviceID, err := device.ID(ctx)
	if err != nil {
		logger.Error(ctx, "error reading device id", "error", err)
		return monitor.Config{}, err
	}
	return monitor.Config{
		APIKey:     cfg.PostHogKey,
		Endpoint:   cfg.PostHogEndpoint,
		DistinctID: deviceID,
	}, nil
}

func newApp(cfg *config.Config, logger logging.Logger, db *sql.DB, transport client.Client, mon monitor.Monitor) (*App, error) {
	strategy, err := conflict.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	resolver := conflict.NewResolver(strategy, conflict.NewDetector(cfg.ConcurrencyWindow), mon)

	a := &App{
		config:  cfg,
		logger:  logger,
		db:      db,
		monitor: mon,
		reader:  bufio.NewReader(os.Stdin),
		mode:    ModeOffline,
	}
	a.sync = services.NewSyncService(db, transport, resolver, services.Options{
		SyncInterval:   cfg.SyncInterval,
		MaxRetries:     cfg.MaxRetries,
		BaseRetryDelay: cfg.BaseRetryDelay,
		MaxRetryDelay:  cfg.MaxRetryDelay,
		MaxQueueSize:   cfg.MaxQueueSize,
		PushRate:       cfg.PushRate,
		PushBurst:      cfg.PushBurst,
		PullOnRead:     cfg.PullOnRead,
		RunMigration:   cfg.RunMigration,
		Buckets:        cfg.Buckets,
		TaxRate:        cfg.TaxRate,
		Logger:         logger,
		Monitor:        mon,
		Notify:         a.onNotify,
	})
	a.conflicts = a.sync.Conflicts()
	return a, nil
}

// Run initializes the device, starts background sync and blocks in the
// REPL until the user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if err := a.sync.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.sync.Start(ctx); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	go a.StartOnlineStatusWatcher(watchCtx, a.config.SyncInterval)

	printlnFn(fmt.Sprintf("cleansync agent, device %s (type 'help' for commands)", a.sync.DeviceID()))
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
	stopWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.sync.Shutdown(shutdownCtx)
}

func (a *App) close() {
	if err := a.monitor.Close(); err != nil {
		a.logger.Warn(context.Background(), "monitor close failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn(context.Background(), "database close failed", "error", err)
	}
}

func (a *App) onNotify(n services.Notification) {
	printlnFn("!", n.Message)
}

func (a *App) setMode(mode Mode) {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	if a.mode != mode {
		a.mode = mode
		a.logger.Info(context.Background(), "connectivity changed", "mode", string(mode))
	}
}

func (a *App) getMode() Mode {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	return a.mode
}

func (a *App) getStatus() string {
	return fmt.Sprintf("(%s)", a.getMode())
}

// StartOnlineStatusWatcher derives the connectivity mode from the outcome of
// recent pulls: the agent is online while a pull succeeded within two sync
// intervals.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.refreshMode(ctx, interval)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) refreshMode(ctx context.Context, interval time.Duration) {
	st, err := a.sync.Stats(ctx)
	if err != nil {
		return
	}
	if !st.LastPullAt.IsZero() && time.Since(st.LastPullAt) < 2*interval {
		a.setMode(ModeOnline)
	} else {
		a.setMode(ModeOffline)
	}
}

// modeFromError switches to offline when err says the server is unreachable.
func (a *App) modeFromError(err error) {
	switch {
	case err == nil:
		a.setMode(ModeOnline)
	case errors.Is(err, client.ErrUnavailable), errors.Is(err, client.ErrTimeout):
		a.setMode(ModeOffline)
	}
}
