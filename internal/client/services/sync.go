// Package services contains the application services of the sync client:
// the SyncService that owns the local-first write path, the outbound queue
// and the pull loop, and the ConflictService that exposes stored conflicts
// for manual resolution.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/cleansync/internal/client/client"
	"github.com/dmitrijs2005/cleansync/internal/client/conflict"
	"github.com/dmitrijs2005/cleansync/internal/client/identity"
	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/monitor"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/records"
	"github.com/dmitrijs2005/cleansync/internal/logging"
)

var (
	// ErrNotInitialized is returned by writes issued before Init.
	ErrNotInitialized = errors.New("sync service not initialized")
	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("sync service closed")
)

// SyncService is the local-first data layer.
//
// Contract:
//   - Writes (Set, SetValue, Remove) commit locally and enqueue in one
//     transaction; they never touch the network.
//   - Reads (Get, GetRecord, GetValue) are served from local storage only.
//   - ProcessQueue and PullFromCloud reconcile with the remote; both are
//     safe to call concurrently with writes and with themselves.
type SyncService interface {
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	SyncNow(ctx context.Context) error

	Set(ctx context.Context, key string, recs ...*models.Record) (WriteResult, error)
	SetValue(ctx context.Context, key string, v any) (WriteResult, error)
	Get(ctx context.Context, key string) ([]*models.Record, error)
	GetRecord(ctx context.Context, key, uuid string) (*models.Record, error)
	GetValue(ctx context.Context, key string, out any) (bool, error)
	Buckets(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, key string, uuids ...string) (WriteResult, error)

	ProcessQueue(ctx context.Context) (DrainResult, error)
	PullFromCloud(ctx context.Context) (PullResult, error)

	FailedEntries(ctx context.Context) ([]*models.FailedEntry, error)
	RetryFailed(ctx context.Context, ids ...string) (int, error)
	ClearFailed(ctx context.Context) (int, error)
	QueueLength(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)

	Conflicts() ConflictService
	Migrator() *identity.Migrator
	DeviceID() string
}

type syncService struct {
	db        *sql.DB
	transport client.Client
	resolver  *conflict.Resolver
	opts      Options
	logger    logging.Logger
	monitor   monitor.Monitor
	now       func() time.Time
	limiter   *rate.Limiter

	ids        *identity.IDGenerator
	device     *identity.DeviceIdentity
	validators *identity.Validators

	// writeMu serializes every local mutation.
	writeMu  sync.Mutex
	stamper  *identity.Stamper
	migrator *identity.Migrator

	draining atomic.Bool
	pulling  atomic.Bool

	lifeMu   sync.Mutex
	started  bool
	closed   bool
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewSyncService wires a sync engine over a migrated SQLite database and a
// transport. A nil resolver uses last-write-wins with the default window.
func NewSyncService(db *sql.DB, transport client.Client, resolver *conflict.Resolver, opts Options) SyncService {
	opts = opts.withDefaults()
	if resolver == nil {
		resolver = conflict.NewResolver(conflict.LastWriteWins, nil, opts.Monitor)
	}

	ids := identity.NewIDGenerator(opts.Logger)
	s := &syncService{
		db:         db,
		transport:  transport,
		resolver:   resolver,
		opts:       opts,
		logger:     opts.Logger,
		monitor:    opts.Monitor,
		now:        opts.Now,
		ids:        ids,
		device:     identity.NewDeviceIdentity(metadata.NewSQLiteRepository(db), ids),
		validators: identity.NewValidators(opts.TaxRate, opts.Now),
	}
	if opts.PushRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.PushRate), opts.PushBurst)
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	return s
}

// Init loads or creates the device identity and runs the one-time legacy
// migration when enabled. It is idempotent.
func (s *syncService) Init(ctx context.Context) error {
	deviceID, err := s.device.ID(ctx)
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}

	s.writeMu.Lock()
	if s.stamper == nil {
		s.stamper = identity.NewStamper(deviceID, s.ids, s.now)
		s.migrator = identity.NewMigrator(s.db, s.stamper, s.validators, s.ids, s.opts.Buckets, s.logger, s.now)
	}
	migrator := s.migrator
	s.writeMu.Unlock()

	s.setStat(func(st *Stats) { st.DeviceID = deviceID })
	s.logger.Info(ctx, "sync service initialized", "device_id", deviceID)

	if !s.opts.RunMigration {
		return nil
	}

	s.writeMu.Lock()
	report, err := migrator.RunMigration(ctx)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("legacy migration: %w", err)
	}
	if !report.Skipped {
		s.logger.Info(ctx, "legacy migration finished", "records", report.Total, "failed_buckets", report.Failed)
	}
	return nil
}

// Start launches the periodic sync loop. It returns immediately; the loop
// stops when ctx is cancelled or on Shutdown.
func (s *syncService) Start(ctx context.Context) error {
	if s.currentStamper() == nil {
		return ErrNotInitialized
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.loop(loopCtx)
	}()
	return nil
}

func (s *syncService) loop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SyncInterval)
	defer ticker.Stop()

	s.logger.Info(ctx, "sync loop started", "interval", s.opts.SyncInterval.String())
	for {
		if err := s.SyncNow(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn(ctx, "sync pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "sync loop stopped")
			return
		case <-s.bgCtx.Done():
			s.logger.Info(context.Background(), "sync loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// SyncNow runs one drain followed by one pull.
func (s *syncService) SyncNow(ctx context.Context) error {
	ctx, cancel := s.mergeBackground(ctx)
	defer cancel()

	_, pushErr := s.ProcessQueue(ctx)
	_, pullErr := s.PullFromCloud(ctx)
	return errors.Join(pushErr, pullErr)
}

// Shutdown stops the loop and any background pull and waits for them until
// ctx expires.
func (s *syncService) Shutdown(ctx context.Context) error {
	s.lifeMu.Lock()
	s.closed = true
	s.lifeMu.Unlock()

	s.bgCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info(ctx, "sync service stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// mergeBackground derives a context that is also cancelled by Shutdown.
func (s *syncService) mergeBackground(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.bgCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// triggerPull starts a fire-and-forget pull unless one is already running.
func (s *syncService) triggerPull() {
	if !s.opts.PullOnRead || s.pulling.Load() {
		return
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.PullFromCloud(s.bgCtx); err != nil && s.bgCtx.Err() == nil {
			s.logger.Debug(s.bgCtx, "background pull failed", "error", err)
		}
	}()
}

func (s *syncService) currentStamper() *identity.Stamper {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.stamper
}

func (s *syncService) DeviceID() string {
	if st := s.currentStamper(); st != nil {
		return st.DeviceID()
	}
	return ""
}

// Migrator exposes the legacy migrator for verification and reset. It is
// nil before Init.
func (s *syncService) Migrator() *identity.Migrator {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.migrator
}

func (s *syncService) Conflicts() ConflictService {
	return &conflictService{sync: s}
}

func (s *syncService) QueueLength(ctx context.Context) (int, error) {
	n, err := queue.NewSQLiteRepository(s.db).Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

func (s *syncService) Stats(ctx context.Context) (Stats, error) {
	q := queue.NewSQLiteRepository(s.db)

	queued, err := q.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("queue length: %w", err)
	}
	failed, err := q.FailedLen(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed length: %w", err)
	}
	unresolved, err := conflicts.NewSQLiteRepository(s.db).CountUnresolved(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count conflicts: %w", err)
	}
	byStatus, err := records.NewSQLiteRepository(s.db).CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count records: %w", err)
	}
	lastSync, err := metadata.GetTime(ctx, metadata.NewSQLiteRepository(s.db), metadata.KeyLastSyncAt)
	if err != nil {
		return Stats{}, fmt.Errorf("read checkpoint: %w", err)
	}

	s.statsMu.Lock()
	st := s.stats
	s.statsMu.Unlock()

	st.QueueLength = queued
	st.FailedLength = failed
	st.UnresolvedConflicts = unresolved
	st.Records = byStatus
	st.LastSyncAt = lastSync
	st.WeakIDs = s.ids.Weak()
	return st, nil
}

func (s *syncService) setStat(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

func (s *syncService) notify(ns ...Notification) {
	if s.opts.Notify == nil {
		return
	}
	for _, n := range ns {
		s.opts.Notify(n)
	}
}
