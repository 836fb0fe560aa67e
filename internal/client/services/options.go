package services

import (
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/identity"
	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/monitor"
	"github.com/dmitrijs2005/cleansync/internal/logging"
)

const (
	DefaultSyncInterval   = 30 * time.Second
	DefaultMaxRetries     = 5
	DefaultBaseRetryDelay = time.Second
	DefaultMaxRetryDelay  = 5 * time.Minute
	DefaultMaxQueueSize   = 1000
)

// Options tunes a SyncService. Zero values fall back to the defaults above;
// a zero PushRate disables pacing.
type Options struct {
	SyncInterval   time.Duration
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	MaxQueueSize   int

	// PushRate is the sustained number of pushes per second.
	PushRate  float64
	PushBurst int

	// PullOnRead starts a background pull after every local read.
	PullOnRead bool

	// RunMigration converts legacy per-bucket documents during Init.
	RunMigration bool
	Buckets      []string
	TaxRate      float64

	Logger  logging.Logger
	Monitor monitor.Monitor

	// Notify receives permanent failures, pending manual conflicts and queue
	// alerts. It is called without internal locks held.
	Notify func(Notification)

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if o.MaxRetryDelay < o.BaseRetryDelay {
		o.MaxRetryDelay = o.BaseRetryDelay
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = DefaultMaxQueueSize
	}
	if o.PushBurst <= 0 {
		o.PushBurst = 1
	}
	if len(o.Buckets) == 0 {
		o.Buckets = identity.DefaultBuckets
	}
	if o.TaxRate <= 0 {
		o.TaxRate = identity.DefaultTaxRate
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Monitor == nil {
		o.Monitor = monitor.Noop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// NotificationKind classifies a Notification.
type NotificationKind string

const (
	NotifyDeliveryFailed  NotificationKind = "delivery-failed"
	NotifyConflictPending NotificationKind = "conflict-pending"
	NotifyQueueSize       NotificationKind = "queue-size"
)

// Notification reports something the user may need to act on.
type Notification struct {
	Kind       NotificationKind
	Key        string
	UUID       string
	ConflictID string
	Message    string
}

// WriteResult is returned by local writes. Synced is always false: writes
// never wait for the network.
type WriteResult struct {
	Success bool
	Synced  bool
	Records []*models.Record
}

// DrainResult summarizes one ProcessQueue pass.
type DrainResult struct {
	// Busy is set when another pass was already running.
	Busy      bool
	Attempted int
	Delivered int
	Deferred  int
	Retried   int
	Failed    int
	Conflicts int
}

// PullResult summarizes one PullFromCloud pass.
type PullResult struct {
	Busy      bool
	Received  int
	Applied   int
	Skipped   int
	Conflicts int
	Errors    int
	// Checkpoint is the value stored for the next pull.
	Checkpoint time.Time
}

// Stats is a point-in-time view of the sync engine.
type Stats struct {
	DeviceID            string
	QueueLength         int
	FailedLength        int
	UnresolvedConflicts int
	Records             map[models.SyncStatus]int
	LastSyncAt          time.Time

	Delivered         int64
	Retries           int64
	PermanentFailures int64
	Conflicts         int64
	PullApplied       int64
	PullSkipped       int64
	LastPushAt        time.Time
	LastPullAt        time.Time
	LastError         string

	// WeakIDs is set once the id generator fell back to a non-crypto source.
	WeakIDs bool
}
