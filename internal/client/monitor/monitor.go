// Package monitor reports sync health to an external observability sink.
// Every call is fire-and-forget: failures to report never reach the caller.
package monitor

import (
	"os"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
)

// Event names.
const (
	EventConflictRecorded    = "sync_conflict_recorded"
	EventSyncFailureRecorded = "sync_failure_recorded"
	EventQueueSizeAlert      = "sync_queue_size_alert"
)

// DisableEnv turns reporting off when set to "false".
const DisableEnv = "CLEANSYNC_MONITORING_ENABLED"

// ConflictEvent describes one resolved or escalated conflict.
type ConflictEvent struct {
	Entity     string
	UUID       string
	Strategy   string
	Resolution string
	Reason     string
	Manual     bool
}

// SyncFailureEvent describes a queue entry that exhausted its retries.
type SyncFailureEvent struct {
	Entity    string
	UUID      string
	Operation string
	Attempts  int
	Reason    string
}

// Monitor receives one-way notifications from the sync core.
type Monitor interface {
	ConflictRecorded(ev ConflictEvent)
	SyncFailureRecorded(ev SyncFailureEvent)
	QueueSizeAlert(size, limit int)
	Close() error
}

// Config selects the PostHog project.
type Config struct {
	APIKey   string
	Endpoint string
	// DistinctID identifies this installation, normally the device id.
	DistinctID string
}

// New returns a PostHog-backed monitor, or a no-op one when no key is
// configured, reporting is disabled through DisableEnv, or the SDK refuses
// the configuration.
func New(cfg Config) Monitor {
	if cfg.APIKey == "" || os.Getenv(DisableEnv) == "false" {
		return Noop{}
	}

	pc := posthog.Config{
		BatchSize: 100,
		Interval:  5 * time.Second,
	}
	if cfg.Endpoint != "" {
		pc.Endpoint = cfg.Endpoint
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, pc)
	if err != nil {
		return Noop{}
	}
	return NewPostHog(client, cfg.DistinctID)
}

// PostHog sends events through a posthog.Client.
type PostHog struct {
	client     posthog.Client
	distinctID string
	mu         sync.Mutex
}

var _ Monitor = (*PostHog)(nil)

func NewPostHog(client posthog.Client, distinctID string) *PostHog {
	return &PostHog{client: client, distinctID: distinctID}
}

func (p *PostHog) ConflictRecorded(ev ConflictEvent) {
	p.capture(EventConflictRecorded, posthog.NewProperties().
		Set("entity", ev.Entity).
		Set("uuid", ev.UUID).
		Set("strategy", ev.Strategy).
		Set("resolution", ev.Resolution).
		Set("reason", ev.Reason).
		Set("manual", ev.Manual))
}

func (p *PostHog) SyncFailureRecorded(ev SyncFailureEvent) {
	p.capture(EventSyncFailureRecorded, posthog.NewProperties().
		Set("entity", ev.Entity).
		Set("uuid", ev.UUID).
		Set("operation", ev.Operation).
		Set("attempts", ev.Attempts).
		Set("reason", ev.Reason))
}

func (p *PostHog) QueueSizeAlert(size, limit int) {
	p.capture(EventQueueSizeAlert, posthog.NewProperties().
		Set("size", size).
		Set("limit", limit))
}

// Close flushes buffered events.
func (p *PostHog) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client.Close()
}

func (p *PostHog) capture(event string, props posthog.Properties) {
	p.mu.Lock()
	defer p.mu.Unlock()

	props.Set("$process_person_profile", false)
	_ = p.client.Enqueue(posthog.Capture{
		DistinctId: p.distinctID,
		Event:      event,
		Properties: props,
	})
}

// Noop discards every notification.
type Noop struct{}

func (Noop) ConflictRecorded(ConflictEvent)       {}
func (Noop) SyncFailureRecorded(SyncFailureEvent) {}
func (Noop) QueueSizeAlert(int, int)              {}
func (Noop) Close() error                         { return nil }
