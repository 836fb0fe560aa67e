package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/client"
	"github.com/dmitrijs2005/cleansync/internal/client/conflict"
	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/monitor"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/repotest"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeTransport struct {
	mu     sync.Mutex
	pushes []*client.PushRequest
	pulls  []time.Time

	pushFn   func(req *client.PushRequest) (*client.PushResponse, error)
	pullResp *client.PullResponse
	pullErr  error
}

func (f *fakeTransport) Push(ctx context.Context, req *client.PushRequest) (*client.PushResponse, error) {
	f.mu.Lock()
	f.pushes = append(f.pushes, req)
	fn := f.pushFn
	f.mu.Unlock()

	if fn == nil {
		return &client.PushResponse{OK: true}, nil
	}
	return fn(req)
}

func (f *fakeTransport) Pull(ctx context.Context, since time.Time) (*client.PullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, since)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if f.pullResp == nil {
		return &client.PullResponse{}, nil
	}
	return f.pullResp, nil
}

func (f *fakeTransport) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeTransport) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulls)
}

type notes struct {
	mu  sync.Mutex
	all []Notification
}

func (n *notes) add(x Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, x)
}

func (n *notes) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, 0, len(n.all))
	for _, x := range n.all {
		out = append(out, x.Kind)
	}
	return out
}

type harness struct {
	svc       *syncService
	transport *fakeTransport
	clock     *fakeClock
	monitor   *monitor.Recorder
	notes     *notes
}

func newHarness(t *testing.T, strategy conflict.Strategy, tweak func(*Options)) *harness {
	t.Helper()

	h := &harness{
		transport: &fakeTransport{},
		clock:     newClock(),
		monitor:   &monitor.Recorder{},
		notes:     &notes{},
	}
	opts := Options{
		MaxRetries:     3,
		BaseRetryDelay: time.Second,
		MaxRetryDelay:  time.Minute,
		Monitor:        h.monitor,
		Notify:         h.notes.add,
		Now:            h.clock.Now,
	}
	if tweak != nil {
		tweak(&opts)
	}

	db := repotest.OpenDB(t)
	resolver := conflict.NewResolver(strategy, conflict.NewDetector(conflict.DefaultWindow), h.monitor)
	h.svc = NewSyncService(db, h.transport, resolver, opts).(*syncService)
	require.NoError(t, h.svc.Init(context.Background()))
	t.Cleanup(func() { _ = h.svc.Shutdown(context.Background()) })
	return h
}

func (h *harness) create(t *testing.T, key string, fields map[string]any) *models.Record {
	t.Helper()
	res, err := h.svc.Set(context.Background(), key, models.NewRecord(fields))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	return res.Records[0]
}

func (h *harness) queued(t *testing.T) []*models.QueueEntry {
	t.Helper()
	entries, err := queue.NewSQLiteRepository(h.svc.db).List(context.Background())
	require.NoError(t, err)
	return entries
}

// remoteCopy derives the version another device would hold.
func remoteCopy(rec *models.Record, version int64, updatedAt time.Time, fields map[string]any) *models.Record {
	out := rec.Clone()
	for k, v := range fields {
		out.Set(k, v)
	}
	out.Meta.Version = version
	out.Meta.UpdatedAt = updatedAt
	out.Meta.DeviceID = "device-b"
	out.Meta.SyncStatus = models.SyncStatusSynced
	return out
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
