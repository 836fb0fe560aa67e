package monitor

import "sync"

// Recorder keeps every notification in memory. It backs tests and the
// agent's status output.
type Recorder struct {
	mu        sync.Mutex
	Conflicts []ConflictEvent
	Failures  []SyncFailureEvent
	Alerts    []int
}

var _ Monitor = (*Recorder)(nil)

func (r *Recorder) ConflictRecorded(ev ConflictEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Conflicts = append(r.Conflicts, ev)
}

func (r *Recorder) SyncFailureRecorded(ev SyncFailureEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, ev)
}

func (r *Recorder) QueueSizeAlert(size, limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, size)
}

func (r *Recorder) Close() error { return nil }

// Snapshot returns copies of the recorded events.
func (r *Recorder) Snapshot() (conflicts []ConflictEvent, failures []SyncFailureEvent, alerts []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConflictEvent(nil), r.Conflicts...),
		append([]SyncFailureEvent(nil), r.Failures...),
		append([]int(nil), r.Alerts...)
}
