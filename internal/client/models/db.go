// Package models defines the client-side data models that flow through the
// sync core: records with their sync metadata, queue entries, conflicts and
// pulled changes.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// MetadataKey is the reserved field under which Metadata is serialized.
const MetadataKey = "_metadata"

// SyncStatus describes where a record stands relative to the remote store.
type SyncStatus string

const (
	// SyncStatusLocal marks a record that was never pushed.
	SyncStatusLocal SyncStatus = "local"
	// SyncStatusPending marks a record queued for push.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSynced marks a record acknowledged by the remote.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusConflict marks a record that needs review or resolution.
	SyncStatusConflict SyncStatus = "conflict"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusLocal, SyncStatusPending, SyncStatusSynced, SyncStatusConflict:
		return true
	}
	return false
}

// Metadata is the synchronization block attached to every record.
type Metadata struct {
	// UUID is assigned once and never changes.
	UUID string `json:"uuid"`

	// CreatedAt is set at first stamp.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is bumped on every local mutation.
	UpdatedAt time.Time `json:"updatedAt"`

	// Version is a logical clock incremented by one per local mutation.
	Version int64 `json:"version"`

	// DeviceID identifies the device that wrote this version.
	DeviceID string `json:"deviceId"`

	SyncStatus SyncStatus `json:"syncStatus"`

	// DeletedAt marks a tombstone when non-nil.
	DeletedAt *time.Time `json:"deletedAt"`

	// LastSyncedAt is set only after a confirmed push or pull.
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}

// Clone returns a copy that shares no pointers with m.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	c.DeletedAt = cloneTime(m.DeletedAt)
	c.LastSyncedAt = cloneTime(m.LastSyncedAt)
	return &c
}

// Record is a business entity (quote, invoice, client, ...) plus its
// Metadata. Fields is an open-ended map; it never contains MetadataKey.
type Record struct {
	Fields map[string]any
	Meta   *Metadata
}

// NewRecord wraps fields into an unstamped record.
func NewRecord(fields map[string]any) *Record {
	r := &Record{Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		if k == MetadataKey {
			continue
		}
		r.Fields[k] = cloneValue(v)
	}
	return r
}

// UUID returns the record id or "" when the record is not stamped.
func (r *Record) UUID() string {
	if r == nil || r.Meta == nil {
		return ""
	}
	return r.Meta.UUID
}

// Version returns the logical clock or 0 when the record is not stamped.
func (r *Record) Version() int64 {
	if r == nil || r.Meta == nil {
		return 0
	}
	return r.Meta.Version
}

// UpdatedAt returns the last mutation time or the zero time.
func (r *Record) UpdatedAt() time.Time {
	if r == nil || r.Meta == nil {
		return time.Time{}
	}
	return r.Meta.UpdatedAt
}

// IsDeleted reports whether the record is a tombstone.
func (r *Record) IsDeleted() bool {
	return r != nil && r.Meta != nil && r.Meta.DeletedAt != nil
}

// MarkQueued flags a never-pushed record as pending once its push is queued.
// Other states are left alone.
func (r *Record) MarkQueued() {
	if r != nil && r.Meta != nil && r.Meta.SyncStatus == SyncStatusLocal {
		r.Meta.SyncStatus = SyncStatusPending
	}
}

// Get returns a field value.
func (r *Record) Get(field string) (any, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// Set assigns a field value. MetadataKey is ignored.
func (r *Record) Set(field string, v any) {
	if field == MetadataKey {
		return
	}
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[field] = v
}

// Clone deep-copies the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := NewRecord(r.Fields)
	c.Meta = r.Meta.Clone()
	return c
}

// SamePayload reports whether a and b carry the same business fields and
// the same tombstone state. Versions and timestamps are ignored.
func SamePayload(a, b *Record) bool {
	if a.IsDeleted() != b.IsDeleted() {
		return false
	}
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for k, av := range a.Fields {
		bv, ok := b.Fields[k]
		if !ok || !EqualValues(av, bv) {
			return false
		}
	}
	return true
}

// EqualValues compares two decoded field values. Numbers are compared by
// value regardless of their Go type so that a record read back from JSON
// equals the one that was written.
func EqualValues(a, b any) bool {
	if af, ok := Number(a); ok {
		bf, ok := Number(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// MarshalJSON flattens Fields and writes Meta under MetadataKey.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		m[k] = v
	}
	if r.Meta != nil {
		m[MetadataKey] = r.Meta
	}
	return json.Marshal(m)
}

// UnmarshalJSON splits MetadataKey off into Meta.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("record is not a JSON object: %w", err)
	}

	r.Fields = make(map[string]any, len(raw))
	r.Meta = nil
	for k, v := range raw {
		if k == MetadataKey {
			if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				continue
			}
			var md Metadata
			if err := json.Unmarshal(v, &md); err != nil {
				return fmt.Errorf("invalid %s: %w", MetadataKey, err)
			}
			r.Meta = &md
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return fmt.Errorf("invalid field %q: %w", k, err)
		}
		r.Fields[k] = value
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// Number converts decoded JSON or Go numeric values to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
