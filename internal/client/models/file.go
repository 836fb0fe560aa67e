package models

import (
	"encoding/json"
	"time"
)

// QueueEntry is one pending outbound operation.
type QueueEntry struct {
	ID            string          `json:"id"`
	Key           string          `json:"key"`
	UUID          string          `json:"uuid,omitempty"`
	Operation     string          `json:"operation"`
	Data          json.RawMessage `json:"data"`
	Version       int64           `json:"version"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

// CoalesceKey is the identity under which newer entries replace older
// ones: the record uuid, or the bucket key for non-record documents.
func (e *QueueEntry) CoalesceKey() string {
	if e.UUID != "" {
		return e.UUID
	}
	return "key:" + e.Key
}

// FailedEntry is a queue entry that exhausted its retry budget.
type FailedEntry struct {
	QueueEntry
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

// Change is one remote mutation returned by a pull.
type Change struct {
	Key       string          `json:"key"`
	UUID      string          `json:"uuid"`
	Version   int64           `json:"version"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
}

// NewQueueEntry builds a queue entry carrying the JSON form of rec.
func NewQueueEntry(id, key string, rec *Record, op string, now time.Time) (*QueueEntry, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return &QueueEntry{
		ID:         id,
		Key:        key,
		UUID:       rec.UUID(),
		Operation:  op,
		Data:       data,
		Version:    rec.Version(),
		EnqueuedAt: now,
	}, nil
}
