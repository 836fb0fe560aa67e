// Package changes keeps the per-account change log served by the sync
// endpoint: the latest copy of every record and document, plus the rules
// deciding whether a pushed copy may replace the stored one.
package changes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
)

// metadataKey mirrors the reserved field carrying record metadata.
const metadataKey = "_metadata"

// Change is the stored copy of one record (UUID set) or one document
// (UUID empty) under Key. It is also the wire form returned by pull.
type Change struct {
	Key       string          `json:"key"`
	UUID      string          `json:"uuid"`
	Version   int64           `json:"version"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`

	DeviceID  string    `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Clone returns a copy sharing no memory with c.
func (c *Change) Clone() *Change {
	if c == nil {
		return nil
	}
	out := *c
	out.Data = append(json.RawMessage(nil), c.Data...)
	return &out
}

// Repository stores the change log.
//
// Apply stores c unless the stored copy wins, in which case it returns the
// stored copy together with common.ErrVersionConflict. On success the
// returned change is what was written (documents get their version assigned).
// Since returns every change of account updated at or after since, oldest first.
type Repository interface {
	Apply(ctx context.Context, account string, c *Change) (*Change, error)
	Since(ctx context.Context, account string, since time.Time) ([]*Change, error)
}

// Accepts reports whether incoming may replace stored. Documents always
// replace. A record replaces when its version is newer, or when it is a
// retransmission of the stored version from the same device.
func Accepts(stored, incoming *Change) bool {
	if stored == nil || incoming.UUID == "" {
		return true
	}
	if incoming.Version > stored.Version {
		return true
	}
	return incoming.Version == stored.Version && incoming.DeviceID == stored.DeviceID
}

// Prepare returns the copy to write when incoming replaces stored.
func Prepare(stored, incoming *Change) *Change {
	next := incoming.Clone()
	if next.UUID == "" {
		next.Version = 1
		if stored != nil {
			next.Version = stored.Version + 1
		}
	}
	return next
}

type recordMeta struct {
	UUID     string `json:"uuid"`
	Version  int64  `json:"version"`
	DeviceID string `json:"deviceId"`
}

// ParseChange builds a change from a push. Record identity and version are
// read from the metadata block of data; payloads without one are documents.
func ParseChange(entity, operation string, data json.RawMessage, deviceID string) (*Change, error) {
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return nil, fmt.Errorf("%w: entity is required", common.ErrorInvalidOperation)
	}
	if !common.ValidOperation(operation) {
		return nil, fmt.Errorf("%w: %q", common.ErrorInvalidOperation, operation)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return nil, fmt.Errorf("%w: data must be JSON", common.ErrorInvalidOperation)
	}

	c := &Change{
		Key:       entity,
		Operation: operation,
		Data:      append(json.RawMessage(nil), data...),
		DeviceID:  deviceID,
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return c, nil
	}
	raw, ok := fields[metadataKey]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return c, nil
	}

	var meta recordMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", common.ErrorInvalidOperation, metadataKey, err)
	}
	if strings.TrimSpace(meta.UUID) == "" {
		return nil, common.ErrorMissingUUID
	}
	if meta.Version < 1 {
		return nil, fmt.Errorf("%w: version must be positive", common.ErrorInvalidOperation)
	}

	c.UUID = strings.TrimSpace(meta.UUID)
	c.Version = meta.Version
	if c.DeviceID == "" {
		c.DeviceID = meta.DeviceID
	}
	return c, nil
}
