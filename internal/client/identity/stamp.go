package identity

import (
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
)

// Stamper attaches and maintains record metadata on behalf of one device.
type Stamper struct {
	deviceID string
	ids      *IDGenerator
	now      func() time.Time
}

// NewStamper returns a stamper writing deviceID into every version it
// produces. now defaults to time.Now.
func NewStamper(deviceID string, ids *IDGenerator, now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{deviceID: deviceID, ids: ids, now: now}
}

// DeviceID returns the device this stamper writes on behalf of.
func (s *Stamper) DeviceID() string {
	return s.deviceID
}

// Stamp returns a copy of rec with metadata attached or advanced by one
// local mutation. An existing uuid and createdAt are kept.
func (s *Stamper) Stamp(rec *models.Record) *models.Record {
	now := s.now().UTC()

	out := rec.Clone()
	if out == nil {
		out = models.NewRecord(nil)
	}

	md := out.Meta
	if md == nil {
		out.Meta = &models.Metadata{
			UUID:       s.ids.New(),
			CreatedAt:  now,
			UpdatedAt:  now,
			Version:    1,
			DeviceID:   s.deviceID,
			SyncStatus: models.SyncStatusLocal,
		}
		return out
	}

	if md.UUID == "" {
		md.UUID = s.ids.New()
	}
	if md.CreatedAt.IsZero() {
		md.CreatedAt = now
	}
	if md.Version < 0 {
		md.Version = 0
	}
	md.Version++
	if now.After(md.UpdatedAt) {
		md.UpdatedAt = now
	}
	if md.CreatedAt.After(md.UpdatedAt) {
		md.UpdatedAt = md.CreatedAt
	}
	md.DeviceID = s.deviceID

	switch md.SyncStatus {
	case models.SyncStatusSynced:
		md.SyncStatus = models.SyncStatusPending
	case models.SyncStatusLocal, models.SyncStatusPending, models.SyncStatusConflict:
	default:
		md.SyncStatus = models.SyncStatusLocal
	}
	return out
}

// SoftDelete stamps rec and turns it into a pending tombstone.
func (s *Stamper) SoftDelete(rec *models.Record) *models.Record {
	out := s.Stamp(rec)
	deletedAt := out.Meta.UpdatedAt
	out.Meta.DeletedAt = &deletedAt
	out.Meta.SyncStatus = models.SyncStatusPending
	return out
}

// IsDeleted reports whether rec is a tombstone.
func IsDeleted(rec *models.Record) bool {
	return rec.IsDeleted()
}
