package conflict

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
)

// DefaultWindow is the update-time distance under which two versions count
// as concurrent edits.
const DefaultWindow = 60 * time.Second

var (
	ErrDifferentRecords = errors.New("records have different uuids")
	ErrMissingRecord    = errors.New("record is nil")
)

// Detection reasons.
const (
	ReasonSameVersion     = "Same version"
	ReasonDivergent       = "Divergent content at same version"
	ReasonConcurrent      = "Concurrent modification"
	ReasonRemoteNewer     = "Remote newer"
	ReasonLocalNewer      = "Local newer"
	ReasonVersionMismatch = "Version mismatch"
)

// Side names one of the two compared copies.
type Side string

const (
	SideNone   Side = ""
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Detection is the verdict for one local/remote pair.
type Detection struct {
	HasConflict bool
	Reason      string
	// Newer is set when one side strictly supersedes the other.
	Newer Side
}

// Detector compares two copies of the same record.
type Detector struct {
	Window time.Duration
}

// NewDetector returns a detector using window, or DefaultWindow when window
// is not positive.
func NewDetector(window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{Window: window}
}

// Detect classifies the pair. The conflict verdict is the same whichever
// argument order is used.
func (d *Detector) Detect(local, remote *models.Record) (Detection, error) {
	if local == nil || remote == nil {
		return Detection{}, ErrMissingRecord
	}
	if local.UUID() != remote.UUID() {
		return Detection{}, ErrDifferentRecords
	}

	lv, rv := local.Version(), remote.Version()
	lt, rt := local.UpdatedAt(), remote.UpdatedAt()

	if lv == rv {
		if models.SamePayload(local, remote) {
			return Detection{Reason: ReasonSameVersion}, nil
		}
		return Detection{HasConflict: true, Reason: ReasonDivergent}, nil
	}

	delta := lt.Sub(rt)
	if delta < 0 {
		delta = -delta
	}
	if delta <= d.Window {
		return Detection{HasConflict: true, Reason: ReasonConcurrent}, nil
	}

	switch {
	case lv < rv && lt.Before(rt):
		return Detection{Reason: ReasonRemoteNewer, Newer: SideRemote}, nil
	case lv > rv && lt.After(rt):
		return Detection{Reason: ReasonLocalNewer, Newer: SideLocal}, nil
	}
	return Detection{HasConflict: true, Reason: ReasonVersionMismatch}, nil
}
