package conflict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
)

// Strategy selects how a detected conflict is settled.
type Strategy string

const (
	LastWriteWins Strategy = "last-write-wins"
	VersionBased  Strategy = "version"
	FieldMerge    Strategy = "field-merge"
)

// ParseStrategy accepts the canonical names and a few aliases.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lww", "last-write-wins", "last_write_wins":
		return LastWriteWins, nil
	case "version", "version-based", "version_based":
		return VersionBased, nil
	case "merge", "field-merge", "field_merge":
		return FieldMerge, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Resolution is the outcome of Resolve.
type Resolution string

const (
	ResolutionNone   Resolution = "none"
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerged Resolution = "merged"
	ResolutionManual Resolution = "manual"
)

// lwwWinner orders by updatedAt, then version, then device id.
func lwwWinner(local, remote *models.Record) Side {
	lt, rt := local.UpdatedAt(), remote.UpdatedAt()
	switch {
	case lt.After(rt):
		return SideLocal
	case rt.After(lt):
		return SideRemote
	}
	switch lv, rv := local.Version(), remote.Version(); {
	case lv > rv:
		return SideLocal
	case rv > lv:
		return SideRemote
	}
	if deviceOf(remote) > deviceOf(local) {
		return SideRemote
	}
	return SideLocal
}

func deviceOf(r *models.Record) string {
	if r.Meta == nil {
		return ""
	}
	return r.Meta.DeviceID
}

// dominates reports whether a is strictly newer than b on both clocks.
func dominates(a, b *models.Record) bool {
	return a.Version() > b.Version() && a.UpdatedAt().After(b.UpdatedAt())
}

// merge combines both sides field by field. Disagreements go to the side
// that wrote last; the losing values are returned.
func merge(local, remote *models.Record) (*models.Record, []models.FieldConflict) {
	winner := lwwWinner(local, remote)

	keys := make(map[string]struct{}, len(local.Fields)+len(remote.Fields))
	for k := range local.Fields {
		keys[k] = struct{}{}
	}
	for k := range remote.Fields {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	fields := make(map[string]any, len(sorted))
	var conflicts []models.FieldConflict
	for _, k := range sorted {
		lv, inLocal := local.Fields[k]
		rv, inRemote := remote.Fields[k]
		switch {
		case inLocal && !inRemote:
			fields[k] = lv
		case inRemote && !inLocal:
			fields[k] = rv
		case models.EqualValues(lv, rv):
			fields[k] = lv
		case winner == SideRemote:
			fields[k] = rv
			conflicts = append(conflicts, models.FieldConflict{Field: k, Winner: string(SideRemote), WinningValue: rv, LosingValue: lv})
		default:
			fields[k] = lv
			conflicts = append(conflicts, models.FieldConflict{Field: k, Winner: string(SideLocal), WinningValue: lv, LosingValue: rv})
		}
	}

	out := models.NewRecord(fields)
	out.Meta = mergeMetadata(local.Meta, remote.Meta)
	return out, conflicts
}

func mergeMetadata(l, r *models.Metadata) *models.Metadata {
	if l == nil {
		l = &models.Metadata{}
	}
	if r == nil {
		r = &models.Metadata{}
	}

	md := &models.Metadata{
		UUID:       l.UUID,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
		Version:    max(l.Version, r.Version) + 1,
		DeviceID:   l.DeviceID,
		SyncStatus: models.SyncStatusConflict,
	}
	if md.UUID == "" {
		md.UUID = r.UUID
	}
	if md.CreatedAt.IsZero() || (!r.CreatedAt.IsZero() && r.CreatedAt.Before(md.CreatedAt)) {
		md.CreatedAt = r.CreatedAt
	}
	if r.UpdatedAt.After(md.UpdatedAt) {
		md.UpdatedAt = r.UpdatedAt
	}

	switch {
	case l.DeletedAt != nil && r.DeletedAt != nil:
		d := *l.DeletedAt
		if r.DeletedAt.Before(d) {
			d = *r.DeletedAt
		}
		md.DeletedAt = &d
	case l.DeletedAt != nil:
		d := *l.DeletedAt
		md.DeletedAt = &d
	case r.DeletedAt != nil:
		d := *r.DeletedAt
		md.DeletedAt = &d
	}
	return md
}
