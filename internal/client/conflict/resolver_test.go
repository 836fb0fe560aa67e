package conflict

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{
		"":                LastWriteWins,
		"lww":             LastWriteWins,
		"last-write-wins": LastWriteWins,
		"version":         VersionBased,
		"Field-Merge":     FieldMerge,
		"merge":           FieldMerge,
	} {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStrategy("coin-flip")
	require.Error(t, err)
}

func TestResolve_LWWPicksLaterDevice(t *testing.T) {
	mon := &monitor.Recorder{}
	r := NewResolver(LastWriteWins, nil, mon)

	a := rec("x", 2, t0, "device-a", map[string]any{"total": 100})
	b := rec("x", 3, t0.Add(10*time.Second), "device-b", map[string]any{"total": 120})

	res, err := r.Resolve("quotes", a, b)
	require.NoError(t, err)
	assert.True(t, res.HasConflict)
	assert.Equal(t, ReasonConcurrent, res.Reason)
	assert.Equal(t, ResolutionRemote, res.Resolution)
	assert.Equal(t, LastWriteWins, res.Strategy)
	assert.Equal(t, "device-b", res.Data.Meta.DeviceID)
	assert.Equal(t, 120, res.Data.Fields["total"])

	conflicts, _, _ := mon.Snapshot()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "quotes", conflicts[0].Entity)
	assert.Equal(t, "remote", conflicts[0].Resolution)
	assert.False(t, conflicts[0].Manual)
}

func TestResolve_LWWTieBreaks(t *testing.T) {
	r := NewResolver(LastWriteWins, nil, nil)

	res, err := r.Resolve("q", rec("x", 3, t0, "a", map[string]any{"v": 1}), rec("x", 2, t0, "b", map[string]any{"v": 2}))
	require.NoError(t, err)
	assert.Equal(t, ResolutionLocal, res.Resolution, "same time, higher version wins")

	res, err = r.Resolve("q", rec("x", 3, t0, "a", map[string]any{"v": 1}), rec("x", 3, t0, "b", map[string]any{"v": 2}))
	require.NoError(t, err)
	assert.Equal(t, ResolutionRemote, res.Resolution, "same time and version, higher device id wins")
}

func TestResolve_NoConflictNeedsNoStrategy(t *testing.T) {
	mon := &monitor.Recorder{}
	r := NewResolver(VersionBased, nil, mon)

	same := rec("x", 2, t0, "a", map[string]any{"v": 1})
	res, err := r.Resolve("q", same, same.Clone())
	require.NoError(t, err)
	assert.False(t, res.HasConflict)
	assert.Equal(t, ResolutionNone, res.Resolution)
	require.NotNil(t, res.Data)

	conflicts, _, _ := mon.Snapshot()
	assert.Empty(t, conflicts)
}

func TestResolve_VersionBased(t *testing.T) {
	mon := &monitor.Recorder{}
	r := NewResolver(VersionBased, nil, mon)

	res, err := r.Resolve("q", rec("x", 5, t0, "a", nil), rec("x", 4, t0.Add(time.Hour), "b", nil))
	require.NoError(t, err)
	assert.Equal(t, ResolutionLocal, res.Resolution)

	res, err = r.Resolve("q", rec("x", 4, t0, "a", map[string]any{"v": 1}), rec("x", 4, t0, "b", map[string]any{"v": 2}))
	require.NoError(t, err)
	assert.True(t, res.HasConflict)
	assert.Equal(t, ResolutionManual, res.Resolution)
	assert.Nil(t, res.Data)

	conflicts, _, _ := mon.Snapshot()
	require.Len(t, conflicts, 2)
	assert.True(t, conflicts[1].Manual)
}

func TestResolve_FieldMerge(t *testing.T) {
	r := NewResolver(FieldMerge, nil, nil)

	deleted := t0.Add(5 * time.Second)
	local := rec("x", 4, t0, "device-a", map[string]any{"name": "Acme", "total": 100, "notes": "local only"})
	local.Meta.CreatedAt = t0.Add(-2 * time.Hour)
	remote := rec("x", 3, t0.Add(20*time.Second), "device-b", map[string]any{"name": "Acme", "total": 150, "phone": "555"})
	remote.Meta.DeletedAt = &deleted

	res, err := r.Resolve("quotes", local, remote)
	require.NoError(t, err)
	assert.True(t, res.HasConflict)
	assert.Equal(t, ResolutionMerged, res.Resolution)

	d := res.Data
	assert.Equal(t, "Acme", d.Fields["name"])
	assert.Equal(t, 150, d.Fields["total"])
	assert.Equal(t, "local only", d.Fields["notes"])
	assert.Equal(t, "555", d.Fields["phone"])

	require.Len(t, res.FieldConflicts, 1)
	fc := res.FieldConflicts[0]
	assert.Equal(t, "total", fc.Field)
	assert.Equal(t, "remote", fc.Winner)
	assert.Equal(t, 100, fc.LosingValue)

	assert.Equal(t, "x", d.Meta.UUID)
	assert.Equal(t, t0.Add(-2*time.Hour), d.Meta.CreatedAt)
	assert.Equal(t, t0.Add(20*time.Second), d.Meta.UpdatedAt)
	assert.Equal(t, int64(5), d.Meta.Version)
	assert.Equal(t, models.SyncStatusConflict, d.Meta.SyncStatus)
	require.NotNil(t, d.Meta.DeletedAt)
	assert.Equal(t, deleted, *d.Meta.DeletedAt)
}

func TestResolve_OlderSideNeverWins(t *testing.T) {
	for _, s := range []Strategy{LastWriteWins, VersionBased, FieldMerge} {
		for _, gap := range []time.Duration{time.Second, 30 * time.Second, time.Hour} {
			older := rec("x", 2, t0, "device-z", map[string]any{"v": "old", "only-old": true})
			newer := rec("x", 3, t0.Add(gap), "device-a", map[string]any{"v": "new"})

			res, err := NewResolver(s, nil, nil).Resolve("q", older, newer)
			require.NoError(t, err)
			assert.Equal(t, ResolutionRemote, res.Resolution, "strategy=%s gap=%s", s, gap)
			assert.True(t, models.SamePayload(newer, res.Data), "strategy=%s gap=%s", s, gap)
			assert.Equal(t, int64(3), res.Data.Version())

			res, err = NewResolver(s, nil, nil).Resolve("q", newer, older)
			require.NoError(t, err)
			assert.Equal(t, ResolutionLocal, res.Resolution, "strategy=%s gap=%s", s, gap)
			assert.True(t, models.SamePayload(newer, res.Data))
		}
	}
}

func TestResolve_DifferentRecords(t *testing.T) {
	_, err := NewResolver("", nil, nil).Resolve("q", rec("x", 1, t0, "a", nil), rec("y", 1, t0, "a", nil))
	require.ErrorIs(t, err, ErrDifferentRecords)
}

func TestResolve_DataIsACopy(t *testing.T) {
	remote := rec("x", 9, t0.Add(time.Hour), "b", map[string]any{"v": 1})
	res, err := NewResolver("", nil, nil).Resolve("q", rec("x", 1, t0, "a", nil), remote)
	require.NoError(t, err)

	res.Data.Fields["v"] = 2
	assert.Equal(t, 1, remote.Fields["v"])
}
