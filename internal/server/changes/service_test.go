package changes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRepo struct {
	Repository
	err error
}

func (f failingRepo) Apply(context.Context, string, *Change) (*Change, error) { return nil, f.err }
func (f failingRepo) Since(context.Context, string, time.Time) ([]*Change, error) {
	return nil, f.err
}

func newTestService(repo Repository, now time.Time) *Service {
	s := NewService(repo, logging.Discard())
	s.now = func() time.Time { return now }
	return s
}

func recordJSON(uuid string, version int64) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"total":     version * 10,
		"_metadata": map[string]any{"uuid": uuid, "version": version},
	})
	return b
}

func TestService_PushThenPull(t *testing.T) {
	ctx := context.Background()
	s := newTestService(NewMemoryRepository(), t0.Add(123456*time.Nanosecond))

	res, err := s.Push(ctx, "acct", "quotes", common.OperationCreate, recordJSON("u1", 1), "dev-a")
	require.NoError(t, err)
	assert.False(t, res.Conflict)
	assert.Equal(t, t0, res.Stored.UpdatedAt, "stamp is truncated to milliseconds")

	pull, err := s.Pull(ctx, "acct", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, t0, pull.ServerTime)
	require.Len(t, pull.Changes, 1)
	assert.Equal(t, "u1", pull.Changes[0].UUID)
}

func TestService_PushConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestService(NewMemoryRepository(), t0)

	_, err := s.Push(ctx, "acct", "quotes", common.OperationUpdate, recordJSON("u1", 2), "dev-a")
	require.NoError(t, err)

	res, err := s.Push(ctx, "acct", "quotes", common.OperationUpdate, recordJSON("u1", 1), "dev-b")
	require.NoError(t, err)
	assert.True(t, res.Conflict)
	require.NotNil(t, res.Current)
	assert.EqualValues(t, 2, res.Current.Version)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()

	s := newTestService(NewMemoryRepository(), t0)
	_, err := s.Push(ctx, "acct", "", common.OperationUpdate, recordJSON("u1", 1), "d")
	assert.ErrorIs(t, err, common.ErrorInvalidOperation)

	boom := errors.New("boom")
	s = newTestService(failingRepo{err: boom}, t0)
	_, err = s.Push(ctx, "acct", "quotes", common.OperationUpdate, recordJSON("u1", 1), "d")
	assert.ErrorIs(t, err, boom)
	_, err = s.Pull(ctx, "acct", time.Time{})
	assert.ErrorIs(t, err, boom)
}
