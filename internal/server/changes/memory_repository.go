package changes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
)

type rowKey struct {
	key  string
	uuid string
}

// MemoryRepository keeps the change log in process memory. It serves
// development setups and tests; everything is lost on restart.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]map[rowKey]*Change
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]map[rowKey]*Change)}
}

func (r *MemoryRepository) Apply(ctx context.Context, account string, c *Change) (*Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byKey, ok := r.rows[account]
	if !ok {
		byKey = make(map[rowKey]*Change)
		r.rows[account] = byKey
	}

	k := rowKey{key: c.Key, uuid: c.UUID}
	stored := byKey[k]
	if stored != nil && !Accepts(stored, c) {
		return stored.Clone(), common.ErrVersionConflict
	}

	next := Prepare(stored, c)
	byKey[k] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) Since(ctx context.Context, account string, since time.Time) ([]*Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*Change
	for _, c := range r.rows[account] {
		if c.UpdatedAt.Before(since) {
			continue
		}
		result = append(result, c.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.UUID < b.UUID
	})
	return result, nil
}
