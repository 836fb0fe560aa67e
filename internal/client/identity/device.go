package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/cleansync/internal/client/repositories/metadata"
)

// DeviceIdentity hands out the per-device identifier. It is generated on
// first use, persisted under metadata.KeyDeviceID and cached afterwards.
type DeviceIdentity struct {
	repo metadata.Repository
	ids  *IDGenerator

	mu sync.Mutex
	id string
}

func NewDeviceIdentity(repo metadata.Repository, ids *IDGenerator) *DeviceIdentity {
	return &DeviceIdentity{repo: repo, ids: ids}
}

// ID returns the device identifier, creating it if this device has none.
func (d *DeviceIdentity) ID(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.id != "" {
		return d.id, nil
	}

	v, err := d.repo.Get(ctx, metadata.KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("load device id: %w", err)
	}
	if len(v) > 0 {
		d.id = string(v)
		return d.id, nil
	}

	id := d.ids.New()
	if err := d.repo.Set(ctx, metadata.KeyDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	d.id = id
	return id, nil
}
