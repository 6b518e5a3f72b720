package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/edirooss/coop-relay/internal/domain/relay"
	"github.com/edirooss/coop-relay/internal/identity"
)

// identityCache is a write-through view of the persistent identity store.
// Writes hit the store first; the cache only changes when the store accepted
// the value.
type identityCache struct {
	store identity.Store

	mu sync.RWMutex
	id relay.Identity
}

func newIdentityCache(store identity.Store) *identityCache {
	return &identityCache{store: store}
}

func (c *identityCache) load(ctx context.Context) (relay.Identity, error) {
	id, err := identity.Load(ctx, c.store)
	if err != nil {
		return relay.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
	return id, nil
}

func (c *identityCache) get() relay.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// set persists key=value ("" deletes) and mirrors it in memory.
func (c *identityCache) set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	switch key {
	case identity.KeyRelayID:
		c.id.RelayID = value
	case identity.KeyPairingCode:
		c.id.PairingCode = value
	case identity.KeyRTSPOverride:
		c.id.RTSPOverride = value
	case identity.KeyCoopID:
		c.id.CoopID = value
	}
	return nil
}
