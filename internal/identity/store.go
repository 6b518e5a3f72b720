// Package identity persists the relay identity (relay id, pairing code, RTSP
// override, coop id) in a namespaced local key-value store.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/edirooss/coop-relay/internal/domain/relay"
)

// Keys of the identity namespace.
const (
	KeyRelayID      = "relay_id"
	KeyPairingCode  = "pairing_code"
	KeyRTSPOverride = "rtsp_override"
	KeyCoopID       = "coop_id"
)

var keys = [...]string{KeyRelayID, KeyPairingCode, KeyRTSPOverride, KeyCoopID}

// ErrUnknownKey is returned for keys outside the identity namespace.
var ErrUnknownKey = errors.New("unknown identity key")

// Store is a durable string key-value store.
//
// Get returns "" for absent keys. Setting a key to "" is equivalent to Delete.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Load reads the full identity from s.
func Load(ctx context.Context, s Store) (relay.Identity, error) {
	var (
		id  relay.Identity
		err error
	)
	if id.RelayID, err = s.Get(ctx, KeyRelayID); err != nil {
		return relay.Identity{}, fmt.Errorf("get %s: %w", KeyRelayID, err)
	}
	if id.PairingCode, err = s.Get(ctx, KeyPairingCode); err != nil {
		return relay.Identity{}, fmt.Errorf("get %s: %w", KeyPairingCode, err)
	}
	if id.RTSPOverride, err = s.Get(ctx, KeyRTSPOverride); err != nil {
		return relay.Identity{}, fmt.Errorf("get %s: %w", KeyRTSPOverride, err)
	}
	if id.CoopID, err = s.Get(ctx, KeyCoopID); err != nil {
		return relay.Identity{}, fmt.Errorf("get %s: %w", KeyCoopID, err)
	}
	return id, nil
}

func validKey(key string) error {
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return fmt.Errorf("%q: %w", key, ErrUnknownKey)
}
