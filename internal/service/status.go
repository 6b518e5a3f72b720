package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/edirooss/coop-relay/internal/domain/relay"
)

// StatusRefresher reads the backend's view of the relay. Concurrent refreshes
// are coalesced; a failed read replaces the snapshot with an "unavailable"
// marker instead of leaving stale fields in place.
type StatusRefresher struct {
	log *zap.Logger
	api Backend
	now func() time.Time

	sg singleflight.Group

	mu     sync.RWMutex
	status relay.Status
}

func newStatusRefresher(log *zap.Logger, api Backend) *StatusRefresher {
	return &StatusRefresher{
		log: log.Named("status"),
		api: api,
		now: time.Now,
	}
}

// Current returns the last snapshot.
func (s *StatusRefresher) Current() relay.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Refresh reads the status of relayID and publishes it.
func (s *StatusRefresher) Refresh(ctx context.Context, relayID string) (relay.Status, error) {
	v, err, _ := s.sg.Do(relayID, func() (any, error) {
		st, err := s.api.RelayStatus(ctx, relayID)
		if err != nil {
			s.log.Warn("status read failed", zap.String("relay_id", relayID), zap.Error(err))
			st = relay.Status{Unavailable: true}
		}
		st.FetchedAt = s.now()

		s.mu.Lock()
		s.status = st
		s.mu.Unlock()
		return st, err
	})
	return v.(relay.Status), err
}

// Clear forgets the snapshot.
func (s *StatusRefresher) Clear() {
	s.mu.Lock()
	s.status = relay.Status{}
	s.mu.Unlock()
}
