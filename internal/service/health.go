package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/infrastructure/hostinfo"
)

// HostSampler reports resource usage of the local machine.
type HostSampler interface {
	Sample(ctx context.Context) (hostinfo.Snapshot, error)
}

// HealthReporter pings the backend while the relay is paired: once on start,
// then every interval. Failures are logged and retried on the next tick only.
// Each ping also takes a host sample when a sampler is set.
type HealthReporter struct {
	log      *zap.Logger
	api      Backend
	tasks    *taskSet
	interval time.Duration
	host     HostSampler

	mu       sync.RWMutex
	lastPing time.Time
	lastErr  string
	lastHost *hostinfo.Snapshot
}

// HealthView is the reporter's state for display.
type HealthView struct {
	LastPingAt time.Time `json:"last_ping_at,omitzero"`
	LastError  string    `json:"last_error,omitempty"`

	Host *hostinfo.Snapshot `json:"host,omitempty"`
}

func newHealthReporter(log *zap.Logger, api Backend, tasks *taskSet, interval time.Duration, host HostSampler) *HealthReporter {
	return &HealthReporter{
		log:      log.Named("health"),
		api:      api,
		tasks:    tasks,
		interval: interval,
		host:     host,
	}
}

// Start begins pinging for relayID, replacing a running reporter.
func (h *HealthReporter) Start(relayID string) {
	h.tasks.Start(taskHealth, func(ctx context.Context) {
		h.ping(ctx, relayID)

		t := time.NewTicker(h.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				h.ping(ctx, relayID)
			}
		}
	})
}

// Stop halts pinging.
func (h *HealthReporter) Stop() {
	h.tasks.Stop(taskHealth)
}

// View returns the last ping outcome.
func (h *HealthReporter) View() HealthView {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthView{LastPingAt: h.lastPing, LastError: h.lastErr, Host: h.lastHost}
}

func (h *HealthReporter) ping(ctx context.Context, relayID string) {
	err := h.api.Heartbeat(ctx, relayID)
	if ctx.Err() != nil {
		return
	}

	var snap *hostinfo.Snapshot
	if h.host != nil {
		s, serr := h.host.Sample(ctx)
		if serr != nil {
			h.log.Debug("host sample incomplete", zap.Error(serr))
		}
		snap = &s
	}

	h.mu.Lock()
	h.lastPing = time.Now()
	h.lastErr = ""
	if err != nil {
		h.lastErr = err.Error()
	}
	if snap != nil {
		h.lastHost = snap
	}
	h.mu.Unlock()

	if err != nil {
		h.log.Warn("health ping failed", zap.String("relay_id", relayID), zap.Error(err))
		return
	}
	h.log.Debug("health ping sent", zap.String("relay_id", relayID))
}
