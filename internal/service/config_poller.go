package service

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/domain/relay"
)

// ConfigPoller keeps the backend-assigned capture configuration fresh while
// the relay is paired.
//
// The configuration is an immutable value replaced as a unit. A failed fetch
// records the error and keeps the last known configuration.
type ConfigPoller struct {
	log      *zap.Logger
	api      Backend
	tasks    *taskSet
	base     time.Duration
	jitter   func(time.Duration) time.Duration
	onChange func(relay.Config)

	mu        sync.RWMutex
	cfg       relay.Config
	lastErr   string
	fetchedAt time.Time
}

// ConfigView is the poller's state for display.
type ConfigView struct {
	Config    relay.Config `json:"config"`
	Error     string       `json:"error,omitempty"`
	FetchedAt time.Time    `json:"fetched_at,omitzero"`
}

func newConfigPoller(log *zap.Logger, api Backend, tasks *taskSet, base time.Duration) *ConfigPoller {
	return &ConfigPoller{
		log:      log.Named("config_poller"),
		api:      api,
		tasks:    tasks,
		base:     base,
		jitter:   func(d time.Duration) time.Duration { return rand.N(d) },
		onChange: func(relay.Config) {},
		cfg:      relay.DefaultConfig(),
	}
}

// Config returns the current configuration.
func (p *ConfigPoller) Config() relay.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// View returns the configuration with its fetch diagnostics.
func (p *ConfigPoller) View() ConfigView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ConfigView{Config: p.cfg, Error: p.lastErr, FetchedAt: p.fetchedAt}
}

// Start fetches immediately and then every base + rand[0, base).
func (p *ConfigPoller) Start(relayID string) {
	p.tasks.Start(taskConfigPoll, func(ctx context.Context) {
		p.loop(ctx, relayID)
	})
}

// Stop halts polling and drops back to the default configuration.
func (p *ConfigPoller) Stop() {
	p.tasks.Stop(taskConfigPoll)

	p.mu.Lock()
	p.cfg = relay.DefaultConfig()
	p.lastErr = ""
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

// RefreshNow performs one fetch outside the schedule.
func (p *ConfigPoller) RefreshNow(ctx context.Context, relayID string) (relay.Config, error) {
	cfg, err := p.fetch(ctx, nil, relayID)
	if err != nil {
		return p.Config(), err
	}
	return cfg, nil
}

func (p *ConfigPoller) loop(ctx context.Context, relayID string) {
	_, _ = p.fetch(ctx, ctx, relayID)

	for {
		wait := p.base
		if p.base > 0 {
			wait += p.jitter(p.base)
		}
		t := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			_, _ = p.fetch(ctx, ctx, relayID)
		}
	}
}

// fetch loads the config and publishes it. When taskCtx is non-nil the result
// is dropped if that task was cancelled while the request was in flight.
func (p *ConfigPoller) fetch(ctx, taskCtx context.Context, relayID string) (relay.Config, error) {
	cfg, err := p.api.RelayConfig(ctx, relayID)

	p.mu.Lock()
	if taskCtx != nil && taskCtx.Err() != nil {
		p.mu.Unlock()
		return relay.Config{}, taskCtx.Err()
	}
	if err != nil {
		p.lastErr = err.Error()
		p.mu.Unlock()
		p.log.Warn("config fetch failed; keeping last config", zap.String("relay_id", relayID), zap.Error(err))
		return relay.Config{}, err
	}
	changed := cfg != p.cfg
	p.cfg = cfg
	p.lastErr = ""
	p.fetchedAt = time.Now()
	p.mu.Unlock()

	if changed {
		p.log.Info("config updated",
			zap.String("relay_id", relayID),
			zap.String("interval", cfg.Interval),
			zap.String("rtsp_url", cfg.RTSPURL))
	}
	p.onChange(cfg)
	return cfg, nil
}
