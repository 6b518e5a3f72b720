package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/backend"
	"github.com/edirooss/coop-relay/internal/domain/relay"
	"github.com/edirooss/coop-relay/internal/identity"
)

// Backend is the part of the backend API the agent drives.
type Backend interface {
	RequestPairingCode(ctx context.Context, relayID string) (backend.PairingCodeResponse, error)
	PairingStatus(ctx context.Context, code string) (backend.PairingStatusResponse, error)
	RelayConfig(ctx context.Context, relayID string) (relay.Config, error)
	Heartbeat(ctx context.Context, relayID string) error
	RelayStatus(ctx context.Context, relayID string) (relay.Status, error)
	NotifySnapshotCreated(ctx context.Context, imagePath string) error
	UpdateConfig(ctx context.Context, req backend.UpdateConfigRequest) error
	Snapshots(ctx context.Context, relayID string, limit int) ([]backend.Snapshot, error)
}

// LogSource exposes recent executor output by job name.
type LogSource interface {
	Lines(job string, n int) ([]string, bool)
}

// Options tunes an Agent. Zero values take defaults.
type Options struct {
	PairingPollInterval time.Duration // 5s
	ConfigPollInterval  time.Duration // 30s base; each wait adds rand[0, base)
	HealthInterval      time.Duration // 2m
	CountdownTick       time.Duration // 1s
	SnapshotPath        string        // tmp/snapshot.jpg
	Logs                LogSource
	Host                HostSampler // optional; sampled on every health ping
}

func (o *Options) setDefaults() {
	if o.PairingPollInterval <= 0 {
		o.PairingPollInterval = 5 * time.Second
	}
	if o.ConfigPollInterval <= 0 {
		o.ConfigPollInterval = 30 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 2 * time.Minute
	}
	if o.CountdownTick <= 0 {
		o.CountdownTick = time.Second
	}
	if o.SnapshotPath == "" {
		o.SnapshotPath = "tmp/snapshot.jpg"
	}
}

// ErrClosed is returned by operations on a closed agent.
var ErrClosed = errors.New("agent closed")

// Agent is the relay. One instance is built by main and shared with the
// control API; it owns the identity, every scheduled task and all display
// state.
//
//	Pairing ──paired──▶ ConfigPoller ──config──▶ Scheduler ──▶ CaptureCycle
//	        └─────────▶ HealthReporter, StatusRefresher
type Agent struct {
	log  *zap.Logger
	opts Options
	api  Backend

	ids     *identityCache
	tasks   *taskSet
	pairing *Pairing
	poller  *ConfigPoller
	sched   *Scheduler
	cycle   *CaptureCycle
	status  *StatusRefresher
	health  *HealthReporter

	mu        sync.RWMutex
	manualMsg string

	closeOnce sync.Once
}

// NewAgent wires the components. Nothing runs until Start.
func NewAgent(log *zap.Logger, store identity.Store, api Backend, capture CaptureExecutor, upload UploadExecutor, opts Options) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	opts.setDefaults()
	log = log.Named("agent")

	a := &Agent{
		log:   log,
		opts:  opts,
		api:   api,
		ids:   newIdentityCache(store),
		tasks: newTaskSet(context.Background()),
	}

	a.status = newStatusRefresher(log, api)
	a.cycle = newCaptureCycle(log, a.ids, api, capture, upload, a.status, opts.SnapshotPath)
	a.health = newHealthReporter(log, api, a.tasks, opts.HealthInterval, opts.Host)
	a.poller = newConfigPoller(log, api, a.tasks, opts.ConfigPollInterval)
	a.sched = newScheduler(log, a.tasks, opts.CountdownTick, a.runTimerCycle)
	a.pairing = newPairing(log, api, a.ids, a.tasks, opts.PairingPollInterval)

	a.pairing.onPaired = a.onPaired
	a.pairing.onUnpaired = a.onUnpaired
	a.poller.onChange = a.onConfig
	return a
}

// Start loads the stored identity and enters the pairing state machine.
// Only a store failure is returned; backend trouble ends up in the view.
func (a *Agent) Start(ctx context.Context) error {
	if a.tasks.Context().Err() != nil {
		return ErrClosed
	}
	if err := a.pairing.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize pairing: %w", err)
	}
	a.log.Info("agent started", zap.Stringer("state", a.pairing.State()))
	return nil
}

// Close cancels every task, waits for them and for in-flight captures.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.tasks.Close()
		a.log.Info("agent stopped")
	})
}

// ---------- transitions ----------

func (a *Agent) onPaired(relayID string) {
	a.sched.Rearm(a.poller.Config(), a.ids.get().RTSPOverride)
	a.poller.Start(relayID)
	a.health.Start(relayID)
	a.tasks.Start(taskStatusRead, func(ctx context.Context) {
		_, _ = a.status.Refresh(ctx, relayID)
	})
}

func (a *Agent) onUnpaired() {
	a.poller.Stop()
	a.health.Stop()
	a.sched.Stop()
	a.tasks.Stop(taskStatusRead)
	a.status.Clear()
}

func (a *Agent) onConfig(cfg relay.Config) {
	if a.pairing.State() != relay.StatePaired {
		return
	}
	a.sched.Rearm(cfg, a.ids.get().RTSPOverride)
}

// runTimerCycle runs a timer-triggered cycle on the agent's root context so
// re-arming the timer does not abort a capture in flight.
func (a *Agent) runTimerCycle(_ context.Context, streamURL string, report func(string)) {
	_, _ = a.cycle.Run(a.tasks.Context(), TriggerTimer, streamURL, report)
}

// ---------- operations ----------

// View is a consistent-enough snapshot of the agent for display.
type View struct {
	State            relay.State   `json:"state"`
	RelayID          string        `json:"relay_id,omitempty"`
	PairingCode      string        `json:"pairing_code,omitempty"`
	CoopID           string        `json:"coop_id,omitempty"`
	RTSPOverride     string        `json:"rtsp_override,omitempty"`
	PairingMessage   string        `json:"pairing_message,omitempty"`
	Config           ConfigView    `json:"config"`
	EffectiveRTSPURL string        `json:"effective_rtsp_url,omitempty"`
	Scheduler        SchedulerView `json:"scheduler"`
	ManualMessage    string        `json:"manual_capture_message,omitempty"`
	LastCapture      *CycleResult  `json:"last_capture,omitempty"`
	Status           relay.Status  `json:"status"`
	Health           HealthView    `json:"health"`
}

// View returns the current agent state.
func (a *Agent) View() View {
	id := a.ids.get()
	cfg := a.poller.View()

	a.mu.RLock()
	manual := a.manualMsg
	a.mu.RUnlock()

	return View{
		State:            a.pairing.State(),
		RelayID:          id.RelayID,
		PairingCode:      id.PairingCode,
		CoopID:           id.CoopID,
		RTSPOverride:     id.RTSPOverride,
		PairingMessage:   a.pairing.Message(),
		Config:           cfg,
		EffectiveRTSPURL: relay.EffectiveRTSPURL(id.RTSPOverride, cfg.Config),
		Scheduler:        a.sched.View(),
		ManualMessage:    manual,
		LastCapture:      a.cycle.Last(),
		Status:           a.status.Current(),
		Health:           a.health.View(),
	}
}

// Capture runs a manual cycle and waits for it. rtspURL, when non-empty,
// wins over the override and the configured address.
func (a *Agent) Capture(ctx context.Context, rtspURL string) (string, error) {
	if rtspURL == "" {
		rtspURL = relay.EffectiveRTSPURL(a.ids.get().RTSPOverride, a.poller.Config())
	}
	return a.cycle.Run(ctx, TriggerManual, rtspURL, a.setManualMessage)
}

// TriggerCapture starts a manual cycle in the background. It queues behind a
// cycle already running. The stream address is resolved at invocation time.
func (a *Agent) TriggerCapture(rtspURL string) error {
	if a.tasks.Context().Err() != nil {
		return ErrClosed
	}
	if rtspURL == "" {
		rtspURL = relay.EffectiveRTSPURL(a.ids.get().RTSPOverride, a.poller.Config())
	}
	a.setManualMessage("Capture queued...")
	a.tasks.Go(func(ctx context.Context) {
		_, _ = a.cycle.Run(ctx, TriggerManual, rtspURL, a.setManualMessage)
	})
	return nil
}

// ResetPairing re-enters pairing. It fails with ErrNoRelayID when the relay
// never obtained a relay id.
func (a *Agent) ResetPairing(ctx context.Context) error {
	err := a.pairing.Reset(ctx)
	if err != nil && a.pairing.State() == relay.StatePaired {
		// The override may already be cleared even though no new code was issued.
		a.sched.Rearm(a.poller.Config(), a.ids.get().RTSPOverride)
	}
	return err
}

// RequestPairingCode retries the pairing-code request of an unpaired relay.
func (a *Agent) RequestPairingCode(ctx context.Context) error {
	return a.pairing.RequestCode(ctx)
}

// SetRTSPOverride persists (or, when empty, clears) the local stream address
// and re-arms the scheduler.
func (a *Agent) SetRTSPOverride(ctx context.Context, rtspURL string) error {
	rtspURL = strings.TrimSpace(rtspURL)
	if rtspURL != "" {
		if err := ValidateStreamURL(rtspURL); err != nil {
			return err
		}
	}
	if err := a.ids.set(ctx, identity.KeyRTSPOverride, rtspURL); err != nil {
		return err
	}
	a.log.Info("rtsp override updated", zap.Bool("set", rtspURL != ""))
	if a.pairing.State() == relay.StatePaired {
		a.sched.Rearm(a.poller.Config(), rtspURL)
	}
	return nil
}

// RefreshConfig fetches the config outside the poll schedule.
func (a *Agent) RefreshConfig(ctx context.Context) (relay.Config, error) {
	relayID, err := a.pairedRelayID()
	if err != nil {
		return relay.Config{}, err
	}
	return a.poller.RefreshNow(ctx, relayID)
}

// RefreshStatus reads the backend status now.
func (a *Agent) RefreshStatus(ctx context.Context) (relay.Status, error) {
	relayID := a.ids.get().RelayID
	if relayID == "" {
		return relay.Status{}, ErrNoRelayID
	}
	return a.status.Refresh(ctx, relayID)
}

// UpdateConfig writes interval and stream address to the backend and pulls
// the result back so the scheduler picks it up immediately.
func (a *Agent) UpdateConfig(ctx context.Context, interval, rtspURL string) (relay.Config, error) {
	relayID, err := a.pairedRelayID()
	if err != nil {
		return relay.Config{}, err
	}
	if relay.ParseInterval(interval) <= 0 {
		return relay.Config{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	if rtspURL != "" {
		if err := ValidateStreamURL(rtspURL); err != nil {
			return relay.Config{}, err
		}
	}

	req := backend.UpdateConfigRequest{RelayID: relayID, Interval: interval, RTSPURL: rtspURL}
	if err := a.api.UpdateConfig(ctx, req); err != nil {
		return relay.Config{}, fmt.Errorf("update config: %w", err)
	}
	return a.poller.RefreshNow(ctx, relayID)
}

// Snapshots lists recent snapshots of this relay.
func (a *Agent) Snapshots(ctx context.Context, limit int) ([]backend.Snapshot, error) {
	relayID := a.ids.get().RelayID
	if relayID == "" {
		return nil, ErrNoRelayID
	}
	return a.api.Snapshots(ctx, relayID, limit)
}

// ProcessLogs returns up to n recent output lines of an executor job.
func (a *Agent) ProcessLogs(job string, n int) ([]string, bool) {
	if a.opts.Logs == nil {
		return nil, false
	}
	return a.opts.Logs.Lines(job, n)
}

func (a *Agent) pairedRelayID() (string, error) {
	if a.pairing.State() != relay.StatePaired {
		return "", ErrNotPaired
	}
	relayID := a.ids.get().RelayID
	if relayID == "" {
		return "", ErrNoRelayID
	}
	return relayID, nil
}

func (a *Agent) setManualMessage(msg string) {
	a.mu.Lock()
	a.manualMsg = msg
	a.mu.Unlock()
}

// More precondition errors of agent operations.
var (
	ErrNotPaired       = errors.New("relay is not paired")
	ErrAlreadyPaired   = errors.New("relay is already paired; use reset")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidURL      = errors.New("invalid stream url")
)

// ValidateStreamURL accepts absolute URLs with a scheme and host.
func ValidateStreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}
