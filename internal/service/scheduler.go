package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/domain/relay"
)

// Scheduler messages.
const (
	msgPausedNoInterval = "Automatic snapshots paused: Interval not set or invalid."
	msgPausedNoURL      = "Automatic snapshots paused: RTSP URL not available."
)

// Scheduler turns the capture interval and the effective stream address into
// a recurring capture cycle plus a per-second countdown.
//
// Every re-arm cancels both the "snapshot-timer" and the "countdown" task
// before arming new ones. A cycle in flight when the timer is re-armed runs on
// to completion (its context is the agent's, not the timer's) but no longer
// touches the countdown.
type Scheduler struct {
	log   *zap.Logger
	tasks *taskSet
	tick  time.Duration

	// run executes one capture cycle, reporting progress through report.
	run func(ctx context.Context, streamURL string, report func(string))

	mu        sync.Mutex
	applied   bool
	armed     bool
	key       armKey
	interval  time.Duration
	streamURL string
	countdown int
	msg       string
	lastFire  time.Time
}

type armKey struct {
	interval  string
	streamURL string
}

// SchedulerView is the scheduler's state for display.
type SchedulerView struct {
	Armed            bool      `json:"armed"`
	Interval         string    `json:"interval,omitempty"`
	StreamURL        string    `json:"rtsp_url,omitempty"`
	CountdownSeconds int       `json:"countdown_seconds"`
	Countdown        string    `json:"countdown"`
	Message          string    `json:"message,omitempty"`
	LastFiredAt      time.Time `json:"last_fired_at,omitzero"`
}

func newScheduler(log *zap.Logger, tasks *taskSet, tick time.Duration, run func(context.Context, string, func(string))) *Scheduler {
	return &Scheduler{
		log:   log.Named("scheduler"),
		tasks: tasks,
		tick:  tick,
		run:   run,
	}
}

// Rearm applies cfg and override. It is a no-op when neither the interval nor
// the effective stream address changed since the last arm.
func (s *Scheduler) Rearm(cfg relay.Config, override string) {
	streamURL := relay.EffectiveRTSPURL(override, cfg)
	key := armKey{interval: cfg.Interval, streamURL: streamURL}
	interval := relay.ParseInterval(cfg.Interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied && s.key == key {
		return
	}

	s.tasks.Stop(taskSnapshotTimer, taskCountdown)
	s.applied = true
	s.key = key
	s.interval = interval
	s.streamURL = streamURL

	if interval <= 0 || streamURL == "" {
		s.armed = false
		s.countdown = 0
		if interval <= 0 {
			s.msg = msgPausedNoInterval
		} else {
			s.msg = msgPausedNoURL
		}
		s.log.Info("automatic snapshots paused", zap.String("interval", cfg.Interval), zap.Bool("has_rtsp_url", streamURL != ""))
		return
	}

	seconds := intervalSeconds(interval)
	s.armed = true
	s.countdown = seconds
	s.msg = fmt.Sprintf("Timer active. Next capture in %s using %s", relay.FormatCountdown(seconds), truncateURL(streamURL, 30))

	s.tasks.Start(taskSnapshotTimer, func(ctx context.Context) { s.timerLoop(ctx, interval, streamURL) })
	s.tasks.Start(taskCountdown, s.countdownLoop)

	s.log.Info("automatic snapshots armed", zap.Duration("interval", interval), zap.String("rtsp_url", streamURL))
}

// Stop disarms the scheduler and clears its state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks.Stop(taskSnapshotTimer, taskCountdown)
	s.applied = false
	s.armed = false
	s.key = armKey{}
	s.interval = 0
	s.streamURL = ""
	s.countdown = 0
	s.msg = ""
}

// View returns the scheduler state.
func (s *Scheduler) View() SchedulerView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := SchedulerView{
		Armed:            s.armed,
		StreamURL:        s.streamURL,
		CountdownSeconds: s.countdown,
		Countdown:        relay.FormatCountdown(s.countdown),
		Message:          s.msg,
		LastFiredAt:      s.lastFire,
	}
	if s.interval > 0 {
		v.Interval = s.key.interval
	}
	return v
}

func (s *Scheduler) timerLoop(ctx context.Context, interval time.Duration, streamURL string) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			s.lastFire = time.Now()
			s.mu.Unlock()

			s.run(ctx, streamURL, func(msg string) { s.report(ctx, msg) })

			s.mu.Lock()
			if ctx.Err() == nil {
				s.countdown = intervalSeconds(interval)
			}
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) countdownLoop(ctx context.Context) {
	t := time.NewTicker(s.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			if ctx.Err() == nil && s.countdown > 0 {
				s.countdown--
			}
			s.mu.Unlock()
		}
	}
}

// report sets the message unless the timer that produced it was re-armed.
func (s *Scheduler) report(ctx context.Context, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() == nil {
		s.msg = msg
	}
}

func intervalSeconds(d time.Duration) int {
	return int(d / time.Second)
}

func truncateURL(u string, n int) string {
	if len(u) <= n {
		return u
	}
	return u[:n] + "..."
}
