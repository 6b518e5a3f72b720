package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/domain/relay"
)

type recordingRun struct {
	mu   sync.Mutex
	urls []string
}

func (r *recordingRun) run(_ context.Context, streamURL string, report func(string)) {
	r.mu.Lock()
	r.urls = append(r.urls, streamURL)
	r.mu.Unlock()
	report("Error: capture failed")
}

func (r *recordingRun) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.urls)
}

func newTestScheduler(t *testing.T, tick time.Duration) (*Scheduler, *taskSet, *recordingRun) {
	t.Helper()
	tasks := newTaskSet(context.Background())
	t.Cleanup(tasks.Close)
	rec := &recordingRun{}
	return newScheduler(zap.NewNop(), tasks, tick, rec.run), tasks, rec
}

func TestScheduler_PausedPreconditions(t *testing.T) {
	s, tasks, _ := newTestScheduler(t, time.Second)

	s.Rearm(relay.Config{Interval: relay.IntervalUnset, RTSPURL: "rtsp://cam/1"}, "")
	v := s.View()
	assert.False(t, v.Armed)
	assert.Zero(t, v.CountdownSeconds)
	assert.Equal(t, msgPausedNoInterval, v.Message)
	assert.False(t, tasks.Running(taskSnapshotTimer))

	s.Rearm(relay.Config{Interval: "5x", RTSPURL: "rtsp://cam/1"}, "")
	assert.Equal(t, msgPausedNoInterval, s.View().Message)

	s.Rearm(relay.Config{Interval: "5m"}, "")
	v = s.View()
	assert.False(t, v.Armed)
	assert.Equal(t, msgPausedNoURL, v.Message)
	assert.False(t, tasks.Running(taskCountdown))
}

func TestScheduler_ArmsWithOverridePrecedence(t *testing.T) {
	s, tasks, _ := newTestScheduler(t, time.Hour)

	s.Rearm(relay.Config{Interval: "5m", RTSPURL: "rtsp://backend/1"}, "rtsp://override/1")
	v := s.View()
	assert.True(t, v.Armed)
	assert.Equal(t, "rtsp://override/1", v.StreamURL)
	assert.Equal(t, "5m", v.Interval)
	assert.Equal(t, 300, v.CountdownSeconds)
	assert.Equal(t, "05:00", v.Countdown)
	assert.True(t, tasks.Running(taskSnapshotTimer))
	assert.True(t, tasks.Running(taskCountdown))

	s.Rearm(relay.Config{Interval: "5m", RTSPURL: "rtsp://backend/1"}, "")
	assert.Equal(t, "rtsp://backend/1", s.View().StreamURL)

	// Override set without a backend address still arms.
	s.Rearm(relay.Config{Interval: "1h"}, "rtsp://override/2")
	v = s.View()
	assert.True(t, v.Armed)
	assert.Equal(t, "rtsp://override/2", v.StreamURL)
	assert.Equal(t, "1h", v.Interval)
	assert.Equal(t, 3600, v.CountdownSeconds)
}

func TestScheduler_UnchangedRearmKeepsCountdown(t *testing.T) {
	s, _, _ := newTestScheduler(t, 5*time.Millisecond)
	cfg := relay.Config{Interval: "1h", RTSPURL: "rtsp://cam/1"}

	s.Rearm(cfg, "")
	require.Eventually(t, func() bool { return s.View().CountdownSeconds < 3600 }, time.Second, 5*time.Millisecond)

	before := s.View().CountdownSeconds
	s.Rearm(cfg, "")
	assert.LessOrEqual(t, s.View().CountdownSeconds, before)
}

func TestScheduler_CountdownFloorsAtZero(t *testing.T) {
	s, _, _ := newTestScheduler(t, time.Millisecond)

	s.Rearm(relay.Config{Interval: "2s", RTSPURL: "rtsp://cam/1"}, "")
	require.Eventually(t, func() bool { return s.View().CountdownSeconds == 0 }, time.Second, 2*time.Millisecond)

	for i := 0; i < 20; i++ {
		c := s.View().CountdownSeconds
		assert.GreaterOrEqual(t, c, 0)
		assert.LessOrEqual(t, c, 2)
		time.Sleep(2 * time.Millisecond)
	}
}

func TestScheduler_TimerFiresAndResetsCountdownAfterFailure(t *testing.T) {
	s, _, rec := newTestScheduler(t, time.Hour)

	s.Rearm(relay.Config{Interval: "1s", RTSPURL: "rtsp://cam/1"}, "")
	require.Eventually(t, func() bool { return rec.count() >= 2 }, 5*time.Second, 10*time.Millisecond,
		"a failed cycle must not stop the next firing")

	v := s.View()
	assert.Equal(t, 1, v.CountdownSeconds)
	assert.Equal(t, "Error: capture failed", v.Message)
	assert.False(t, v.LastFiredAt.IsZero())
}

func TestScheduler_StopDisarms(t *testing.T) {
	s, tasks, rec := newTestScheduler(t, time.Millisecond)

	s.Rearm(relay.Config{Interval: "1s", RTSPURL: "rtsp://cam/1"}, "")
	s.Stop()

	assert.False(t, tasks.Running(taskSnapshotTimer))
	assert.False(t, tasks.Running(taskCountdown))
	assert.Equal(t, SchedulerView{Countdown: "00:00"}, s.View())

	time.Sleep(1200 * time.Millisecond)
	assert.Zero(t, rec.count())
}
