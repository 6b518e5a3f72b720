package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/domain/relay"
	"github.com/edirooss/coop-relay/internal/infrastructure/hostinfo"
)

type fakeHost struct{ err error }

func (f fakeHost) Sample(context.Context) (hostinfo.Snapshot, error) {
	return hostinfo.Snapshot{MemUsedBytes: 42}, f.err
}

func TestHealthReporter_PingsImmediatelyThenOnInterval(t *testing.T) {
	api := newFakeBackend()
	api.heartbeat = func(relayID string) error {
		assert.Equal(t, "r-1", relayID)
		return nil
	}
	tasks := newTaskSet(context.Background())
	defer tasks.Close()
	h := newHealthReporter(zap.NewNop(), api, tasks, 100*time.Millisecond, nil)

	h.Start("r-1")
	require.Eventually(t, func() bool { return api.count("heartbeat") >= 1 }, 50*time.Millisecond, time.Millisecond)
	require.Eventually(t, func() bool { return api.count("heartbeat") >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.View().LastPingAt.IsZero())

	h.Stop()
	n := api.count("heartbeat")
	time.Sleep(250 * time.Millisecond)
	assert.LessOrEqual(t, api.count("heartbeat"), n+1)
}

func TestHealthReporter_FailureIsRecordedOnly(t *testing.T) {
	api := newFakeBackend()
	api.heartbeat = func(string) error { return apiErr(503) }
	tasks := newTaskSet(context.Background())
	defer tasks.Close()
	h := newHealthReporter(zap.NewNop(), api, tasks, time.Hour, nil)

	h.Start("r-1")
	require.Eventually(t, func() bool { return h.View().LastError != "" }, time.Second, time.Millisecond)
	assert.Contains(t, h.View().LastError, "503")
	assert.True(t, tasks.Running(taskHealth))
}

func TestHealthReporter_SamplesHost(t *testing.T) {
	api := newFakeBackend()
	tasks := newTaskSet(context.Background())
	defer tasks.Close()
	h := newHealthReporter(zap.NewNop(), api, tasks, time.Hour, fakeHost{err: errors.New("load: unsupported")})

	assert.Nil(t, h.View().Host)
	h.Start("r-1")
	require.Eventually(t, func() bool { return h.View().Host != nil }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(42), h.View().Host.MemUsedBytes)
	assert.Empty(t, h.View().LastError, "an incomplete host sample is not a ping failure")
}

func TestStatusRefresher_CoalescesAndMarksUnavailable(t *testing.T) {
	api := newFakeBackend()
	release := make(chan struct{})
	api.relayStatus = func(string) (relay.Status, error) {
		<-release
		return relay.Status{LatestSnapshot: "r-1/a.jpg"}, nil
	}
	s := newStatusRefresher(zap.NewNop(), api)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.Refresh(context.Background(), "r-1")
			assert.NoError(t, err)
			assert.Equal(t, "r-1/a.jpg", st.LatestSnapshot)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Less(t, api.count("relay_status"), 5)

	api.relayStatus = func(string) (relay.Status, error) { return relay.Status{}, apiErr(500) }
	st, err := s.Refresh(context.Background(), "r-1")
	require.Error(t, err)
	assert.True(t, st.Unavailable)
	assert.Empty(t, s.Current().LatestSnapshot)
	assert.True(t, s.Current().Unavailable)
}
