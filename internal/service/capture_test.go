package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/domain/relay"
	"github.com/edirooss/coop-relay/internal/identity"
)

type cycleFixture struct {
	api      *fakeBackend
	capture  *fakeCapture
	upload   *fakeUploader
	store    identity.Store
	status   *StatusRefresher
	cycle    *CaptureCycle
	messages []string
}

func newCycleFixture(t *testing.T, relayID string) *cycleFixture {
	t.Helper()
	f := &cycleFixture{
		api:     newFakeBackend(),
		capture: &fakeCapture{},
		upload:  &fakeUploader{stdout: "uploading\nUPLOADED_IMAGE_PATH:r-1/2025-06-12-00-07-16.jpg\n"},
		store:   newTestStore(t),
	}
	if relayID != "" {
		seedStore(t, f.store, map[string]string{identity.KeyRelayID: relayID})
	}
	ids := newIdentityCache(f.store)
	_, err := ids.load(context.Background())
	require.NoError(t, err)

	f.status = newStatusRefresher(zap.NewNop(), f.api)
	f.cycle = newCaptureCycle(zap.NewNop(), ids, f.api, f.capture, f.upload, f.status,
		filepath.Join(t.TempDir(), "tmp", "snapshot.jpg"))
	f.cycle.now = func() time.Time { return time.Date(2025, 6, 12, 0, 7, 16, 0, time.UTC) }
	return f
}

func (f *cycleFixture) run(url string) (string, error) {
	return f.cycle.Run(context.Background(), TriggerManual, url, func(m string) { f.messages = append(f.messages, m) })
}

func (f *cycleFixture) lastMessage() string {
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

func TestCaptureCycle_Success(t *testing.T) {
	f := newCycleFixture(t, "r-1")

	path, err := f.run("rtsp://cam/1")
	require.NoError(t, err)
	assert.Equal(t, "r-1/2025-06-12-00-07-16.jpg", path)
	assert.Equal(t, []string{"rtsp://cam/1"}, f.capture.urls())
	assert.Equal(t, []string{path}, f.api.notifiedPaths())
	assert.Equal(t, 1, f.api.count("relay_status"))
	assert.Equal(t, "2025-06-12T00:00:00Z", f.status.Current().LastSeenAt)
	assert.Contains(t, f.messages, "Snapshot captured. Uploading...")
	assert.Equal(t, "Snapshot uploaded successfully at 00:07:16", f.lastMessage())

	last := f.cycle.Last()
	require.NotNil(t, last)
	assert.Equal(t, TriggerManual, last.Trigger)
	assert.Equal(t, path, last.ImagePath)
	assert.Empty(t, last.Error)
}

func TestCaptureCycle_FallbackImagePath(t *testing.T) {
	f := newCycleFixture(t, "r-7")
	f.upload.stdout = "done\n"

	path, err := f.run("rtsp://cam/1")
	require.NoError(t, err)
	assert.Equal(t, "r-7/2025-06-12-00-07-16.jpg", path)
	assert.Equal(t, []string{path}, f.api.notifiedPaths())
}

func TestCaptureCycle_Preconditions(t *testing.T) {
	t.Run("no relay id", func(t *testing.T) {
		f := newCycleFixture(t, "")
		_, err := f.run("rtsp://cam/1")
		assert.ErrorIs(t, err, ErrNoRelayID)
		assert.Empty(t, f.capture.urls())
		assert.Contains(t, f.lastMessage(), "Error: relay id not found")
	})

	t.Run("uploader not configured", func(t *testing.T) {
		f := newCycleFixture(t, "r-1")
		f.upload.notReady = UploaderEnv{}.Validate()
		_, err := f.run("rtsp://cam/1")
		assert.ErrorIs(t, err, ErrUploaderNotConfigured)
		assert.Empty(t, f.capture.urls())
		assert.Contains(t, f.lastMessage(), "SUPABASE_URL")
	})

	t.Run("no stream url", func(t *testing.T) {
		f := newCycleFixture(t, "r-1")
		_, err := f.run("")
		assert.ErrorIs(t, err, ErrNoStreamURL)
		assert.Empty(t, f.capture.urls())
	})
}

func TestCaptureCycle_ExecutorFailuresAreVerbatim(t *testing.T) {
	t.Run("capture", func(t *testing.T) {
		f := newCycleFixture(t, "r-1")
		f.capture.err = &ExecError{Step: "ffmpeg", Output: "Connection refused\n", Err: errors.New("exit status 1")}

		_, err := f.run("rtsp://cam/1")
		require.Error(t, err)
		assert.Zero(t, f.upload.count())
		assert.Zero(t, f.api.count("notify"))
		assert.Contains(t, f.lastMessage(), "Connection refused")
		assert.Equal(t, "Connection refused\n", f.cycle.Last().Output)
	})

	t.Run("upload", func(t *testing.T) {
		f := newCycleFixture(t, "r-1")
		f.upload.err = &ExecError{Step: "uploader", Output: "upload failed: 403\n", Err: errors.New("exit status 2")}

		_, err := f.run("rtsp://cam/1")
		require.Error(t, err)
		assert.Zero(t, f.api.count("notify"))
		assert.Contains(t, f.lastMessage(), "upload failed: 403")
	})
}

func TestCaptureCycle_FailureLeavesIdentityUntouched(t *testing.T) {
	f := newCycleFixture(t, "r-1")
	seedStore(t, f.store, map[string]string{identity.KeyRTSPOverride: "rtsp://o/1"})
	f.capture.err = errors.New("boom")

	_, err := f.run("rtsp://cam/1")
	require.Error(t, err)

	id, err := identity.Load(context.Background(), f.store)
	require.NoError(t, err)
	assert.Equal(t, relay.Identity{RelayID: "r-1", RTSPOverride: "rtsp://o/1"}, id)
}

func TestCaptureCycle_BestEffortSteps(t *testing.T) {
	f := newCycleFixture(t, "r-1")
	f.api.notify = func(string) error { return apiErr(500) }
	f.api.relayStatus = func(string) (relay.Status, error) { return relay.Status{}, apiErr(502) }

	path, err := f.run("rtsp://cam/1")
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	st := f.status.Current()
	assert.True(t, st.Unavailable)
	assert.Empty(t, st.LastSeenAt)
}

func TestCaptureCycle_OverlappingRunsAreSerialized(t *testing.T) {
	f := newCycleFixture(t, "r-1")
	f.capture.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.cycle.Run(context.Background(), TriggerTimer, "rtsp://cam/1", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.capture.urls(), 3)
	assert.Equal(t, 1, f.capture.maxSeen)
}

func TestCaptureCycle_QueuedRunHonoursContext(t *testing.T) {
	f := newCycleFixture(t, "r-1")
	require.NoError(t, f.cycle.gate.LockContext(context.Background()))
	defer f.cycle.gate.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.cycle.Run(ctx, TriggerManual, "rtsp://cam/1", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.capture.urls())
}
