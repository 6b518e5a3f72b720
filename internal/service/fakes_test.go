package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/backend"
	"github.com/edirooss/coop-relay/internal/domain/relay"
	"github.com/edirooss/coop-relay/internal/identity"
)

// fakeBackend is a scriptable Backend. Nil hooks return zero values.
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	requestCode   func(relayID string) (backend.PairingCodeResponse, error)
	pairingStatus func(ctx context.Context, code string) (backend.PairingStatusResponse, error)
	relayConfig   func(relayID string) (relay.Config, error)
	heartbeat     func(relayID string) error
	relayStatus   func(relayID string) (relay.Status, error)
	notify        func(imagePath string) error
	updateConfig  func(req backend.UpdateConfigRequest) error

	notified []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(map[string]int)}
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) RequestPairingCode(_ context.Context, relayID string) (backend.PairingCodeResponse, error) {
	f.hit("request_code")
	if f.requestCode == nil {
		return backend.PairingCodeResponse{}, nil
	}
	return f.requestCode(relayID)
}

func (f *fakeBackend) PairingStatus(ctx context.Context, code string) (backend.PairingStatusResponse, error) {
	f.hit("pairing_status")
	if f.pairingStatus == nil {
		return backend.PairingStatusResponse{Status: backend.PairingStatusPending}, nil
	}
	return f.pairingStatus(ctx, code)
}

func (f *fakeBackend) RelayConfig(_ context.Context, relayID string) (relay.Config, error) {
	f.hit("relay_config")
	if f.relayConfig == nil {
		return relay.DefaultConfig(), nil
	}
	return f.relayConfig(relayID)
}

func (f *fakeBackend) Heartbeat(_ context.Context, relayID string) error {
	f.hit("heartbeat")
	if f.heartbeat == nil {
		return nil
	}
	return f.heartbeat(relayID)
}

func (f *fakeBackend) RelayStatus(_ context.Context, relayID string) (relay.Status, error) {
	f.hit("relay_status")
	if f.relayStatus == nil {
		return relay.Status{LastSeenAt: "2025-06-12T00:00:00Z"}, nil
	}
	return f.relayStatus(relayID)
}

func (f *fakeBackend) NotifySnapshotCreated(_ context.Context, imagePath string) error {
	f.hit("notify")
	f.mu.Lock()
	f.notified = append(f.notified, imagePath)
	f.mu.Unlock()
	if f.notify == nil {
		return nil
	}
	return f.notify(imagePath)
}

func (f *fakeBackend) UpdateConfig(_ context.Context, req backend.UpdateConfigRequest) error {
	f.hit("update_config")
	if f.updateConfig == nil {
		return nil
	}
	return f.updateConfig(req)
}

func (f *fakeBackend) Snapshots(_ context.Context, relayID string, limit int) ([]backend.Snapshot, error) {
	f.hit("snapshots")
	return []backend.Snapshot{}, nil
}

func (f *fakeBackend) notifiedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notified...)
}

// fakeCapture records invocations and fails when err is set.
type fakeCapture struct {
	mu       sync.Mutex
	calls    []string
	err      error
	delay    time.Duration
	inflight int
	maxSeen  int
}

func (c *fakeCapture) Capture(ctx context.Context, streamURL, outPath string) error {
	c.mu.Lock()
	c.calls = append(c.calls, streamURL)
	c.inflight++
	if c.inflight > c.maxSeen {
		c.maxSeen = c.inflight
	}
	delay, err := c.delay, c.err
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
	return err
}

func (c *fakeCapture) urls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// fakeUploader prints stdout on success.
type fakeUploader struct {
	mu       sync.Mutex
	notReady error
	stdout   string
	err      error
	calls    int
}

func (u *fakeUploader) Ready() error { return u.notReady }

func (u *fakeUploader) Upload(_ context.Context, relayID, imagePath string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	return u.stdout, u.err
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func newTestStore(t *testing.T) identity.Store {
	t.Helper()
	s, err := identity.NewFileStore(zap.NewNop(), t.TempDir()+"/identity.yaml")
	require.NoError(t, err)
	return s
}

func seedStore(t *testing.T, s identity.Store, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		require.NoError(t, s.Set(context.Background(), k, v))
	}
}

func apiErr(code int) error {
	return &backend.APIError{Method: http.MethodGet, Path: "/api/relay/config", StatusCode: code}
}
