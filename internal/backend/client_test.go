package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/domain/relay"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(zap.NewNop(), srv.URL+"/", Options{})
	require.NoError(t, err)
	return c
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c, err := NewClient(nil, "https://backend.example/", Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://backend.example", c.BaseURL())
}

func TestNewClient_RejectsBadBaseURL(t *testing.T) {
	for _, u := range []string{"", "ftp://x", "localhost:8080", "http://"} {
		_, err := NewClient(nil, u, Options{})
		assert.Error(t, err, u)
	}
}

func TestRequestPairingCode(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/relay/request_pairing_code", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &gotBody))
		_, _ = w.Write([]byte(`{"pairing_code":"12345678","relay_id":"r-1","status":"pending"}`))
	})

	out, err := c.RequestPairingCode(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "12345678", out.PairingCode)
	assert.Equal(t, "r-1", out.RelayID)
	assert.Empty(t, gotBody, "first launch sends an empty object")

	_, err = c.RequestPairingCode(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"relay_id": "r-1"}, gotBody)
}

func TestRequestPairingCode_MissingFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pairing_code":"12345678"}`))
	})

	_, err := c.RequestPairingCode(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestPairingStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/relay/config", r.URL.Path)
		switch r.URL.Query().Get("pairing_code") {
		case "claimed1":
			_, _ = w.Write([]byte(`{"status":"claimed","relay_id":"r-1","coop_id":"c-1"}`))
		case "missing1":
			http.Error(w, `{"error":"Pairing code not found"}`, http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})

	out, err := c.PairingStatus(context.Background(), "claimed1")
	require.NoError(t, err)
	assert.Equal(t, PairingStatusResponse{Status: PairingStatusClaimed, RelayID: "r-1", CoopID: "c-1"}, out)

	_, err = c.PairingStatus(context.Background(), "missing1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))

	_, err = c.PairingStatus(context.Background(), "other")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestRelayConfig_DefaultsAbsentFields(t *testing.T) {
	body := `{"interval":"5m","rtsp_url":"rtsp://cam/1"}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "r-1", r.URL.Query().Get("relay_id"))
		_, _ = w.Write([]byte(body))
	})

	cfg, err := c.RelayConfig(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, relay.Config{Interval: "5m", RTSPURL: "rtsp://cam/1"}, cfg)

	body = `{"relay_id":"r-1","status":"active","interval":null}`
	cfg, err = c.RelayConfig(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, relay.DefaultConfig(), cfg)
}

func TestRelayConfig_MalformedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"interval":`))
	})

	_, err := c.RelayConfig(context.Background(), "r-1")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestHeartbeatAndNotify(t *testing.T) {
	var paths []string
	var bodies []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.Heartbeat(context.Background(), "r-1"))
	require.NoError(t, c.NotifySnapshotCreated(context.Background(), "r-1/2025-06-12-00-07-16.jpg"))

	assert.Equal(t, []string{"/api/relay/status", "/api/internal/snapshot-created"}, paths)
	assert.JSONEq(t, `{"relay_id":"r-1"}`, bodies[0])
	assert.JSONEq(t, `{"image_path":"r-1/2025-06-12-00-07-16.jpg"}`, bodies[1])
}

func TestRelayStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/relay/status/read", r.URL.Path)
		_, _ = w.Write([]byte(`{"relay_id":"r-1","paired_at":"2025-06-01T00:00:00Z","last_seen_at":"2025-06-12T00:00:00Z","interval":"1m","latest_snapshot":"r-1/a.jpg"}`))
	})

	st, err := c.RelayStatus(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-12T00:00:00Z", st.LastSeenAt)
	assert.Equal(t, "r-1/a.jpg", st.LatestSnapshot)
	assert.Equal(t, "2025-06-01T00:00:00Z", st.PairedAt)
	assert.False(t, st.Unavailable)
}

func TestClaim_SendsBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/relay/claim", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"relay_id":"r-1","status":"claimed"}`))
	})

	out, err := c.Claim(context.Background(), "tok", "12345678")
	require.NoError(t, err)
	assert.Equal(t, ClaimResponse{RelayID: "r-1", Status: "claimed"}, out)
}

func TestUpdateConfigAndSnapshots(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/relay/config":
			assert.Equal(t, http.MethodPost, r.Method)
			w.WriteHeader(http.StatusOK)
		case "/api/relay/snapshots":
			assert.Equal(t, "3", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`[{"id":"s1","created_at":"t","image_path":"r-1/a.jpg"}]`))
		}
	})

	assert.Error(t, c.UpdateConfig(context.Background(), UpdateConfigRequest{RelayID: "r-1"}))
	require.NoError(t, c.UpdateConfig(context.Background(), UpdateConfigRequest{RelayID: "r-1", Interval: "5m"}))

	snaps, err := c.Snapshots(context.Background(), "r-1", 3)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "r-1/a.jpg", *snaps[0].ImagePath)
}

func TestTransportError(t *testing.T) {
	c, err := NewClient(zap.NewNop(), "http://127.0.0.1:1", Options{})
	require.NoError(t, err)

	err = c.Heartbeat(context.Background(), "r-1")
	require.Error(t, err)
	assert.Zero(t, StatusCode(err))
}
