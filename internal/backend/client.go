// Package backend is a typed client for the coop backend REST API consumed by
// the relay (pairing, config, status, ingestion) and by the companion app
// (claim, config update, snapshot listing).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/domain/relay"
)

// Client talks to the backend rooted at BaseURL.
// It is safe for concurrent use.
type Client struct {
	log     *zap.Logger
	baseURL string
	http    *http.Client
}

// Options tunes a Client. Zero values take defaults.
type Options struct {
	// Timeout bounds a whole request (connect, headers, body). Default 15s.
	Timeout time.Duration
	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL (scheme://host[:port], no trailing slash required).
func NewClient(log *zap.Logger, baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: want http(s)://host", baseURL)
	}
	if log == nil {
		log = zap.NewNop()
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		log:     log.Named("backend"),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    hc,
	}, nil
}

// BaseURL returns the normalized backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// --- relay-side endpoints -----------------------------------------------------

// RequestPairingCode asks for a fresh pairing code. relayID is omitted from the
// body when empty (first launch); otherwise the code is scoped to that relay.
func (c *Client) RequestPairingCode(ctx context.Context, relayID string) (PairingCodeResponse, error) {
	var out PairingCodeResponse
	if err := c.do(ctx, http.MethodPost, "/api/relay/request_pairing_code", nil, pairingCodeRequest{RelayID: relayID}, "", &out); err != nil {
		return PairingCodeResponse{}, err
	}
	if out.PairingCode == "" || out.RelayID == "" {
		return PairingCodeResponse{}, fmt.Errorf("request pairing code: missing pairing_code or relay_id: %w", ErrInvalidResponse)
	}
	return out, nil
}

// PairingStatus reports whether code has been claimed.
// An unknown code yields an error matching ErrNotFound.
func (c *Client) PairingStatus(ctx context.Context, code string) (PairingStatusResponse, error) {
	var out PairingStatusResponse
	q := url.Values{"pairing_code": {code}}
	if err := c.do(ctx, http.MethodGet, "/api/relay/config", q, nil, "", &out); err != nil {
		return PairingStatusResponse{}, err
	}
	return out, nil
}

// RelayConfig fetches the capture configuration of a paired relay.
// Missing fields are defaulted to relay.DefaultConfig's sentinels.
func (c *Client) RelayConfig(ctx context.Context, relayID string) (relay.Config, error) {
	var out RelayConfigResponse
	q := url.Values{"relay_id": {relayID}}
	if err := c.do(ctx, http.MethodGet, "/api/relay/config", q, nil, "", &out); err != nil {
		return relay.Config{}, err
	}

	cfg := relay.DefaultConfig()
	if v := deref(out.Interval); v != "" {
		cfg.Interval = v
	}
	cfg.RTSPURL = deref(out.RTSPURL)
	return cfg, nil
}

// Heartbeat posts a liveness ping.
func (c *Client) Heartbeat(ctx context.Context, relayID string) error {
	return c.do(ctx, http.MethodPost, "/api/relay/status", nil, heartbeatRequest{RelayID: relayID}, "", nil)
}

// RelayStatus reads the backend's view of the relay.
func (c *Client) RelayStatus(ctx context.Context, relayID string) (relay.Status, error) {
	var out RelayStatusResponse
	q := url.Values{"relay_id": {relayID}}
	if err := c.do(ctx, http.MethodGet, "/api/relay/status/read", q, nil, "", &out); err != nil {
		return relay.Status{}, err
	}
	return relay.Status{
		LastSeenAt:     deref(out.LastSeenAt),
		PairedAt:       deref(out.PairedAt),
		LatestSnapshot: deref(out.LatestSnapshot),
		RTSPURL:        deref(out.RTSPURL),
	}, nil
}

// NotifySnapshotCreated tells the ingestion pipeline a new image is stored.
func (c *Client) NotifySnapshotCreated(ctx context.Context, imagePath string) error {
	return c.do(ctx, http.MethodPost, "/api/internal/snapshot-created", nil, snapshotCreatedRequest{ImagePath: imagePath}, "", nil)
}

// RecordSnapshot registers an uploaded object under the relay (uploader executable).
func (c *Client) RecordSnapshot(ctx context.Context, rec SnapshotRecord) (SnapshotRecordResponse, error) {
	var out SnapshotRecordResponse
	if err := c.do(ctx, http.MethodPost, "/api/snapshots", nil, rec, "", &out); err != nil {
		return SnapshotRecordResponse{}, err
	}
	return out, nil
}

// --- companion-app endpoints --------------------------------------------------

// Claim binds a pairing code to the coop of the user behind bearerToken.
func (c *Client) Claim(ctx context.Context, bearerToken, code string) (ClaimResponse, error) {
	var out ClaimResponse
	if err := c.do(ctx, http.MethodPost, "/api/relay/claim", nil, claimRequest{PairingCode: code}, bearerToken, &out); err != nil {
		return ClaimResponse{}, err
	}
	return out, nil
}

// UpdateConfig sets interval and stream address for a relay.
func (c *Client) UpdateConfig(ctx context.Context, req UpdateConfigRequest) error {
	if req.RelayID == "" || req.Interval == "" {
		return errors.New("relay_id and interval are required")
	}
	return c.do(ctx, http.MethodPost, "/api/relay/config", nil, req, "", nil)
}

// Snapshots lists the most recent snapshots of a relay, newest first.
func (c *Client) Snapshots(ctx context.Context, relayID string, limit int) ([]Snapshot, error) {
	q := url.Values{"relay_id": {relayID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/relay/snapshots", q, nil, "", &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Snapshot{}
	}
	return out, nil
}

// --- transport ------------------------------------------------------------------

// maxBody caps how much of a response body is read.
const maxBody = 1 << 20

// do performs one JSON round trip. in (when non-nil) is encoded as the request
// body; out (when non-nil) receives the decoded 2xx body. Non-2xx responses are
// returned as *APIError carrying a truncated copy of the body.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in any, bearer string, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: marshal: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s %s: new request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(raw)), 512),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		if out != nil {
			return fmt.Errorf("%s %s: empty body: %w", method, path, ErrInvalidResponse)
		}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode: %v: %w", method, path, err, ErrInvalidResponse)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
