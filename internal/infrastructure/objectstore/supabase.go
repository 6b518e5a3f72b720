// Package objectstore uploads snapshot images to Supabase Storage.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client writes objects into one Supabase Storage bucket through the REST API:
//
//	PUT {base}/storage/v1/object/{bucket}/{key}
//
// Authorization is the service-role key as a bearer token.
type Client struct {
	log        *zap.Logger
	baseURL    string
	serviceKey string
	bucket     string
	http       *http.Client
}

// NewClient returns a client for the project at baseURL.
func NewClient(log *zap.Logger, baseURL, serviceKey, bucket string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid supabase url %q", baseURL)
	}
	if serviceKey == "" {
		return nil, fmt.Errorf("empty supabase service key")
	}
	if bucket == "" {
		bucket = "snapshots"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		log:        log.Named("objectstore"),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		http:       &http.Client{Timeout: timeout},
	}, nil
}

// ObjectURL is the REST address of key.
func (c *Client) ObjectURL(key string) string {
	return c.baseURL + "/storage/v1/object/" + url.PathEscape(c.bucket) + "/" + escapeKey(key)
}

// Put stores body under key with the given content type.
func (c *Client) Put(ctx context.Context, key, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.ObjectURL(key), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("put %s: HTTP %d: %s", key, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.log.Debug("object stored",
		zap.String("bucket", c.bucket),
		zap.String("key", key),
		zap.Int("bytes", len(body)),
		zap.Duration("latency", time.Since(start)))
	return nil
}

// PutFile uploads the file at path as a JPEG image.
func (c *Client) PutFile(ctx context.Context, key, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read '%s': %w", path, err)
	}
	if len(body) == 0 {
		return fmt.Errorf("read '%s': empty file", path)
	}
	return c.Put(ctx, key, "image/jpeg", body)
}

// escapeKey escapes each path segment of key, keeping the separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
