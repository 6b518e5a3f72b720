package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/pkg/capturecmd"
)

// Capture triggers.
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

// CycleResult describes the last finished capture cycle.
type CycleResult struct {
	Trigger    string    `json:"trigger"`
	StreamURL  string    `json:"rtsp_url,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ImagePath  string    `json:"image_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	// Output is the verbatim stdout+stderr of a failed executor.
	Output string `json:"output,omitempty"`
}

// CaptureCycle runs capture → upload → notify → status refresh.
//
// Cycles are serialized: the local snapshot file is shared, so an overlapping
// trigger waits for the running cycle before starting its own.
type CaptureCycle struct {
	log          *zap.Logger
	ids          *identityCache
	api          Backend
	capture      CaptureExecutor
	upload       UploadExecutor
	status       *StatusRefresher
	snapshotPath string
	now          func() time.Time

	gate *gate

	mu   sync.Mutex
	last *CycleResult
}

func newCaptureCycle(log *zap.Logger, ids *identityCache, api Backend, capture CaptureExecutor, upload UploadExecutor, status *StatusRefresher, snapshotPath string) *CaptureCycle {
	return &CaptureCycle{
		log:          log.Named("capture"),
		ids:          ids,
		api:          api,
		capture:      capture,
		upload:       upload,
		status:       status,
		snapshotPath: snapshotPath,
		now:          time.Now,
		gate:         newGate(),
	}
}

// Last returns the most recent cycle result, if any.
func (c *CaptureCycle) Last() *CycleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	out := *c.last
	return &out
}

// Run executes one cycle against streamURL and returns the stored image path.
// Progress and the final outcome are reported through report. A failure at
// any step aborts the rest of the cycle; identity and config are never touched.
func (c *CaptureCycle) Run(ctx context.Context, trigger, streamURL string, report func(string)) (string, error) {
	if report == nil {
		report = func(string) {}
	}
	if err := c.gate.LockContext(ctx); err != nil {
		return "", err
	}
	defer c.gate.Unlock()

	res := CycleResult{Trigger: trigger, StreamURL: streamURL, StartedAt: c.now()}
	path, err := c.run(ctx, streamURL, report)
	res.FinishedAt = c.now()
	res.ImagePath = path
	if err != nil {
		res.Error = err.Error()
		var ee *ExecError
		if errors.As(err, &ee) {
			res.Output = ee.Output
		}
		report("Error: " + err.Error())
		c.log.Warn("capture cycle failed",
			zap.String("trigger", trigger),
			zap.String("rtsp_url", streamURL),
			zap.Error(err))
	}

	c.mu.Lock()
	c.last = &res
	c.mu.Unlock()
	return path, err
}

func (c *CaptureCycle) run(ctx context.Context, streamURL string, report func(string)) (string, error) {
	// 1. relay id
	relayID := c.ids.get().RelayID
	if relayID == "" {
		return "", fmt.Errorf("%w; please ensure pairing is complete", ErrNoRelayID)
	}

	// 2. uploader prerequisites
	if err := c.upload.Ready(); err != nil {
		return "", fmt.Errorf("could not load critical config for uploader: %w", err)
	}

	// 3. stream address
	if streamURL == "" {
		return "", ErrNoStreamURL
	}

	report(fmt.Sprintf("Preparing to capture from %s...", streamURL))
	if dir := filepath.Dir(c.snapshotPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating snapshot directory: %w", err)
		}
	}

	// 4. capture
	if err := c.capture.Capture(ctx, streamURL, c.snapshotPath); err != nil {
		return "", err
	}
	report("Snapshot captured. Uploading...")

	// 5. upload
	stdout, err := c.upload.Upload(ctx, relayID, c.snapshotPath)
	if err != nil {
		return "", err
	}
	imagePath, ok := capturecmd.ParseUploadedPath(stdout)
	if !ok {
		imagePath = capturecmd.ObjectKey(relayID, c.now())
		c.log.Warn("uploader printed no image path; using fallback", zap.String("image_path", imagePath))
	}
	report(fmt.Sprintf("Snapshot uploaded successfully at %s", c.now().Format("15:04:05")))
	c.log.Info("snapshot uploaded", zap.String("relay_id", relayID), zap.String("image_path", imagePath))

	// 6. notify (advisory)
	if err := c.api.NotifySnapshotCreated(ctx, imagePath); err != nil {
		c.log.Warn("snapshot-created notification failed", zap.String("image_path", imagePath), zap.Error(err))
	}

	// 7. status refresh (failures mark the status unavailable)
	if c.status != nil {
		_, _ = c.status.Refresh(ctx, relayID)
	}
	return imagePath, nil
}

// gate is a 1-token semaphore whose Lock can be abandoned via context.
type gate struct{ ch chan struct{} }

func newGate() *gate {
	g := &gate{ch: make(chan struct{}, 1)}
	g.ch <- struct{}{} // token present => unlocked
	return g
}

func (g *gate) LockContext(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) Unlock() {
	select {
	case g.ch <- struct{}{}:
	default:
		panic("unlock of unlocked gate")
	}
}
