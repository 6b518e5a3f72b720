package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/infrastructure/processmgr"
	"github.com/edirooss/coop-relay/pkg/capturecmd"
)

// Job names under which executor output is kept in the process log rings.
const (
	JobCapture = "capture"
	JobUpload  = "upload"
)

// CaptureExecutor grabs one still frame from streamURL into outPath.
type CaptureExecutor interface {
	Capture(ctx context.Context, streamURL, outPath string) error
}

// UploadExecutor pushes a captured file to cloud storage.
//
// Ready reports whether the executor's prerequisites (credentials, endpoints)
// are resolvable. Upload returns the executor's stdout, which may carry the
// uploaded-path marker.
type UploadExecutor interface {
	Ready() error
	Upload(ctx context.Context, relayID, imagePath string) (stdout string, err error)
}

// ExecError is a failed external process. Output is its stdout followed by
// stderr, verbatim.
type ExecError struct {
	Step   string
	Output string
	Err    error
}

func (e *ExecError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Step, e.Err, out)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ---------- ffmpeg ----------

// FFmpegCapture runs ffmpeg through a processmgr.Runner.
type FFmpegCapture struct {
	log       *zap.Logger
	runner    *processmgr.Runner
	bin       string
	transport string
	timeout   time.Duration
}

// NewFFmpegCapture returns a capture executor invoking bin (default "ffmpeg").
// timeout <= 0 disables the per-run deadline.
func NewFFmpegCapture(log *zap.Logger, runner *processmgr.Runner, bin, transport string, timeout time.Duration) *FFmpegCapture {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegCapture{
		log:       log.Named("ffmpeg"),
		runner:    runner,
		bin:       bin,
		transport: transport,
		timeout:   timeout,
	}
}

func (f *FFmpegCapture) Capture(ctx context.Context, streamURL, outPath string) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	argv := capturecmd.FFmpegSnapshot(f.bin, streamURL, outPath, f.transport)
	f.log.Debug("grabbing frame", zap.String("cmd", capturecmd.JoinQuoted(argv)))

	res, err := f.runner.Run(ctx, JobCapture, argv, nil)
	if err != nil {
		return &ExecError{Step: "ffmpeg", Output: res.Output(), Err: err}
	}
	return nil
}

// ---------- uploader ----------

// UploaderEnv is the environment the uploader executable requires.
type UploaderEnv struct {
	SupabaseURL        string
	SupabaseServiceKey string
	BackendURL         string
	Bucket             string // optional; the uploader defaults to "snapshots"
}

// Validate reports the first missing variable.
func (e UploaderEnv) Validate() error {
	var missing []string
	if e.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if e.SupabaseServiceKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_KEY")
	}
	if e.BackendURL == "" {
		missing = append(missing, "COOP_BACKEND_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrUploaderNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// Environ is the child environment: the three variables, the bucket when
// set, plus PATH and HOME.
func (e UploaderEnv) Environ() []string {
	env := []string{
		"SUPABASE_URL=" + e.SupabaseURL,
		"SUPABASE_SERVICE_KEY=" + e.SupabaseServiceKey,
		"COOP_BACKEND_URL=" + e.BackendURL,
	}
	if e.Bucket != "" {
		env = append(env, "SUPABASE_BUCKET="+e.Bucket)
	}
	for _, k := range []string{"PATH", "HOME"} {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// ProcessUploader runs the uploader executable through a processmgr.Runner.
type ProcessUploader struct {
	log     *zap.Logger
	runner  *processmgr.Runner
	bin     string
	env     UploaderEnv
	timeout time.Duration
}

// NewProcessUploader returns an upload executor invoking bin with env.
func NewProcessUploader(log *zap.Logger, runner *processmgr.Runner, bin string, env UploaderEnv, timeout time.Duration) *ProcessUploader {
	return &ProcessUploader{
		log:     log.Named("uploader"),
		runner:  runner,
		bin:     bin,
		env:     env,
		timeout: timeout,
	}
}

func (u *ProcessUploader) Ready() error {
	if u.bin == "" {
		return fmt.Errorf("%w: uploader binary not set", ErrUploaderNotConfigured)
	}
	return u.env.Validate()
}

func (u *ProcessUploader) Upload(ctx context.Context, relayID, imagePath string) (string, error) {
	if err := u.Ready(); err != nil {
		return "", err
	}
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	argv := capturecmd.Uploader(u.bin, relayID, imagePath)
	u.log.Debug("uploading snapshot", zap.String("cmd", capturecmd.JoinQuoted(argv)))

	res, err := u.runner.Run(ctx, JobUpload, argv, u.env.Environ())
	if err != nil {
		return res.Stdout, &ExecError{Step: "uploader", Output: res.Output(), Err: err}
	}
	return res.Stdout, nil
}

// Precondition errors of the capture cycle and reset.
var (
	ErrNoRelayID             = errors.New("relay id not found")
	ErrNoStreamURL           = errors.New("rtsp url is not available")
	ErrUploaderNotConfigured = errors.New("uploader not configured")
)
