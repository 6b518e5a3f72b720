package processmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Output limits. Stdout and stderr each keep their last maxCaptureBytes;
// a line longer than maxLineBytes is split when mirrored into the log ring.
const (
	maxCaptureBytes = 1 << 20
	maxLineBytes    = 16 << 10
)

// Result is the outcome of one command run.
type Result struct {
	Argv     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	// Truncated is set when the head of stdout or stderr was dropped.
	Truncated bool
}

// Output is stdout followed by stderr, verbatim.
func (r Result) Output() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + r.Stderr
	}
}

// RunError reports a command that failed to start, exited non-zero, or was
// stopped because its context ended. Result holds whatever output was produced.
type RunError struct {
	Result
	Err error
}

func (e *RunError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s: exit status %d", e.Argv[0], e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Argv[0], e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Runner executes one-shot external commands under supervision:
//   - the child gets its own process group and dies with the parent (Linux)
//   - stdout/stderr are captured (the last 1 MiB of each) and mirrored line
//     by line into the job's log ring
//   - context cancellation sends SIGTERM to the group, then SIGKILL after the grace period
//
// Runner is safe for concurrent use; runs are independent.
type Runner struct {
	log        *zap.Logger
	logs       *LogManager
	env        []string
	killGrace  time.Duration
	maxCapture int
}

// NewRunner returns a Runner whose children inherit os.Environ() plus extraEnv.
func NewRunner(log *zap.Logger, logs *LogManager, extraEnv ...string) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if logs == nil {
		logs = NewLogManager()
	}
	return &Runner{
		log:        log.Named("processmgr"),
		logs:       logs,
		env:        append(os.Environ(), extraEnv...),
		killGrace:  3 * time.Second,
		maxCapture: maxCaptureBytes,
	}
}

// Run starts argv, waits for it to exit and returns its captured output.
// env, when non-nil, replaces the runner's environment for this run.
// A non-nil error is always a *RunError.
func (r *Runner) Run(ctx context.Context, job string, argv []string, env []string) (Result, error) {
	res := Result{Argv: append([]string(nil), argv...)}
	if len(argv) == 0 || argv[0] == "" {
		return res, &RunError{Result: res, Err: errors.New("empty argv")}
	}

	log := r.log.With(zap.String("job", job), zap.String("bin", argv[0]))
	buf := r.logs.get(job)

	stdout := &tailBuffer{max: r.maxCapture}
	stderr := &tailBuffer{max: r.maxCapture}
	outLines := &lineWriter{buf: buf}
	errLines := &lineWriter{buf: buf}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = io.MultiWriter(stdout, outLines)
	cmd.Stderr = io.MultiWriter(stderr, errLines)
	cmd.Env = r.env
	if env != nil {
		cmd.Env = env
	}
	cmd.WaitDelay = r.killGrace // bounds pipe draining when grandchildren keep fds open
	configureCmd(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Error("failed to start command", zap.Error(err))
		buf.Append(err.Error())
		res.ExitCode = -1
		return res, &RunError{Result: res, Err: err}
	}
	pid := cmd.Process.Pid
	log.Debug("process started", zap.Int("pid", pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		log.Info("context ended; terminating process", zap.Int("pid", pid), zap.Error(ctx.Err()))
		waitErr = r.terminate(log, cmd, done)
		if waitErr == nil {
			waitErr = ctx.Err()
		}
	}

	outLines.flush()
	errLines.flush()

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Truncated = stdout.Truncated() || stderr.Truncated()
	res.Duration = time.Since(start)
	res.ExitCode = exitCode(cmd, waitErr)

	if waitErr != nil || ctx.Err() != nil {
		if waitErr == nil {
			waitErr = ctx.Err()
		}
		log.Warn("process failed",
			zap.Int("pid", pid),
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("took", res.Duration),
			zap.Error(waitErr))
		return res, &RunError{Result: res, Err: waitErr}
	}

	if res.Truncated {
		log.Debug("process output truncated", zap.Int("max_bytes", r.maxCapture))
	}
	log.Debug("process exited cleanly", zap.Int("pid", pid), zap.Duration("took", res.Duration))
	return res, nil
}

// terminate sends SIGTERM to the group and escalates to SIGKILL after killGrace.
// It returns the Wait error of the child.
func (r *Runner) terminate(log *zap.Logger, cmd *exec.Cmd, done <-chan error) error {
	if err := interruptCmd(cmd); err != nil {
		log.Warn("SIGTERM failed", zap.Error(err))
	}

	t := time.NewTimer(r.killGrace)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		log.Warn("grace timeout expired; sending SIGKILL", zap.Duration("grace", r.killGrace))
		if err := killCmd(cmd); err != nil {
			log.Error("SIGKILL failed", zap.Error(err))
		}
		return <-done
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
	}
	if err != nil {
		return -1
	}
	return 0
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	max       int
	b         []byte
	truncated bool
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if len(p) >= t.max {
		t.truncated = t.truncated || len(t.b) > 0 || len(p) > t.max
		t.b = append(t.b[:0], p[len(p)-t.max:]...)
		return n, nil
	}
	if over := len(t.b) + len(p) - t.max; over > 0 {
		t.b = append(t.b[:0], t.b[over:]...)
		t.truncated = true
	}
	t.b = append(t.b, p...)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}

func (t *tailBuffer) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncated
}

// lineWriter splits a byte stream into lines and appends them to a log ring.
type lineWriter struct {
	mu      sync.Mutex
	buf     *logBuffer
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.buf.Append(strings.TrimRight(string(w.partial[:i]), "\r"))
		w.partial = w.partial[i+1:]
	}
	for len(w.partial) > maxLineBytes {
		w.buf.Append(string(w.partial[:maxLineBytes]))
		w.partial = w.partial[maxLineBytes:]
	}
	return len(p), nil
}

// flush appends a trailing line that had no newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 {
		w.buf.Append(strings.TrimRight(string(w.partial), "\r"))
		w.partial = nil
	}
}
