package processmgr

import (
	"sort"
	"sync"
)

// LogManager keeps one log ring per job name ("capture", "upload", ...).
// Rings are created lazily and live for the process lifetime, so lines from
// earlier runs of a job stay readable after the next run starts.
type LogManager struct {
	mu   sync.RWMutex
	bufs map[string]*logBuffer
}

// NewLogManager initializes an empty registry.
func NewLogManager() *LogManager {
	return &LogManager{bufs: make(map[string]*logBuffer)}
}

func (lm *LogManager) get(job string) *logBuffer {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if buf, ok := lm.bufs[job]; ok {
		return buf
	}
	buf := new(logBuffer)
	lm.bufs[job] = buf
	return buf
}

// Lines returns up to n lines of job, newest → oldest. ok is false for a job
// that never ran.
func (lm *LogManager) Lines(job string, n int) (lines []string, ok bool) {
	lm.mu.RLock()
	buf, ok := lm.bufs[job]
	lm.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return buf.Read(n), true
}

// Jobs lists the job names that have produced output, sorted.
func (lm *LogManager) Jobs() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]string, 0, len(lm.bufs))
	for k := range lm.bufs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
