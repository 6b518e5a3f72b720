package processmgr

import "sync"

// logBufferCap is the number of lines retained per job.
const logBufferCap = 500

// logBuffer is a thread-safe ring of the most recent output lines of a job.
// Append is O(1); Read copies at most logBufferCap entries.
type logBuffer struct {
	mu      sync.RWMutex
	entries [logBufferCap]string
	head    int // next write position
	size    int // number of valid entries, saturates at logBufferCap
}

// Append stores a line, overwriting the oldest one once full.
func (b *logBuffer) Append(line string) {
	b.mu.Lock()
	b.entries[b.head] = line
	b.head = (b.head + 1) % logBufferCap
	if b.size < logBufferCap {
		b.size++
	}
	b.mu.Unlock()
}

// Read returns up to n lines ordered newest → oldest.
// n <= 0 or n > logBufferCap returns everything retained.
// The returned slice is owned by the caller.
func (b *logBuffer) Read(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return nil
	}
	if n <= 0 || n > b.size {
		n = b.size
	}

	out := make([]string, n)
	newest := (b.head - 1 + logBufferCap) % logBufferCap
	for i := 0; i < n; i++ {
		out[i] = b.entries[(newest-i+logBufferCap)%logBufferCap]
	}
	return out
}
