package service

import (
	"context"
	"sync"
)

// Names of the agent's scheduled tasks.
const (
	taskPairingPoll   = "pairing-poll"
	taskConfigPoll    = "config-poll"
	taskSnapshotTimer = "snapshot-timer"
	taskCountdown     = "countdown"
	taskHealth        = "health"
	taskStatusRead    = "status-read"
)

// taskSet holds named cancellable goroutines.
//
// Starting a task cancels any running task with the same name first, so a
// name never has two live instances that both act on shared state. Cancel
// is not awaited (a task may re-arm itself); tasks check their context under
// the owning component's lock before writing state.
type taskSet struct {
	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*task
	seq    uint64
	closed bool
}

type task struct {
	id     uint64
	cancel context.CancelFunc
}

func newTaskSet(parent context.Context) *taskSet {
	root, stop := context.WithCancel(parent)
	return &taskSet{root: root, stop: stop, tasks: make(map[string]*task)}
}

// Start runs fn in a new goroutine under name, replacing any prior instance.
// It is a no-op once the set is closed.
func (s *taskSet) Start(name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if prev, ok := s.tasks[name]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(s.root)
	s.seq++
	t := &task{id: s.seq, cancel: cancel}
	s.tasks[name] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(name, t)
		fn(ctx)
	}()
}

// Stop cancels the named task if it is running.
func (s *taskSet) Stop(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		if t, ok := s.tasks[name]; ok {
			t.cancel()
			delete(s.tasks, name)
		}
	}
}

// Running reports whether a live instance of name exists.
func (s *taskSet) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Go runs fn under the set's root context without a name. It is tracked by
// Close like named tasks.
func (s *taskSet) Go(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.root)
	}()
}

// Context is the root context; it ends on Close.
func (s *taskSet) Context() context.Context { return s.root }

// Close cancels every task and waits for all goroutines to return.
func (s *taskSet) Close() {
	s.mu.Lock()
	s.closed = true
	for name, t := range s.tasks {
		t.cancel()
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
}

// release drops the registry entry of a finished task unless it was replaced.
func (s *taskSet) release(name string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.cancel()
	if cur, ok := s.tasks[name]; ok && cur.id == t.id {
		delete(s.tasks, name)
	}
}
