package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	watcher "github.com/goliatone/go-watcher"
	"github.com/goliatone/go-watcher/executor"
	"github.com/goliatone/go-watcher/lock"
	"github.com/goliatone/go-watcher/store"
)

// inlineExecutor runs tasks on the submitting goroutine.
type inlineExecutor struct {
	largest int
}

func (e *inlineExecutor) Execute(t executor.Task) error {
	e.largest = 1
	t.Run()
	return nil
}
func (e *inlineExecutor) DrainQueue() []executor.Task { return nil }
func (e *inlineExecutor) Tasks() []executor.Task      { return nil }
func (e *inlineExecutor) QueueSize() int              { return 0 }
func (e *inlineExecutor) LargestPoolSize() int        { return e.largest }

// rejectingExecutor refuses every task.
type rejectingExecutor struct{}

func (rejectingExecutor) Execute(executor.Task) error {
	return watcher.CloneError(watcher.ErrExecutorRejected, "queue full", nil, nil)
}
func (rejectingExecutor) DrainQueue() []executor.Task { return nil }
func (rejectingExecutor) Tasks() []executor.Task      { return nil }
func (rejectingExecutor) QueueSize() int              { return 0 }
func (rejectingExecutor) LargestPoolSize() int        { return 0 }

// holdingExecutor queues tasks until RunAll is called.
type holdingExecutor struct {
	mu    sync.Mutex
	tasks []executor.Task
}

func (e *holdingExecutor) Execute(t executor.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, t)
	return nil
}

func (e *holdingExecutor) DrainQueue() []executor.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	drained := e.tasks
	e.tasks = nil
	return drained
}

func (e *holdingExecutor) Tasks() []executor.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]executor.Task(nil), e.tasks...)
}

func (e *holdingExecutor) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

func (e *holdingExecutor) LargestPoolSize() int { return 0 }

func (e *holdingExecutor) RunAll() {
	for _, t := range e.DrainQueue() {
		t.Run()
	}
}

// flakyHistory fails writes while failing is set and counts forced writes.
type flakyHistory struct {
	*store.MemoryHistoryStore
	failing   atomic.Bool
	forcePuts atomic.Int32
}

func (h *flakyHistory) Put(ctx context.Context, r *watcher.WatchRecord) error {
	if h.failing.Load() {
		return errors.New("history unavailable")
	}
	return h.MemoryHistoryStore.Put(ctx, r)
}

func (h *flakyHistory) ForcePut(ctx context.Context, r *watcher.WatchRecord) error {
	h.forcePuts.Add(1)
	if h.failing.Load() {
		return errors.New("history unavailable")
	}
	return h.MemoryHistoryStore.ForcePut(ctx, r)
}

// countingWatchStore counts status updates.
type countingWatchStore struct {
	*store.MemoryWatchStore
	updates atomic.Int32
}

func (s *countingWatchStore) UpdateStatus(ctx context.Context, w *watcher.Watch) error {
	s.updates.Add(1)
	return s.MemoryWatchStore.UpdateStatus(ctx, w)
}

type fixture struct {
	service   *Service
	watches   *countingWatchStore
	history   *flakyHistory
	triggered *store.MemoryTriggeredWatchStore
	locks     *lock.Service
}

func newFixture(t *testing.T, exec WatchExecutor, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		watches:   &countingWatchStore{MemoryWatchStore: store.NewMemoryWatchStore()},
		history:   &flakyHistory{MemoryHistoryStore: store.NewMemoryHistoryStore()},
		triggered: store.NewMemoryTriggeredWatchStore(watcher.NopLogger{}),
		locks:     lock.NewService(),
	}
	opts = append([]Option{WithLogger(watcher.NopLogger{}), WithMaxStopTimeout(2 * time.Second)}, opts...)
	svc, err := NewService(Dependencies{
		Watches:   f.watches,
		History:   f.history,
		Triggered: f.triggered,
		Executor:  exec,
		Locks:     f.locks,
	}, opts...)
	require.NoError(t, err)
	f.service = svc
	return f
}

func waitGroupWithin(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("timed out after %s waiting for concurrent runs", timeout)
	}
}

func event(watchID string) watcher.TriggerEvent {
	now := time.Now()
	return watcher.NewTriggerEvent(watchID, now, now, nil)
}

func staticInput(payload watcher.Payload) watcher.Input {
	return watcher.InputFunc(func(context.Context, *watcher.ExecutionContext, watcher.Payload) watcher.InputResult {
		return watcher.InputResult{Status: watcher.StatusSuccess, Payload: payload}
	})
}

func countingAction(counter *atomic.Int32) watcher.Action {
	return watcher.ActionFunc(func(context.Context, *watcher.ExecutionContext) watcher.ActionResult {
		counter.Add(1)
		return watcher.ActionResult{Status: watcher.StatusSuccess}
	})
}

// gatedTriggeredStore persists async batches right away but holds the
// result until release is closed.
type gatedTriggeredStore struct {
	*store.MemoryTriggeredWatchStore
	stored  chan struct{}
	release chan struct{}
}

func newGatedTriggeredStore() *gatedTriggeredStore {
	return &gatedTriggeredStore{
		MemoryTriggeredWatchStore: store.NewMemoryTriggeredWatchStore(watcher.NopLogger{}),
		stored:                    make(chan struct{}),
		release:                   make(chan struct{}),
	}
}

func (s *gatedTriggeredStore) PutAllAsync(ctx context.Context, watches []watcher.TriggeredWatch) <-chan watcher.PutAllResult {
	out := make(chan watcher.PutAllResult, 1)
	go func() {
		defer close(out)
		slots, err := s.PutAll(ctx, watches)
		close(s.stored)
		<-s.release
		out <- watcher.PutAllResult{Slots: slots, Err: err}
	}()
	return out
}
