// Package execution turns trigger events into serialized, recorded watch runs.
package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-errors"

	watcher "github.com/goliatone/go-watcher"
	"github.com/goliatone/go-watcher/executor"
	"github.com/goliatone/go-watcher/lock"
)

const (
	DefaultThrottlePeriod = 5 * time.Second
	DefaultMaxStopTimeout = 30 * time.Second
)

// WatchExecutor is the worker pool the service submits runs to.
type WatchExecutor interface {
	Execute(task executor.Task) error
	DrainQueue() []executor.Task
	Tasks() []executor.Task
	QueueSize() int
	LargestPoolSize() int
}

// Dependencies groups the collaborators the service cannot run without.
type Dependencies struct {
	Watches   watcher.WatchStore
	History   watcher.HistoryStore
	Triggered watcher.TriggeredWatchStore
	Executor  WatchExecutor
	Locks     *lock.Service
}

type Option func(*Service)

func WithLogger(logger watcher.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultThrottlePeriod sets the action throttle used by watches
// without their own period. Negative values fail NewService.
func WithDefaultThrottlePeriod(period time.Duration) Option {
	return func(s *Service) {
		s.defaultThrottlePeriod = period
	}
}

func WithMaxStopTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.maxStopTimeout = timeout
		}
	}
}

func WithNodeID(nodeID string) Option {
	return func(s *Service) {
		s.nodeID = nodeID
	}
}

type lifecycleState int32

const (
	stateStopped lifecycleState = iota
	stateStarting
	stateStarted
	stateStopping
)

// Service accepts trigger events, persists them as triggered watches, runs
// them on the executor under a per-watch lock and records the outcome.
type Service struct {
	watches   watcher.WatchStore
	history   watcher.HistoryStore
	triggered watcher.TriggeredWatchStore
	executor  WatchExecutor
	locks     *lock.Service
	logger    watcher.Logger
	now       func() time.Time

	defaultThrottlePeriod time.Duration
	maxStopTimeout        time.Duration
	nodeID                string

	lifecycleMu sync.Mutex
	state       atomic.Int32
	current     atomic.Pointer[CurrentExecutions]
	stats       *Stats
}

func NewService(deps Dependencies, opts ...Option) (*Service, error) {
	s := &Service{
		watches:               deps.Watches,
		history:               deps.History,
		triggered:             deps.Triggered,
		executor:              deps.Executor,
		locks:                 deps.Locks,
		now:                   time.Now,
		defaultThrottlePeriod: DefaultThrottlePeriod,
		maxStopTimeout:        DefaultMaxStopTimeout,
		stats:                 newStats(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = watcher.NormalizeLogger(s.logger)

	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.locks == nil {
		s.locks = lock.NewService()
	}
	s.current.Store(NewCurrentExecutions())
	return s, nil
}

func (s *Service) validate() error {
	var missing []string
	if s.watches == nil {
		missing = append(missing, "watch store")
	}
	if s.history == nil {
		missing = append(missing, "history store")
	}
	if s.triggered == nil {
		missing = append(missing, "triggered watch store")
	}
	if s.executor == nil {
		missing = append(missing, "executor")
	}
	if len(missing) > 0 {
		return watcher.CloneError(watcher.ErrInvalidConfig, fmt.Sprintf("execution service requires %v", missing), nil, map[string]any{
			"missing": missing,
		})
	}
	if s.defaultThrottlePeriod < 0 {
		return watcher.CloneError(watcher.ErrInvalidConfig, fmt.Sprintf("default throttle period must not be negative, got %s", s.defaultThrottlePeriod), nil, map[string]any{
			"default_throttle_period": s.defaultThrottlePeriod.String(),
		})
	}
	return nil
}

// Start brings up the stores and replays triggered watches left behind by
// a previous process. Starting a started service does nothing.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if lifecycleState(s.state.Load()) == stateStarted {
		return nil
	}
	s.state.Store(int32(stateStarting))
	s.logger.Debug("starting execution service")

	if queued := s.executor.QueueSize(); queued > 0 {
		s.logger.Warn("executor queue holds [%d] tasks from a previous run", queued)
	}

	if err := s.history.Start(ctx); err != nil {
		s.state.Store(int32(stateStopped))
		return errors.Wrap(err, errors.CategoryExternal, "start history store")
	}
	if err := s.triggered.Start(ctx); err != nil {
		_ = s.history.Stop(ctx)
		s.state.Store(int32(stateStopped))
		return errors.Wrap(err, errors.CategoryExternal, "start triggered watch store")
	}
	s.locks.Start()
	s.current.Store(NewCurrentExecutions())

	recovered, err := s.triggered.LoadTriggeredWatches(ctx)
	if err != nil {
		_ = s.triggered.Stop(ctx)
		_ = s.history.Stop(ctx)
		s.state.Store(int32(stateStopped))
		return errors.Wrap(err, errors.CategoryExternal, "load triggered watches")
	}
	s.ExecuteTriggeredWatches(ctx, recovered)

	s.state.Store(int32(stateStarted))
	s.logger.Debug("started execution service")
	return nil
}

// Validate reports whether both stores are usable.
func (s *Service) Validate(ctx context.Context) bool {
	return s.history.Validate(ctx) && s.triggered.Validate(ctx)
}

func (s *Service) Started() bool {
	return lifecycleState(s.state.Load()) == stateStarted
}

// Stop cancels queued runs, waits up to the stop timeout for in-flight
// runs and stops the stores. Cancelled runs stay in the triggered watch
// store and are replayed on the next start.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if lifecycleState(s.state.Load()) != stateStarted {
		return nil
	}
	s.state.Store(int32(stateStopping))
	s.logger.Debug("stopping execution service")

	cancelled := len(s.executor.DrainQueue())
	started := time.Now()
	if !s.current.Load().SealAndAwaitEmpty(s.maxStopTimeout) {
		s.logger.Warn("timed out after [%s] waiting for in-flight watch executions", s.maxStopTimeout)
	}
	remaining := s.maxStopTimeout - time.Since(started)
	if !s.locks.SealAndAwaitEmpty(remaining) {
		s.logger.Warn("watch locks still held after stop timeout")
	}

	var err error
	for _, stop := range []func(context.Context) error{s.triggered.Stop, s.history.Stop} {
		if stopErr := stop(ctx); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}
	s.state.Store(int32(stateStopped))
	s.logger.Debug("stopped execution service, cancelled [%d] queued tasks", cancelled)
	return err
}

// PauseExecution cancels queued runs and waits for in-flight runs without
// stopping the stores. It returns the number of cancelled runs.
func (s *Service) PauseExecution(ctx context.Context) int {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	cancelled := len(s.executor.DrainQueue())
	previous := s.current.Swap(NewCurrentExecutions())
	if !previous.SealAndAwaitEmpty(s.maxStopTimeout) {
		s.logger.WithContext(ctx).Warn("timed out after [%s] waiting for in-flight watch executions", s.maxStopTimeout)
	}
	s.logger.Debug("paused watch execution, cancelled [%d] queued tasks", cancelled)
	return cancelled
}

// ProcessEventsAsync persists the events as triggered watches in the
// background and submits every stored one to the executor.
func (s *Service) ProcessEventsAsync(ctx context.Context, events []watcher.TriggerEvent) error {
	if !s.Started() {
		return watcher.CloneError(watcher.ErrNotStarted, "not started, cannot process trigger events", nil, nil)
	}
	batch := s.prepare(ctx, events)
	if batch.empty() {
		return nil
	}

	results := s.triggered.PutAllAsync(context.WithoutCancel(ctx), batch.triggered)
	go func() {
		result, ok := <-results
		if !ok {
			return
		}
		if result.Err != nil {
			if watcher.IsRejected(result.Err) {
				s.logger.Debug("failed to store watch records due to overloaded threadpool: %v", result.Err)
			} else {
				s.logger.Warn("failed to store watch records: %v", result.Err)
			}
			return
		}
		// Stop does not wait for this goroutine. Stored entries are replayed
		// on the next start.
		if !s.Started() {
			s.logger.Debug("service stopped before [%d] triggered watches were submitted, leaving them stored", len(result.Slots))
			return
		}
		s.submitSlots(ctx, batch, result.Slots)
	}()
	return nil
}

// ProcessEventsSync persists the events as triggered watches before
// submitting them to the executor.
func (s *Service) ProcessEventsSync(ctx context.Context, events []watcher.TriggerEvent) error {
	if !s.Started() {
		return watcher.CloneError(watcher.ErrNotStarted, "not started, cannot process trigger events", nil, nil)
	}
	batch := s.prepare(ctx, events)
	if batch.empty() {
		return nil
	}
	slots, err := s.triggered.PutAll(ctx, batch.triggered)
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "store triggered watches")
	}
	s.submitSlots(ctx, batch, slots)
	return nil
}

type eventBatch struct {
	triggered []watcher.TriggeredWatch
	contexts  []*watcher.ExecutionContext
}

func (b eventBatch) empty() bool { return len(b.triggered) == 0 }

func (s *Service) prepare(ctx context.Context, events []watcher.TriggerEvent) eventBatch {
	var batch eventBatch
	now := s.now()
	for _, event := range events {
		watch, err := s.watches.Get(ctx, event.WatchID())
		if err != nil {
			s.logger.Warn("unable to load watch [%s] from the watch store: %v", event.WatchID(), err)
			continue
		}
		if watch == nil {
			s.logger.Warn("unable to find watch [%s] in the watch store, perhaps it has been deleted", event.WatchID())
			continue
		}
		wctx := watcher.NewExecutionContext(watch, now, event, s.contextOptions()...)
		batch.contexts = append(batch.contexts, wctx)
		batch.triggered = append(batch.triggered, watcher.TriggeredWatch{ID: wctx.ID(), TriggerEvent: event})
	}
	return batch
}

func (s *Service) submitSlots(ctx context.Context, batch eventBatch, slots []int) {
	for _, slot := range slots {
		if slot < 0 || slot >= len(batch.contexts) {
			continue
		}
		s.executeAsync(ctx, batch.contexts[slot], batch.triggered[slot])
	}
}

// ExecuteTriggeredWatches submits recovered triggered watches. Entries
// whose watch no longer exists are recorded as missing and deleted.
func (s *Service) ExecuteTriggeredWatches(ctx context.Context, triggered []watcher.TriggeredWatch) {
	submitted := 0
	for _, tw := range triggered {
		watch, err := s.watches.Get(ctx, tw.ID.WatchID())
		if err != nil {
			s.logger.Error("unable to load watch [%s] for triggered watch [%s]: %v", tw.ID.WatchID(), tw.ID, err)
			continue
		}
		if watch == nil {
			message := fmt.Sprintf("unable to find watch for record [%s]/[%s], perhaps it has been deleted, ignoring...", tw.ID.WatchID(), tw.ID)
			s.logger.Warn(message)
			record := watcher.NewMessageRecord(tw.ID, tw.TriggerEvent, watcher.ExecutionStateNotExecutedWatchMissing, message, s.nodeID)
			if err := s.history.ForcePut(ctx, record); err != nil {
				s.logger.Error("failed to persist watch record [%s]: %v", tw.ID, err)
			}
			s.deleteTriggeredWatch(ctx, tw.ID)
			continue
		}
		opts := append(s.contextOptions(), watcher.WithWid(tw.ID), watcher.WithRecoveryRun(true))
		wctx := watcher.NewExecutionContext(watch, s.now(), tw.TriggerEvent, opts...)
		s.executeAsync(ctx, wctx, tw)
		submitted++
	}
	s.logger.Debug("triggered execution of [%d] watches", submitted)
}

func (s *Service) executeAsync(ctx context.Context, wctx *watcher.ExecutionContext, tw watcher.TriggeredWatch) {
	ctx = context.WithoutCancel(ctx)
	err := s.executor.Execute(&task{service: s, ctx: ctx, wctx: wctx})
	if err == nil {
		return
	}
	message := fmt.Sprintf("failed to run triggered watch [%s] due to thread pool capacity", tw.ID)
	if !watcher.IsRejected(err) {
		message = fmt.Sprintf("failed to run triggered watch [%s]: %v", tw.ID, err)
	}
	s.logger.Debug(message)
	record := wctx.AbortBeforeExecution(watcher.ExecutionStateFailed, message)
	s.persistRecord(ctx, wctx, record)
	s.deleteTriggeredWatch(ctx, tw.ID)
}

// Execute runs wctx on the calling goroutine and returns its record. It
// never panics: failures become failed records.
func (s *Service) Execute(ctx context.Context, wctx *watcher.ExecutionContext) (record *watcher.WatchRecord) {
	watchID := wctx.WatchID()
	held, err := s.locks.Acquire(ctx, watchID)
	if err != nil {
		s.logger.Warn("unable to acquire lock for watch [%s], execution [%s] is left for replay: %v", watchID, wctx.ID(), err)
		return watcher.NewMessageRecord(wctx.ID(), wctx.TriggerEvent(), watcher.ExecutionStateFailed, err.Error(), s.nodeID)
	}
	s.logger.Trace("acquired lock for [%s]", wctx.ID())

	current := s.current.Load()
	defer func() {
		if wctx.KnownWatch() && record != nil && wctx.RecordExecution() {
			s.persistRecord(ctx, wctx, record)
		}
		s.deleteTriggeredWatch(ctx, wctx.ID())
		current.Remove(watchID)
		s.logger.Trace("releasing lock for [%s]", wctx.ID())
		held.Release()
	}()

	record, err = s.run(ctx, wctx, current)
	if err != nil {
		record = s.failureRecord(record, wctx, err)
		s.logger.Warn("failed to execute watch [%s]", watchID)
		s.logger.Debug("failed to execute watch [%s]: %v", watchID, err)
	}
	return record
}

func (s *Service) run(ctx context.Context, wctx *watcher.ExecutionContext, current *CurrentExecutions) (record *watcher.WatchRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = watcher.PanicError("execution.Service.run", r)
		}
	}()

	watchID := wctx.WatchID()
	if _, err := current.Put(watchID, WatchExecution{Context: wctx, GoroutineID: watcher.GetGoroutineID()}); err != nil {
		return nil, err
	}

	if wctx.KnownWatch() {
		fresh, err := s.watches.Get(ctx, watchID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			message := fmt.Sprintf("unable to find watch for record [%s], perhaps it has been deleted, ignoring...", wctx.ID())
			s.logger.Warn(message)
			return wctx.AbortBeforeExecution(watcher.ExecutionStateNotExecutedWatchMissing, message), nil
		}
		wctx.RefreshWatch(fresh)
	}

	if !wctx.Watch().Active() {
		s.logger.Debug("not executing watch [%s] because it is marked as inactive", watchID)
		return wctx.AbortBeforeExecution(watcher.ExecutionStateExecutionNotNeeded, "watch is not active"), nil
	}

	s.logger.Debug("executing watch [%s]", watchID)
	record = s.executeInner(ctx, wctx)
	if wctx.RecordExecution() {
		if err := s.watches.UpdateStatus(ctx, wctx.Watch()); err != nil {
			return record, err
		}
	}
	return record, nil
}

// failureRecord extends the record a sealed context already produced, or
// aborts the context when the failure interrupted the pipeline.
func (s *Service) failureRecord(existing *watcher.WatchRecord, wctx *watcher.ExecutionContext, err error) *watcher.WatchRecord {
	if wctx.Phase().Sealed() {
		if existing == nil {
			existing = wctx.Record()
		}
		if existing == nil {
			existing = watcher.NewMessageRecord(wctx.ID(), wctx.TriggerEvent(), watcher.ExecutionStateFailed, "", s.nodeID)
		}
		return existing.WithException(err)
	}
	return wctx.AbortWithError(err)
}

func (s *Service) persistRecord(ctx context.Context, wctx *watcher.ExecutionContext, record *watcher.WatchRecord) {
	var err error
	if wctx.RecoveryRun() {
		err = s.history.ForcePut(ctx, record)
	} else {
		err = s.history.Put(ctx, record)
	}
	if err != nil {
		s.logger.Error("failed to persist watch record [%s]: %v", record.ID, err)
	}
}

func (s *Service) deleteTriggeredWatch(ctx context.Context, id watcher.Wid) {
	if err := s.triggered.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete triggered watch [%s]: %v", id, err)
	}
}

func (s *Service) contextOptions() []watcher.ContextOption {
	return []watcher.ContextOption{
		watcher.WithDefaultThrottlePeriod(s.defaultThrottlePeriod),
		watcher.WithNodeID(s.nodeID),
		watcher.WithClock(s.now),
	}
}

// CurrentExecutions lists in-flight runs ordered by execution time.
func (s *Service) CurrentExecutions() []watcher.ExecutionSnapshot {
	return s.current.Load().Snapshots()
}

// QueuedWatches lists runs waiting in the executor ordered by execution time.
func (s *Service) QueuedWatches() []watcher.QueuedWatch {
	tasks := s.executor.Tasks()
	out := make([]watcher.QueuedWatch, 0, len(tasks))
	for _, t := range tasks {
		et, ok := t.(*task)
		if !ok {
			continue
		}
		out = append(out, watcher.QueuedWatch{
			WatchID:       et.wctx.WatchID(),
			ID:            et.wctx.ID(),
			TriggeredTime: et.wctx.TriggerEvent().TriggeredTime,
			ExecutionTime: et.wctx.ExecutionTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutionTime.Before(out[j].ExecutionTime)
	})
	return out
}

func (s *Service) UsageStats() map[string]any {
	return s.stats.Usage()
}

func (s *Service) DefaultThrottlePeriod() time.Duration {
	return s.defaultThrottlePeriod
}

func (s *Service) QueueSize() int {
	return s.executor.QueueSize()
}

func (s *Service) LargestPoolSize() int {
	return s.executor.LargestPoolSize()
}

// task is the executor unit wrapping one context.
type task struct {
	service *Service
	ctx     context.Context
	wctx    *watcher.ExecutionContext
}

func (t *task) Run() {
	t.service.Execute(t.ctx, t.wctx)
}
