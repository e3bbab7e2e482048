// Package trigger fires watch trigger events on cron schedules.
package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	rcron "github.com/robfig/cron/v3"

	watcher "github.com/goliatone/go-watcher"
)

// Listener receives the events fired by the engine.
type Listener func(ctx context.Context, events []watcher.TriggerEvent)

// ScheduleEngine maps watch ids to cron schedules and emits a TriggerEvent
// each time a schedule fires.
type ScheduleEngine struct {
	mu       sync.Mutex
	cron     *rcron.Cron
	location *time.Location
	parser   Parser
	logger   watcher.Logger
	logLevel LogLevel
	listener Listener
	entries  map[string]rcron.EntryID
	ctx      context.Context
	now      func() time.Time
}

func NewScheduleEngine(listener Listener, opts ...Option) *ScheduleEngine {
	e := &ScheduleEngine{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		listener: listener,
		entries:  map[string]rcron.EntryID{},
		ctx:      context.Background(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = watcher.NormalizeLogger(e.logger)

	adapter := &loggerAdapter{logger: e.logger, level: e.logLevel}
	e.cron = rcron.New(
		rcron.WithLocation(e.location),
		rcron.WithParser(e.parser.build()),
		rcron.WithLogger(adapter),
		rcron.WithChain(rcron.Recover(adapter)),
	)
	return e
}

// Add schedules watchID, replacing any schedule it already had.
func (e *ScheduleEngine) Add(watchID, expression string) error {
	if watchID == "" {
		return watcher.CloneError(watcher.ErrInvalidConfig, "watch id required to schedule a trigger", nil, nil)
	}
	if expression == "" {
		return watcher.CloneError(watcher.ErrInvalidConfig, fmt.Sprintf("schedule of watch [%s] cannot be empty", watchID), nil, nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.cron.AddFunc(expression, func() { e.fire(watchID) })
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, fmt.Sprintf("invalid schedule %q for watch [%s]", expression, watchID)).
			WithTextCode(watcher.ErrCodeInvalidConfig)
	}
	if previous, ok := e.entries[watchID]; ok {
		e.cron.Remove(previous)
	}
	e.entries[watchID] = id
	return nil
}

// Remove unschedules watchID and reports whether it was scheduled.
func (e *ScheduleEngine) Remove(watchID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.entries[watchID]
	if ok {
		e.cron.Remove(id)
		delete(e.entries, watchID)
	}
	return ok
}

// Scheduled lists scheduled watch ids in sorted order.
func (e *ScheduleEngine) Scheduled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Next reports when watchID fires next. It is only meaningful once started.
func (e *ScheduleEngine) Next(watchID string) (time.Time, bool) {
	e.mu.Lock()
	id, ok := e.entries[watchID]
	e.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := e.cron.Entry(id)
	return entry.Next, entry.Valid()
}

// Start begins firing schedules. ctx is handed to the listener.
func (e *ScheduleEngine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()
	e.cron.Start()
	e.logger.Debug("started trigger engine with [%d] schedules", len(e.Scheduled()))
	return nil
}

// Stop halts the scheduler and waits for running listeners or ctx.
func (e *ScheduleEngine) Stop(ctx context.Context) error {
	done := e.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fire emits one event per watch id immediately, in a single batch.
func (e *ScheduleEngine) Fire(watchIDs ...string) {
	now := e.now()
	events := make([]watcher.TriggerEvent, 0, len(watchIDs))
	for _, id := range watchIDs {
		events = append(events, watcher.NewTriggerEvent(id, now, now, map[string]any{"manual": true}))
	}
	e.emit(events)
}

func (e *ScheduleEngine) fire(watchID string) {
	now := e.now().In(e.location)
	// cron fires on whole seconds
	scheduled := now.Truncate(time.Second)
	e.emit([]watcher.TriggerEvent{watcher.NewTriggerEvent(watchID, now, scheduled, nil)})
}

func (e *ScheduleEngine) emit(events []watcher.TriggerEvent) {
	if e.listener == nil || len(events) == 0 {
		return
	}
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	e.listener(ctx, events)
}
