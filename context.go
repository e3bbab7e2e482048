package watcher

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// ExecutionContext carries one run through the pipeline. Phase mutators are
// called by the goroutine owning the run; readers may observe it concurrently.
type ExecutionContext struct {
	mu sync.RWMutex

	id                    Wid
	watch                 *Watch
	executionTime         time.Time
	triggerEvent          TriggerEvent
	defaultThrottlePeriod time.Duration
	nodeID                string
	knownWatch            bool
	recoveryRun           bool
	recordExecution       bool
	now                   func() time.Time

	phase           ExecutionPhase
	startTime       time.Time
	payload         Payload
	inputResult     *InputResult
	conditionResult *ConditionResult
	transformResult *TransformResult
	actionResults   []ActionResult
	record          *WatchRecord
}

type ContextOption func(*ExecutionContext)

// WithWid reuses an existing execution id, as replayed runs do.
func WithWid(id Wid) ContextOption {
	return func(c *ExecutionContext) {
		if !id.IsZero() {
			c.id = id
		}
	}
}

// WithRecoveryRun marks the run as replayed so history writes overwrite.
func WithRecoveryRun(enabled bool) ContextOption {
	return func(c *ExecutionContext) { c.recoveryRun = enabled }
}

func WithKnownWatch(known bool) ContextOption {
	return func(c *ExecutionContext) { c.knownWatch = known }
}

func WithRecordExecution(enabled bool) ContextOption {
	return func(c *ExecutionContext) { c.recordExecution = enabled }
}

func WithDefaultThrottlePeriod(period time.Duration) ContextOption {
	return func(c *ExecutionContext) { c.defaultThrottlePeriod = period }
}

func WithNodeID(nodeID string) ContextOption {
	return func(c *ExecutionContext) { c.nodeID = nodeID }
}

func WithClock(now func() time.Time) ContextOption {
	return func(c *ExecutionContext) {
		if now != nil {
			c.now = now
		}
	}
}

// NewExecutionContext creates a context in the awaiting phase.
func NewExecutionContext(watch *Watch, executionTime time.Time, event TriggerEvent, opts ...ContextOption) *ExecutionContext {
	c := &ExecutionContext{
		watch:           watch,
		executionTime:   executionTime,
		triggerEvent:    event,
		knownWatch:      true,
		recordExecution: true,
		now:             time.Now,
		phase:           PhaseAwaitingExecution,
		payload:         Payload{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.id.IsZero() {
		watchID := event.WatchID()
		if watch != nil {
			watchID = watch.ID
		}
		c.id = NewWid(watchID, executionTime)
	}
	return c
}

func (c *ExecutionContext) ID() Wid                  { return c.id }
func (c *ExecutionContext) ExecutionTime() time.Time { return c.executionTime }
func (c *ExecutionContext) TriggerEvent() TriggerEvent {
	return c.triggerEvent
}
func (c *ExecutionContext) KnownWatch() bool      { return c.knownWatch }
func (c *ExecutionContext) RecoveryRun() bool     { return c.recoveryRun }
func (c *ExecutionContext) RecordExecution() bool { return c.recordExecution }
func (c *ExecutionContext) NodeID() string        { return c.nodeID }

func (c *ExecutionContext) DefaultThrottlePeriod() time.Duration {
	return c.defaultThrottlePeriod
}

func (c *ExecutionContext) WatchID() string {
	return c.id.WatchID()
}

func (c *ExecutionContext) Watch() *Watch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watch
}

// RefreshWatch swaps in the latest stored watch before the pipeline runs.
func (c *ExecutionContext) RefreshWatch(watch *Watch) {
	if watch == nil {
		return
	}
	c.mu.Lock()
	c.watch = watch
	c.mu.Unlock()
}

// ThrottlePeriod returns the watch period when one is set, otherwise the
// engine default.
func (c *ExecutionContext) ThrottlePeriod() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.watch != nil && c.watch.ThrottlePeriod != nil {
		return *c.watch.ThrottlePeriod
	}
	return c.defaultThrottlePeriod
}

func (c *ExecutionContext) Phase() ExecutionPhase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

func (c *ExecutionContext) StartTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startTime
}

// Payload returns a copy of the current payload.
func (c *ExecutionContext) Payload() Payload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.payload.Clone()
}

func (c *ExecutionContext) InputResult() *InputResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneInputResult(c.inputResult)
}

func (c *ExecutionContext) ConditionResult() *ConditionResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneConditionResult(c.conditionResult)
}

func (c *ExecutionContext) TransformResult() *TransformResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneTransformResult(c.transformResult)
}

func (c *ExecutionContext) ActionResults() []ActionResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneActionResults(c.actionResults)
}

// Record returns the record produced when the context sealed, or nil.
func (c *ExecutionContext) Record() *WatchRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record
}

// Start stamps the start time. Later calls are ignored.
func (c *ExecutionContext) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startTime.IsZero() {
		c.startTime = c.now()
	}
}

func (c *ExecutionContext) BeforeInput() error     { return c.transition(PhaseInput) }
func (c *ExecutionContext) BeforeCondition() error { return c.transition(PhaseCondition) }
func (c *ExecutionContext) BeforeWatchTransform() error {
	return c.transition(PhaseWatchTransform)
}
func (c *ExecutionContext) BeforeActions() error { return c.transition(PhaseActions) }

func (c *ExecutionContext) OnInputResult(result InputResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputResult = cloneInputResult(&result)
	if result.Status == StatusSuccess {
		c.payload = result.Payload.Clone()
	}
}

func (c *ExecutionContext) OnConditionResult(result ConditionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conditionResult = cloneConditionResult(&result)
	if result.Status == StatusSuccess && c.watch != nil {
		c.watch.Status.OnCheck(result.Met, c.executionTime)
	}
}

func (c *ExecutionContext) OnWatchTransformResult(result TransformResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transformResult = cloneTransformResult(&result)
	if result.Status == StatusSuccess {
		c.payload = result.Payload.Clone()
	}
}

func (c *ExecutionContext) OnActionResult(result ActionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result.Details = maps.Clone(result.Details)
	c.actionResults = append(c.actionResults, result)
	if c.watch != nil {
		c.watch.Status.OnActionResult(result, c.executionTime)
	}
}

// Finish seals the context and builds the final record.
func (c *ExecutionContext) Finish() (*WatchRecord, error) {
	if err := c.transition(PhaseFinished); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = c.buildRecordLocked(c.finalStateLocked(), "")
	return c.record, nil
}

// AbortBeforeExecution seals a run that never entered the pipeline.
func (c *ExecutionContext) AbortBeforeExecution(state ExecutionState, message string) *WatchRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch state {
	case ExecutionStateNotExecutedWatchMissing:
		c.phase = PhaseAbortedWatchMissing
	case ExecutionStateFailed:
		c.phase = PhaseAbortedFailure
	default:
		c.phase = PhaseFinished
	}
	c.record = NewMessageRecord(c.id, c.triggerEvent, state, message, c.nodeID)
	c.record.ExecutionTime = c.executionTime
	return c.record
}

// AbortFailedExecution seals a run aborted by a failing phase. Results
// gathered so far are kept on the record.
func (c *ExecutionContext) AbortFailedExecution(message string) *WatchRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseAbortedFailure
	c.record = c.buildRecordLocked(ExecutionStateFailed, message)
	return c.record
}

// AbortWithError seals a run interrupted by an unexpected error.
func (c *ExecutionContext) AbortWithError(err error) *WatchRecord {
	message := "unexpected failure"
	if err != nil {
		message = err.Error()
	}
	record := c.AbortFailedExecution(message)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = record.WithException(err)
	return c.record
}

// Snapshot captures the observable state for monitoring.
func (c *ExecutionContext) Snapshot(goroutineID uint64) ExecutionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	executed := make([]string, 0, len(c.actionResults))
	for _, res := range c.actionResults {
		executed = append(executed, res.ID)
	}
	return ExecutionSnapshot{
		ID:              c.id,
		WatchID:         c.id.WatchID(),
		TriggeredTime:   c.triggerEvent.TriggeredTime,
		ExecutionTime:   c.executionTime,
		Phase:           c.phase,
		ExecutedActions: executed,
		GoroutineID:     goroutineID,
	}
}

func (c *ExecutionContext) transition(next ExecutionPhase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.phase.CanTransition(next) {
		return CloneError(ErrInvalidPhase, fmt.Sprintf("cannot move execution [%s] from [%s] to [%s]", c.id, c.phase, next), nil, map[string]any{
			"wid":  c.id.String(),
			"from": string(c.phase),
			"to":   string(next),
		})
	}
	c.phase = next
	return nil
}

func (c *ExecutionContext) finalStateLocked() ExecutionState {
	if c.conditionResult == nil || !c.conditionResult.Met {
		return ExecutionStateExecutionNotNeeded
	}
	if len(c.actionResults) == 0 {
		return ExecutionStateExecuted
	}
	for _, res := range c.actionResults {
		if res.Status != StatusThrottled {
			return ExecutionStateExecuted
		}
	}
	return ExecutionStateThrottled
}

func (c *ExecutionContext) buildRecordLocked(state ExecutionState, message string) *WatchRecord {
	record := &WatchRecord{
		ID:            c.id,
		WatchID:       c.id.WatchID(),
		NodeID:        c.nodeID,
		TriggerEvent:  c.triggerEvent,
		State:         state,
		Message:       message,
		ExecutionTime: c.executionTime,
		Input:         cloneInputResult(c.inputResult),
		Condition:     cloneConditionResult(c.conditionResult),
		Transform:     cloneTransformResult(c.transformResult),
		Actions:       cloneActionResults(c.actionResults),
	}
	if !c.startTime.IsZero() {
		record.Duration = c.now().Sub(c.startTime)
	}
	return record
}

// ExecutionSnapshot is a point in time view of an in-flight run.
type ExecutionSnapshot struct {
	ID              Wid            `json:"watch_record_id"`
	WatchID         string         `json:"watch_id"`
	TriggeredTime   time.Time      `json:"triggered_time"`
	ExecutionTime   time.Time      `json:"execution_time"`
	Phase           ExecutionPhase `json:"execution_phase"`
	ExecutedActions []string       `json:"executed_actions,omitempty"`
	GoroutineID     uint64         `json:"goroutine_id"`
}
