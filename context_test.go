package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, watch *Watch, opts ...ContextOption) *ExecutionContext {
	t.Helper()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	event := NewTriggerEvent(watch.ID, now, now, nil)
	return NewExecutionContext(watch, now, event, opts...)
}

func TestExecutionContextPhaseOrder(t *testing.T) {
	wctx := newTestContext(t, &Watch{ID: "w1", Status: NewWatchStatus(true)})
	assert.Equal(t, PhaseAwaitingExecution, wctx.Phase())

	require.Error(t, wctx.BeforeCondition())
	require.NoError(t, wctx.BeforeInput())
	wctx.OnInputResult(InputResult{Type: "simple", Status: StatusSuccess, Payload: Payload{"value": 3}})
	require.NoError(t, wctx.BeforeCondition())
	wctx.OnConditionResult(ConditionResult{Type: "always", Status: StatusSuccess, Met: true})
	require.NoError(t, wctx.BeforeWatchTransform())
	wctx.OnWatchTransformResult(TransformResult{Type: "set", Status: StatusSuccess, Payload: Payload{"value": 4}})
	require.NoError(t, wctx.BeforeActions())
	wctx.OnActionResult(ActionResult{ID: "a1", Type: "log", Status: StatusSuccess})

	record, err := wctx.Finish()
	require.NoError(t, err)
	assert.Equal(t, ExecutionStateExecuted, record.State)
	assert.Equal(t, PhaseFinished, wctx.Phase())
	assert.Equal(t, 4, record.Transform.Payload["value"])
	assert.Equal(t, 4, wctx.Payload()["value"])

	err = wctx.BeforeInput()
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidPhase))
}

func TestExecutionContextFinalState(t *testing.T) {
	t.Run("condition not met", func(t *testing.T) {
		wctx := newTestContext(t, &Watch{ID: "w1", Status: NewWatchStatus(true)})
		require.NoError(t, wctx.BeforeInput())
		require.NoError(t, wctx.BeforeCondition())
		wctx.OnConditionResult(ConditionResult{Status: StatusSuccess, Met: false})
		record, err := wctx.Finish()
		require.NoError(t, err)
		assert.Equal(t, ExecutionStateExecutionNotNeeded, record.State)
	})

	t.Run("all actions throttled", func(t *testing.T) {
		wctx := newTestContext(t, &Watch{ID: "w1", Status: NewWatchStatus(true)})
		require.NoError(t, wctx.BeforeInput())
		require.NoError(t, wctx.BeforeCondition())
		wctx.OnConditionResult(ConditionResult{Status: StatusSuccess, Met: true})
		require.NoError(t, wctx.BeforeActions())
		wctx.OnActionResult(ActionResult{ID: "a1", Status: StatusThrottled})
		wctx.OnActionResult(ActionResult{ID: "a2", Status: StatusThrottled})
		record, err := wctx.Finish()
		require.NoError(t, err)
		assert.Equal(t, ExecutionStateThrottled, record.State)
	})
}

func TestExecutionContextAborts(t *testing.T) {
	wctx := newTestContext(t, &Watch{ID: "w1"})
	record := wctx.AbortBeforeExecution(ExecutionStateNotExecutedWatchMissing, "gone")
	assert.Equal(t, PhaseAbortedWatchMissing, wctx.Phase())
	assert.True(t, wctx.Phase().Sealed())
	assert.Equal(t, "gone", record.Message)
	assert.Equal(t, "w1", record.WatchID)

	wctx = newTestContext(t, &Watch{ID: "w1"})
	require.NoError(t, wctx.BeforeInput())
	wctx.OnInputResult(InputResult{Status: StatusFailure, Reason: "down"})
	record = wctx.AbortFailedExecution("failed to execute watch input")
	assert.Equal(t, ExecutionStateFailed, record.State)
	assert.Equal(t, PhaseAbortedFailure, wctx.Phase())
	require.NotNil(t, record.Input)
	assert.Equal(t, "down", record.Input.Reason)

	wctx = newTestContext(t, &Watch{ID: "w1"})
	record = wctx.AbortWithError(errors.New("boom"))
	assert.Equal(t, ExecutionStateFailed, record.State)
	assert.Equal(t, "boom", record.Exception)
}

func TestExecutionContextOptions(t *testing.T) {
	wid := NewWid("w1", time.Now())
	wctx := newTestContext(t, &Watch{ID: "w1", ThrottlePeriod: Throttle(time.Minute)},
		WithWid(wid),
		WithRecoveryRun(true),
		WithRecordExecution(false),
		WithDefaultThrottlePeriod(5*time.Second),
		WithNodeID("node-a"),
	)
	assert.Equal(t, wid, wctx.ID())
	assert.True(t, wctx.RecoveryRun())
	assert.False(t, wctx.RecordExecution())
	assert.True(t, wctx.KnownWatch())
	assert.Equal(t, time.Minute, wctx.ThrottlePeriod())

	wctx.RefreshWatch(&Watch{ID: "w1"})
	assert.Equal(t, 5*time.Second, wctx.ThrottlePeriod())

	wctx.RefreshWatch(&Watch{ID: "w1", ThrottlePeriod: Throttle(0)})
	assert.Equal(t, time.Duration(0), wctx.ThrottlePeriod())
}

func TestZeroThrottlePeriodDisablesThrottling(t *testing.T) {
	status := NewWatchStatus(true)
	watch := &Watch{ID: "w1", Status: status, ThrottlePeriod: Throttle(0)}
	now := time.Now()
	status.OnActionResult(ActionResult{ID: "a", Status: StatusSuccess}, now.Add(-time.Second))

	wctx := NewExecutionContext(watch, now, NewTriggerEvent("w1", now, now, nil), WithDefaultThrottlePeriod(5*time.Second))
	var calls int
	wrapper := ActionWrapper{ID: "a", Action: ActionFunc(func(context.Context, *ExecutionContext) ActionResult {
		calls++
		return ActionResult{Status: StatusSuccess}
	})}

	result := wrapper.Execute(context.Background(), wctx)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, calls)
}

func TestActionWrapperThrottling(t *testing.T) {
	status := NewWatchStatus(true)
	watch := &Watch{ID: "w1", Status: status}
	calls := 0
	wrapper := ActionWrapper{ID: "notify", Action: ActionFunc(func(context.Context, *ExecutionContext) ActionResult {
		calls++
		return ActionResult{Status: StatusSuccess}
	})}

	wctx := newTestContext(t, watch, WithDefaultThrottlePeriod(time.Minute))
	result := wrapper.Execute(context.Background(), wctx)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "notify", result.ID)
	wctx.OnActionResult(result)

	next := NewExecutionContext(watch, wctx.ExecutionTime().Add(30*time.Second), wctx.TriggerEvent(), WithDefaultThrottlePeriod(time.Minute))
	result = wrapper.Execute(context.Background(), next)
	assert.Equal(t, StatusThrottled, result.Status)
	assert.Equal(t, 1, calls)

	later := NewExecutionContext(watch, wctx.ExecutionTime().Add(2*time.Minute), wctx.TriggerEvent(), WithDefaultThrottlePeriod(time.Minute))
	result = wrapper.Execute(context.Background(), later)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 2, calls)
}

func TestActionWrapperRecoversPanics(t *testing.T) {
	wrapper := ActionWrapper{ID: "bad", Action: ActionFunc(func(context.Context, *ExecutionContext) ActionResult {
		panic("kaboom")
	})}
	result := wrapper.Execute(context.Background(), newTestContext(t, &Watch{ID: "w1"}))
	assert.Equal(t, StatusFailure, result.Status)
	assert.Contains(t, result.Reason, "kaboom")
}

func TestSnapshotListsExecutedActions(t *testing.T) {
	wctx := newTestContext(t, &Watch{ID: "w1"})
	require.NoError(t, wctx.BeforeInput())
	require.NoError(t, wctx.BeforeCondition())
	wctx.OnConditionResult(ConditionResult{Status: StatusSuccess, Met: true})
	require.NoError(t, wctx.BeforeActions())
	wctx.OnActionResult(ActionResult{ID: "a1", Status: StatusSuccess})

	snap := wctx.Snapshot(7)
	assert.Equal(t, PhaseActions, snap.Phase)
	assert.Equal(t, []string{"a1"}, snap.ExecutedActions)
	assert.Equal(t, uint64(7), snap.GoroutineID)
}
