package watcher

import (
	"context"
	"fmt"
	"time"
)

// ActionWrapper binds an action to its id and applies period throttling.
type ActionWrapper struct {
	ID     string
	Action Action
}

// Execute runs the wrapped action unless it ran successfully within the
// throttle period. A panicking action yields a failure result.
func (w ActionWrapper) Execute(ctx context.Context, wctx *ExecutionContext) (result ActionResult) {
	actionType := "unknown"
	if w.Action != nil {
		actionType = w.Action.Type()
	}

	if reason, throttled := w.throttled(wctx); throttled {
		return ActionResult{ID: w.ID, Type: actionType, Status: StatusThrottled, Reason: reason}
	}

	if w.Action == nil {
		return ActionResult{ID: w.ID, Type: actionType, Status: StatusFailure, Reason: "action is not configured"}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = ActionResult{
				ID:     w.ID,
				Type:   actionType,
				Status: StatusFailure,
				Reason: fmt.Sprintf("action panicked: %v", r),
			}
		}
		result.Duration = time.Since(start)
	}()

	result = w.Action.Execute(ctx, wctx)
	result.ID = w.ID
	if result.Type == "" {
		result.Type = actionType
	}
	if result.Status == "" {
		result.Status = StatusSuccess
	}
	return result
}

func (w ActionWrapper) throttled(wctx *ExecutionContext) (string, bool) {
	if wctx == nil {
		return "", false
	}
	period := wctx.ThrottlePeriod()
	if period <= 0 {
		return "", false
	}
	watch := wctx.Watch()
	if watch == nil {
		return "", false
	}
	status, ok := watch.Status.Action(w.ID)
	if !ok || status.LastSuccessfulExecution.IsZero() {
		return "", false
	}
	elapsed := wctx.ExecutionTime().Sub(status.LastSuccessfulExecution)
	if elapsed < period {
		return fmt.Sprintf("throttling interval is set to [%s] but time elapsed since last execution is [%s]", period, elapsed), true
	}
	return "", false
}
