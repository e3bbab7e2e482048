package execution

import (
	"context"
	"time"

	watcher "github.com/goliatone/go-watcher"
)

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	// outcomeSkip ends the pipeline early and still finishes the run.
	outcomeSkip
	outcomeAbort
)

// outcome is what a pipeline step tells the driver to do next.
type outcome struct {
	kind    outcomeKind
	message string
}

func proceed() outcome             { return outcome{kind: outcomeContinue} }
func skip() outcome                { return outcome{kind: outcomeSkip} }
func abort(message string) outcome { return outcome{kind: outcomeAbort, message: message} }

type step func(ctx context.Context, wctx *watcher.ExecutionContext) outcome

func (s *Service) executeInner(ctx context.Context, wctx *watcher.ExecutionContext) *watcher.WatchRecord {
	wctx.Start()
	start := time.Now()

	steps := []step{s.inputStep, s.conditionStep, s.transformStep, s.actionsStep}
	for _, run := range steps {
		out := run(ctx, wctx)
		if out.kind == outcomeAbort {
			return wctx.AbortFailedExecution(out.message)
		}
		if out.kind == outcomeSkip {
			break
		}
	}

	record, err := wctx.Finish()
	if err != nil {
		return wctx.AbortFailedExecution(err.Error())
	}
	s.stats.recordExecution(time.Since(start))
	return record
}

func (s *Service) inputStep(ctx context.Context, wctx *watcher.ExecutionContext) outcome {
	if err := wctx.BeforeInput(); err != nil {
		return abort(err.Error())
	}
	input := wctx.Watch().Input
	result := watcher.InputResult{Type: "none", Status: watcher.StatusSuccess, Payload: wctx.Payload()}
	if input != nil {
		result = input.Execute(ctx, wctx, wctx.Payload())
		if result.Type == "" {
			result.Type = input.Type()
		}
	}
	wctx.OnInputResult(result)
	if result.Status == watcher.StatusFailure {
		s.logger.Error("failed to execute [%s] input for watch [%s], reason [%s]", result.Type, wctx.WatchID(), result.Reason)
		return abort("failed to execute watch input")
	}
	return proceed()
}

func (s *Service) conditionStep(ctx context.Context, wctx *watcher.ExecutionContext) outcome {
	if err := wctx.BeforeCondition(); err != nil {
		return abort(err.Error())
	}
	condition := wctx.Watch().Condition
	result := watcher.ConditionResult{Type: "always", Status: watcher.StatusSuccess, Met: true}
	if condition != nil {
		result = condition.Execute(ctx, wctx)
		if result.Type == "" {
			result.Type = condition.Type()
		}
	}
	wctx.OnConditionResult(result)
	if result.Status == watcher.StatusFailure {
		s.logger.Error("failed to execute [%s] condition for watch [%s], reason [%s]", result.Type, wctx.WatchID(), result.Reason)
		return abort("failed to execute watch condition")
	}
	if !result.Met {
		return skip()
	}
	return proceed()
}

func (s *Service) transformStep(ctx context.Context, wctx *watcher.ExecutionContext) outcome {
	watch := wctx.Watch()
	if len(watch.Actions) == 0 || watch.Transform == nil {
		return proceed()
	}
	if err := wctx.BeforeWatchTransform(); err != nil {
		return abort(err.Error())
	}
	result := watch.Transform.Execute(ctx, wctx, wctx.Payload())
	if result.Type == "" {
		result.Type = watch.Transform.Type()
	}
	wctx.OnWatchTransformResult(result)
	if result.Status == watcher.StatusFailure {
		s.logger.Error("failed to execute [%s] transform for watch [%s], reason [%s]", result.Type, wctx.WatchID(), result.Reason)
		return abort("failed to execute watch transform")
	}
	return proceed()
}

func (s *Service) actionsStep(ctx context.Context, wctx *watcher.ExecutionContext) outcome {
	actions := wctx.Watch().Actions
	if len(actions) == 0 {
		return proceed()
	}
	if err := wctx.BeforeActions(); err != nil {
		return abort(err.Error())
	}
	for _, action := range actions {
		start := time.Now()
		result := action.Execute(ctx, wctx)
		s.stats.recordAction(result.Type, time.Since(start))
		if result.Status == watcher.StatusFailure {
			s.logger.Warn("failed to execute action [%s/%s], reason [%s]", wctx.WatchID(), action.ID, result.Reason)
		}
		wctx.OnActionResult(result)
	}
	return proceed()
}
