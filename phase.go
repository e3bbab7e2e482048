package watcher

import (
	"context"
	"maps"
	"time"
)

// Payload is the data flowing from input through transform into actions.
type Payload map[string]any

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	return maps.Clone(p)
}

// Status is the outcome reported by a single phase.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusThrottled Status = "throttled"
)

type InputResult struct {
	Type    string  `json:"type"`
	Status  Status  `json:"status"`
	Payload Payload `json:"payload,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

type ConditionResult struct {
	Type   string `json:"type"`
	Status Status `json:"status"`
	Met    bool   `json:"met"`
	Reason string `json:"reason,omitempty"`
}

type TransformResult struct {
	Type    string  `json:"type"`
	Status  Status  `json:"status"`
	Payload Payload `json:"payload,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

type ActionResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Status   Status         `json:"status"`
	Details  map[string]any `json:"details,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// Input produces the initial payload of a run.
type Input interface {
	Type() string
	Execute(ctx context.Context, wctx *ExecutionContext, payload Payload) InputResult
}

// Condition decides whether the actions should run. It reads wctx.Payload().
type Condition interface {
	Type() string
	Execute(ctx context.Context, wctx *ExecutionContext) ConditionResult
}

// Transform reshapes the payload handed to actions.
type Transform interface {
	Type() string
	Execute(ctx context.Context, wctx *ExecutionContext, payload Payload) TransformResult
}

// Action performs a side effect. It reads wctx.Payload().
type Action interface {
	Type() string
	Execute(ctx context.Context, wctx *ExecutionContext) ActionResult
}

type InputFunc func(ctx context.Context, wctx *ExecutionContext, payload Payload) InputResult

func (f InputFunc) Type() string { return "func" }
func (f InputFunc) Execute(ctx context.Context, wctx *ExecutionContext, payload Payload) InputResult {
	return f(ctx, wctx, payload)
}

type ConditionFunc func(ctx context.Context, wctx *ExecutionContext) ConditionResult

func (f ConditionFunc) Type() string { return "func" }
func (f ConditionFunc) Execute(ctx context.Context, wctx *ExecutionContext) ConditionResult {
	return f(ctx, wctx)
}

type TransformFunc func(ctx context.Context, wctx *ExecutionContext, payload Payload) TransformResult

func (f TransformFunc) Type() string { return "func" }
func (f TransformFunc) Execute(ctx context.Context, wctx *ExecutionContext, payload Payload) TransformResult {
	return f(ctx, wctx, payload)
}

type ActionFunc func(ctx context.Context, wctx *ExecutionContext) ActionResult

func (f ActionFunc) Type() string { return "func" }
func (f ActionFunc) Execute(ctx context.Context, wctx *ExecutionContext) ActionResult {
	return f(ctx, wctx)
}
