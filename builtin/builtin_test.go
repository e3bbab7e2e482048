package builtin

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watcher "github.com/goliatone/go-watcher"
	"github.com/goliatone/go-watcher/config"
)

func newContext(t *testing.T, watch *watcher.Watch, payload watcher.Payload) *watcher.ExecutionContext {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	wctx := watcher.NewExecutionContext(watch, now, watcher.NewTriggerEvent(watch.ID, now, now, nil))
	wctx.Start()
	require.NoError(t, wctx.BeforeInput())
	wctx.OnInputResult(watcher.InputResult{Type: "test", Status: watcher.StatusSuccess, Payload: payload})
	return wctx
}

func TestSimpleInputMergesPayload(t *testing.T) {
	input, err := newSimpleInput(Options{"payload": map[string]any{"a": 1}})
	require.NoError(t, err)

	result := input.Execute(context.Background(), nil, watcher.Payload{"b": 2})
	assert.Equal(t, watcher.StatusSuccess, result.Status)
	assert.Equal(t, watcher.Payload{"a": 1, "b": 2}, result.Payload)

	_, err = newSimpleInput(Options{"payload": "nope"})
	assert.Error(t, err)
}

func TestCompareCondition(t *testing.T) {
	watch := &watcher.Watch{ID: "w"}
	payload := watcher.Payload{
		"disk": map[string]any{"used": 91, "name": "sda"},
		"ok":   true,
	}

	tests := []struct {
		name   string
		opts   Options
		met    bool
		status watcher.Status
	}{
		{"gt met", Options{"path": "disk.used", "op": "gt", "value": 90}, true, watcher.StatusSuccess},
		{"gt unmet", Options{"path": "disk.used", "op": "gt", "value": 95}, false, watcher.StatusSuccess},
		{"gte float", Options{"path": "disk.used", "op": "gte", "value": 91.0}, true, watcher.StatusSuccess},
		{"lt", Options{"path": "disk.used", "op": "lt", "value": "100"}, true, watcher.StatusSuccess},
		{"lte", Options{"path": "disk.used", "op": "lte", "value": 90}, false, watcher.StatusSuccess},
		{"eq default op", Options{"path": "disk.name", "value": "sda"}, true, watcher.StatusSuccess},
		{"not_eq", Options{"path": "ok", "op": "not_eq", "value": false}, true, watcher.StatusSuccess},
		{"string order", Options{"path": "disk.name", "op": "gt", "value": "sdb"}, false, watcher.StatusSuccess},
		{"missing path", Options{"path": "disk.free", "op": "gt", "value": 1}, false, watcher.StatusFailure},
		{"unorderable", Options{"path": "ok", "op": "gt", "value": 1}, false, watcher.StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := newCompareCondition(tt.opts)
			require.NoError(t, err)

			result := cond.Execute(context.Background(), newContext(t, watch, payload))
			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, tt.met, result.Met)
			assert.Equal(t, TypeCompare, result.Type)
		})
	}
}

func TestCompareConditionOptions(t *testing.T) {
	_, err := newCompareCondition(Options{"op": "gt", "value": 1})
	assert.Error(t, err)

	_, err = newCompareCondition(Options{"path": "a", "op": "between", "value": 1})
	assert.Error(t, err)

	_, err = newCompareCondition(Options{"path": "a"})
	assert.Error(t, err)
}

func TestStaticConditions(t *testing.T) {
	assert.True(t, Always().Execute(context.Background(), nil).Met)
	assert.False(t, Never().Execute(context.Background(), nil).Met)
	assert.Equal(t, TypeNever, Never().Type())
}

func TestSetTransform(t *testing.T) {
	tr, err := newSetTransform(Options{"values": map[string]any{"level": "high"}})
	require.NoError(t, err)
	result := tr.Execute(context.Background(), nil, watcher.Payload{"used": 91})
	assert.Equal(t, watcher.Payload{"used": 91, "level": "high"}, result.Payload)

	tr, err = newSetTransform(Options{"values": map[string]any{"level": "high"}, "replace": true})
	require.NoError(t, err)
	result = tr.Execute(context.Background(), nil, watcher.Payload{"used": 91})
	assert.Equal(t, watcher.Payload{"level": "high"}, result.Payload)
}

func TestLoggingAction(t *testing.T) {
	var buf bytes.Buffer
	action, err := newLoggingAction(Options{"text": "disk {{ .watch_id }} at {{ .payload.used }}%", "level": "warn"}, watcher.NewFmtLogger(&buf))
	require.NoError(t, err)

	watch := &watcher.Watch{ID: "disk"}
	result := action.Execute(context.Background(), newContext(t, watch, watcher.Payload{"used": 91}))

	assert.Equal(t, watcher.StatusSuccess, result.Status)
	assert.Equal(t, "disk disk at 91%", result.Details["message"])
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "disk disk at 91%")
	assert.Contains(t, buf.String(), "watch_id=disk")
}

func TestLoggingActionOptions(t *testing.T) {
	_, err := newLoggingAction(Options{}, nil)
	assert.Error(t, err)

	_, err = newLoggingAction(Options{"text": "{{ .broken"}, nil)
	assert.Error(t, err)

	_, err = newLoggingAction(Options{"text": "hi", "level": "loud"}, nil)
	assert.Error(t, err)
}

func TestBuildWatch(t *testing.T) {
	file, err := config.ParseWatchFile([]byte(`
watches:
  - id: disk
    schedule: "@every 1s"
    throttle_period: 30s
    input:
      type: simple
      payload: {used: 91}
    condition:
      type: compare
      path: used
      op: gt
      value: 90
    transform:
      type: set
      values: {level: high}
    actions:
      - id: log
        type: logging
        text: "{{ .payload.level }}"
  - id: bare
    active: false
`))
	require.NoError(t, err)

	registry := NewRegistry(WithLogger(watcher.NopLogger{}))

	disk, err := registry.BuildWatch(file.Watches[0])
	require.NoError(t, err)
	assert.Equal(t, "disk", disk.ID)
	require.NotNil(t, disk.ThrottlePeriod)
	assert.Equal(t, 30*time.Second, *disk.ThrottlePeriod)
	assert.Equal(t, TypeSimple, disk.Input.Type())
	assert.Equal(t, TypeCompare, disk.Condition.Type())
	assert.Equal(t, TypeSet, disk.Transform.Type())
	require.Len(t, disk.Actions, 1)
	assert.Equal(t, "log", disk.Actions[0].ID)
	assert.True(t, disk.Active())

	bare, err := registry.BuildWatch(file.Watches[1])
	require.NoError(t, err)
	assert.Nil(t, bare.Input)
	assert.Nil(t, bare.ThrottlePeriod)
	assert.Equal(t, TypeAlways, bare.Condition.Type())
	assert.False(t, bare.Active())
}

func TestBuildWatchUnknownTypes(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.BuildWatch(config.WatchDefinition{
		ID:        "w",
		Condition: &config.PhaseDefinition{Type: "sometimes"},
		Actions:   []config.ActionDefinition{{ID: "a", Type: "email"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sometimes")
}

func TestRegistryCustomFactory(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterAction("noop", func(Options) (watcher.Action, error) {
		return watcher.ActionFunc(func(context.Context, *watcher.ExecutionContext) watcher.ActionResult {
			return watcher.ActionResult{Status: watcher.StatusSuccess}
		}), nil
	})

	assert.Contains(t, registry.Types()["action"], "noop")
	assert.Equal(t, []string{TypeAlways, TypeCompare, TypeNever}, registry.Types()["condition"])

	watch, err := registry.BuildWatch(config.WatchDefinition{
		ID:      "w",
		Actions: []config.ActionDefinition{{ID: "a", Type: "noop"}},
	})
	require.NoError(t, err)
	assert.Len(t, watch.Actions, 1)
}

func TestBuildWatchKeepsExplicitZeroThrottle(t *testing.T) {
	watch, err := NewRegistry().BuildWatch(config.WatchDefinition{ID: "eager", ThrottlePeriod: "0s"})
	require.NoError(t, err)
	require.NotNil(t, watch.ThrottlePeriod)
	assert.Zero(t, *watch.ThrottlePeriod)

	now := time.Now()
	wctx := watcher.NewExecutionContext(watch, now, watcher.NewTriggerEvent("eager", now, now, nil),
		watcher.WithDefaultThrottlePeriod(5*time.Second))
	assert.Zero(t, wctx.ThrottlePeriod())
}
