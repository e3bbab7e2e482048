// Package builtin provides the phase implementations available to watches
// declared in YAML.
package builtin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-errors"

	watcher "github.com/goliatone/go-watcher"
	"github.com/goliatone/go-watcher/config"
)

type (
	InputFactory     func(opts Options) (watcher.Input, error)
	ConditionFactory func(opts Options) (watcher.Condition, error)
	TransformFactory func(opts Options) (watcher.Transform, error)
	ActionFactory    func(opts Options) (watcher.Action, error)
)

// Registry maps phase type names to factories.
type Registry struct {
	mu         sync.RWMutex
	inputs     map[string]InputFactory
	conditions map[string]ConditionFactory
	transforms map[string]TransformFactory
	actions    map[string]ActionFactory
	logger     watcher.Logger
}

type RegistryOption func(*Registry)

// WithLogger sets the logger handed to the logging action.
func WithLogger(logger watcher.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns a registry preloaded with the builtin phases.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		inputs:     map[string]InputFactory{},
		conditions: map[string]ConditionFactory{},
		transforms: map[string]TransformFactory{},
		actions:    map[string]ActionFactory{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = watcher.NormalizeLogger(r.logger)

	r.RegisterInput(TypeSimple, newSimpleInput)
	r.RegisterCondition(TypeAlways, func(Options) (watcher.Condition, error) { return Always(), nil })
	r.RegisterCondition(TypeNever, func(Options) (watcher.Condition, error) { return Never(), nil })
	r.RegisterCondition(TypeCompare, newCompareCondition)
	r.RegisterTransform(TypeSet, newSetTransform)
	r.RegisterAction(TypeLogging, func(opts Options) (watcher.Action, error) {
		return newLoggingAction(opts, r.logger)
	})
	return r
}

func (r *Registry) RegisterInput(name string, factory InputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs[name] = factory
}

func (r *Registry) RegisterCondition(name string, factory ConditionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions[name] = factory
}

func (r *Registry) RegisterTransform(name string, factory TransformFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = factory
}

func (r *Registry) RegisterAction(name string, factory ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = factory
}

// Types lists registered type names per phase, sorted.
func (r *Registry) Types() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"input":     sortedKeys(r.inputs),
		"condition": sortedKeys(r.conditions),
		"transform": sortedKeys(r.transforms),
		"action":    sortedKeys(r.actions),
	}
}

// BuildWatch turns a definition into a runnable watch. A missing input or
// condition falls back to an empty payload and an always condition.
func (r *Registry) BuildWatch(def config.WatchDefinition) (*watcher.Watch, error) {
	throttle, throttleSet, err := def.Throttle()
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	watch := &watcher.Watch{
		ID:       def.ID,
		Metadata: def.Metadata,
		Status:   watcher.NewWatchStatus(def.IsActive()),
	}
	if throttleSet {
		watch.ThrottlePeriod = watcher.Throttle(throttle)
	}

	var errs error
	collect := func(err error) {
		if err != nil {
			errs = errors.Join(errs, err)
		}
	}

	if def.Input != nil {
		input, err := build(r.inputs, "input", def.ID, *def.Input)
		collect(err)
		watch.Input = input
	}

	if def.Condition != nil {
		condition, err := build(r.conditions, "condition", def.ID, *def.Condition)
		collect(err)
		watch.Condition = condition
	} else {
		watch.Condition = Always()
	}

	if def.Transform != nil {
		transform, err := build(r.transforms, "transform", def.ID, *def.Transform)
		collect(err)
		watch.Transform = transform
	}

	for _, action := range def.Actions {
		impl, err := build(r.actions, "action", def.ID, action.Phase())
		if err != nil {
			collect(err)
			continue
		}
		watch.Actions = append(watch.Actions, watcher.ActionWrapper{ID: action.ID, Action: impl})
	}

	if errs != nil {
		return nil, errs
	}
	return watch, nil
}

func build[T any, F ~func(Options) (T, error)](factories map[string]F, phase, watchID string, def config.PhaseDefinition) (T, error) {
	var zero T
	factory, ok := factories[def.Type]
	if !ok {
		return zero, watcher.CloneError(watcher.ErrInvalidConfig,
			fmt.Sprintf("watch [%s] uses unknown %s type %q", watchID, phase, def.Type), nil, map[string]any{
				"watch_id": watchID,
				"phase":    phase,
				"type":     def.Type,
			})
	}
	impl, err := factory(Options(def.Options))
	if err != nil {
		return zero, errors.Wrap(err, errors.CategoryValidation, fmt.Sprintf("watch [%s] %s %q", watchID, phase, def.Type)).
			WithTextCode(watcher.ErrCodeInvalidConfig)
	}
	return impl, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
