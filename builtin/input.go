package builtin

import (
	"context"
	"maps"

	watcher "github.com/goliatone/go-watcher"
)

const TypeSimple = "simple"

// SimpleInput returns a fixed payload.
type SimpleInput struct {
	Payload watcher.Payload
}

func (i SimpleInput) Type() string { return TypeSimple }

func (i SimpleInput) Execute(_ context.Context, _ *watcher.ExecutionContext, payload watcher.Payload) watcher.InputResult {
	out := payload.Clone()
	maps.Copy(out, i.Payload)
	return watcher.InputResult{Type: TypeSimple, Status: watcher.StatusSuccess, Payload: out}
}

func newSimpleInput(opts Options) (watcher.Input, error) {
	payload, err := opts.Map("payload")
	if err != nil {
		return nil, err
	}
	return SimpleInput{Payload: watcher.Payload(payload)}, nil
}
