package builtin

import (
	"context"
	"maps"

	watcher "github.com/goliatone/go-watcher"
)

const TypeSet = "set"

// SetTransform overlays Values on the payload. With Replace the incoming
// payload is dropped.
type SetTransform struct {
	Values  map[string]any
	Replace bool
}

func (t SetTransform) Type() string { return TypeSet }

func (t SetTransform) Execute(_ context.Context, _ *watcher.ExecutionContext, payload watcher.Payload) watcher.TransformResult {
	out := watcher.Payload{}
	if !t.Replace {
		out = payload.Clone()
	}
	maps.Copy(out, t.Values)
	return watcher.TransformResult{Type: TypeSet, Status: watcher.StatusSuccess, Payload: out}
}

func newSetTransform(opts Options) (watcher.Transform, error) {
	values, err := opts.Map("values")
	if err != nil {
		return nil, err
	}
	replace, _ := opts["replace"].(bool)
	return SetTransform{Values: values, Replace: replace}, nil
}
