package watcher

import (
	"maps"
	"time"
)

// WatchRecord is the immutable history entry describing one run.
type WatchRecord struct {
	ID            Wid              `json:"id"`
	WatchID       string           `json:"watch_id"`
	NodeID        string           `json:"node_id,omitempty"`
	TriggerEvent  TriggerEvent     `json:"trigger_event"`
	State         ExecutionState   `json:"state"`
	Message       string           `json:"message,omitempty"`
	ExecutionTime time.Time        `json:"execution_time,omitempty"`
	Duration      time.Duration    `json:"duration,omitempty"`
	Input         *InputResult     `json:"input,omitempty"`
	Condition     *ConditionResult `json:"condition,omitempty"`
	Transform     *TransformResult `json:"transform,omitempty"`
	Actions       []ActionResult   `json:"actions,omitempty"`
	Exception     string           `json:"exception,omitempty"`
}

// NewMessageRecord builds a record for runs that never reached the pipeline.
func NewMessageRecord(id Wid, event TriggerEvent, state ExecutionState, message, nodeID string) *WatchRecord {
	return &WatchRecord{
		ID:           id,
		WatchID:      id.WatchID(),
		NodeID:       nodeID,
		TriggerEvent: event,
		State:        state,
		Message:      message,
	}
}

// WithException returns a failed copy of r carrying err.
func (r *WatchRecord) WithException(err error) *WatchRecord {
	cp := r.Clone()
	cp.State = ExecutionStateFailed
	if err != nil {
		cp.Exception = err.Error()
		if cp.Message == "" {
			cp.Message = err.Error()
		}
	}
	return cp
}

// Clone deep copies the record results.
func (r *WatchRecord) Clone() *WatchRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.TriggerEvent.Data = maps.Clone(r.TriggerEvent.Data)
	cp.Input = cloneInputResult(r.Input)
	cp.Condition = cloneConditionResult(r.Condition)
	cp.Transform = cloneTransformResult(r.Transform)
	cp.Actions = cloneActionResults(r.Actions)
	return &cp
}

func cloneInputResult(in *InputResult) *InputResult {
	if in == nil {
		return nil
	}
	cp := *in
	cp.Payload = maps.Clone(in.Payload)
	return &cp
}

func cloneConditionResult(in *ConditionResult) *ConditionResult {
	if in == nil {
		return nil
	}
	cp := *in
	return &cp
}

func cloneTransformResult(in *TransformResult) *TransformResult {
	if in == nil {
		return nil
	}
	cp := *in
	cp.Payload = maps.Clone(in.Payload)
	return &cp
}

func cloneActionResults(in []ActionResult) []ActionResult {
	if len(in) == 0 {
		return nil
	}
	out := make([]ActionResult, len(in))
	for i, res := range in {
		res.Details = maps.Clone(res.Details)
		out[i] = res
	}
	return out
}
