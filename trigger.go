package watcher

import (
	"maps"
	"time"
)

// TriggerEvent is an immutable notification that a watch should run.
type TriggerEvent struct {
	JobName       string         `json:"job_name"`
	TriggeredTime time.Time      `json:"triggered_time"`
	ScheduledTime time.Time      `json:"scheduled_time,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// NewTriggerEvent copies data so later mutation of the caller's map is not observed.
func NewTriggerEvent(watchID string, triggered, scheduled time.Time, data map[string]any) TriggerEvent {
	return TriggerEvent{
		JobName:       watchID,
		TriggeredTime: triggered,
		ScheduledTime: scheduled,
		Data:          maps.Clone(data),
	}
}

// WatchID is the id of the watch the event targets.
func (e TriggerEvent) WatchID() string { return e.JobName }

// TriggeredWatch is the durable record that an execution is owed.
type TriggeredWatch struct {
	ID           Wid          `json:"id"`
	TriggerEvent TriggerEvent `json:"trigger_event"`
}

// QueuedWatch describes an execution waiting in the executor queue.
type QueuedWatch struct {
	WatchID       string    `json:"watch_id"`
	ID            Wid       `json:"watch_record_id"`
	TriggeredTime time.Time `json:"triggered_time"`
	ExecutionTime time.Time `json:"execution_time"`
}
