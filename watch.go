package watcher

import (
	"maps"
	"time"
)

// Watch is a user-defined rule: input, condition, optional transform and actions.
type Watch struct {
	ID        string
	Input     Input
	Condition Condition
	Transform Transform
	Actions   []ActionWrapper
	// ThrottlePeriod overrides the engine default when set. Zero disables
	// throttling for this watch.
	ThrottlePeriod *time.Duration
	Metadata       map[string]any
	Status         *WatchStatus
}

// Throttle returns a period suitable for Watch.ThrottlePeriod.
func Throttle(period time.Duration) *time.Duration {
	return &period
}

// Active reports whether the watch should run when triggered.
func (w *Watch) Active() bool {
	if w == nil || w.Status == nil {
		return true
	}
	return w.Status.Active
}

// Clone copies the watch so status changes on the copy do not leak.
// Phase implementations are shared.
func (w *Watch) Clone() *Watch {
	if w == nil {
		return nil
	}
	cp := *w
	cp.Actions = append([]ActionWrapper(nil), w.Actions...)
	cp.Metadata = maps.Clone(w.Metadata)
	cp.Status = w.Status.Clone()
	return &cp
}

// WatchStatus is the mutable, persisted state of a watch.
type WatchStatus struct {
	Version          int64                    `json:"version"`
	Active           bool                     `json:"active"`
	LastChecked      time.Time                `json:"last_checked,omitempty"`
	LastMetCondition time.Time                `json:"last_met_condition,omitempty"`
	Actions          map[string]*ActionStatus `json:"actions,omitempty"`
}

type ActionStatus struct {
	LastExecution           time.Time `json:"last_execution,omitempty"`
	LastExecutionSuccessful bool      `json:"last_execution_successful"`
	LastExecutionReason     string    `json:"last_execution_reason,omitempty"`
	LastSuccessfulExecution time.Time `json:"last_successful_execution,omitempty"`
	LastThrottle            time.Time `json:"last_throttle,omitempty"`
	LastThrottleReason      string    `json:"last_throttle_reason,omitempty"`
}

func NewWatchStatus(active bool) *WatchStatus {
	return &WatchStatus{Active: active, Actions: map[string]*ActionStatus{}}
}

func (s *WatchStatus) Clone() *WatchStatus {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Actions = make(map[string]*ActionStatus, len(s.Actions))
	for id, status := range s.Actions {
		if status == nil {
			continue
		}
		st := *status
		cp.Actions[id] = &st
	}
	return &cp
}

// OnCheck records a condition evaluation.
func (s *WatchStatus) OnCheck(met bool, at time.Time) {
	if s == nil {
		return
	}
	s.LastChecked = at
	if met {
		s.LastMetCondition = at
	}
}

// OnActionResult folds an action outcome into the per-action status.
func (s *WatchStatus) OnActionResult(result ActionResult, at time.Time) {
	if s == nil || result.ID == "" {
		return
	}
	if s.Actions == nil {
		s.Actions = map[string]*ActionStatus{}
	}
	status := s.Actions[result.ID]
	if status == nil {
		status = &ActionStatus{}
		s.Actions[result.ID] = status
	}
	switch result.Status {
	case StatusThrottled:
		status.LastThrottle = at
		status.LastThrottleReason = result.Reason
	case StatusSuccess:
		status.LastExecution = at
		status.LastExecutionSuccessful = true
		status.LastExecutionReason = ""
		status.LastSuccessfulExecution = at
	default:
		status.LastExecution = at
		status.LastExecutionSuccessful = false
		status.LastExecutionReason = result.Reason
	}
}

// Action returns a copy of the status of action id.
func (s *WatchStatus) Action(id string) (ActionStatus, bool) {
	if s == nil || s.Actions[id] == nil {
		return ActionStatus{}, false
	}
	return *s.Actions[id], true
}
