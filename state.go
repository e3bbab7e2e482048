package watcher

// ExecutionState is the terminal outcome stored on a WatchRecord.
type ExecutionState string

const (
	ExecutionStateExecutionNotNeeded      ExecutionState = "execution_not_needed"
	ExecutionStateThrottled               ExecutionState = "throttled"
	ExecutionStateExecuted                ExecutionState = "executed"
	ExecutionStateFailed                  ExecutionState = "failed"
	ExecutionStateNotExecutedWatchMissing ExecutionState = "not_executed_watch_missing"
)

func (s ExecutionState) String() string { return string(s) }

// ExecutionPhase tracks where a run is inside the pipeline.
type ExecutionPhase string

const (
	PhaseAwaitingExecution   ExecutionPhase = "awaits_execution"
	PhaseInput               ExecutionPhase = "input"
	PhaseCondition           ExecutionPhase = "condition"
	PhaseWatchTransform      ExecutionPhase = "watch_transform"
	PhaseActions             ExecutionPhase = "actions"
	PhaseFinished            ExecutionPhase = "finished"
	PhaseAbortedWatchMissing ExecutionPhase = "aborted_watch_missing"
	PhaseAbortedFailure      ExecutionPhase = "aborted_failure"
)

func (p ExecutionPhase) String() string { return string(p) }

// Sealed reports whether the phase is terminal.
func (p ExecutionPhase) Sealed() bool {
	switch p {
	case PhaseFinished, PhaseAbortedWatchMissing, PhaseAbortedFailure:
		return true
	default:
		return false
	}
}

var phaseTransitions = map[ExecutionPhase][]ExecutionPhase{
	PhaseAwaitingExecution: {PhaseInput},
	PhaseInput:             {PhaseCondition},
	PhaseCondition:         {PhaseWatchTransform, PhaseActions, PhaseFinished},
	PhaseWatchTransform:    {PhaseActions},
	PhaseActions:           {PhaseFinished},
}

// CanTransition reports whether next may follow p in a run.
func (p ExecutionPhase) CanTransition(next ExecutionPhase) bool {
	if p.Sealed() {
		return false
	}
	if next == PhaseAbortedFailure || next == PhaseAbortedWatchMissing {
		return true
	}
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
