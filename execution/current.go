package execution

import (
	"fmt"
	"sort"
	"sync"
	"time"

	watcher "github.com/goliatone/go-watcher"
)

// WatchExecution is an in-flight run and the goroutine executing it.
type WatchExecution struct {
	Context     *watcher.ExecutionContext
	GoroutineID uint64
}

// CurrentExecutions tracks in-flight runs keyed by watch id. Once sealed it
// refuses inserts and lets callers wait for the remaining runs to leave.
type CurrentExecutions struct {
	mu         sync.Mutex
	executions map[string]WatchExecution
	sealed     bool
	drained    chan struct{}
}

func NewCurrentExecutions() *CurrentExecutions {
	return &CurrentExecutions{executions: map[string]WatchExecution{}}
}

// Put registers exec under watchID. It reports whether an entry was replaced.
func (c *CurrentExecutions) Put(watchID string, exec WatchExecution) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return false, watcher.CloneError(watcher.ErrRegistrySealed, fmt.Sprintf("cannot register execution of watch [%s], registry is sealed", watchID), nil, map[string]any{
			"watch_id": watchID,
		})
	}
	_, existed := c.executions[watchID]
	c.executions[watchID] = exec
	return existed, nil
}

func (c *CurrentExecutions) Remove(watchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.executions, watchID)
	if c.sealed && len(c.executions) == 0 {
		c.closeDrainedLocked()
	}
}

func (c *CurrentExecutions) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.executions)
}

// Snapshots returns one snapshot per in-flight run ordered by execution time.
func (c *CurrentExecutions) Snapshots() []watcher.ExecutionSnapshot {
	c.mu.Lock()
	execs := make([]WatchExecution, 0, len(c.executions))
	for _, exec := range c.executions {
		execs = append(execs, exec)
	}
	c.mu.Unlock()

	out := make([]watcher.ExecutionSnapshot, 0, len(execs))
	for _, exec := range execs {
		out = append(out, exec.Context.Snapshot(exec.GoroutineID))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutionTime.Before(out[j].ExecutionTime)
	})
	return out
}

// SealAndAwaitEmpty seals the registry and waits up to timeout for it to
// empty. It returns false on timeout.
func (c *CurrentExecutions) SealAndAwaitEmpty(timeout time.Duration) bool {
	c.mu.Lock()
	if !c.sealed {
		c.sealed = true
		c.drained = make(chan struct{})
		if len(c.executions) == 0 {
			c.closeDrainedLocked()
		}
	}
	drained := c.drained
	c.mu.Unlock()

	if timeout <= 0 {
		select {
		case <-drained:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}

func (c *CurrentExecutions) closeDrainedLocked() {
	select {
	case <-c.drained:
	default:
		close(c.drained)
	}
}
