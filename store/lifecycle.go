// Package store provides in-memory and SQLite backed watcher stores.
package store

import (
	"fmt"
	"sync"

	watcher "github.com/goliatone/go-watcher"
)

// lifecycle guards store operations against a concurrent stop. Operations
// hold the read side, start and stop take the write side so stop waits for
// in-flight writes.
type lifecycle struct {
	name    string
	mu      sync.RWMutex
	started bool
}

func (l *lifecycle) start() {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
}

func (l *lifecycle) stop() {
	l.mu.Lock()
	l.started = false
	l.mu.Unlock()
}

func (l *lifecycle) isStarted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.started
}

// enter returns the release function for a guarded operation.
func (l *lifecycle) enter(op string) (func(), error) {
	l.mu.RLock()
	if !l.started {
		l.mu.RUnlock()
		return nil, watcher.CloneError(watcher.ErrStoreNotStarted, fmt.Sprintf("unable to %s, %s store is not ready", op, l.name), nil, map[string]any{
			"store":     l.name,
			"operation": op,
		})
	}
	return l.mu.RUnlock, nil
}
