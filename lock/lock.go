// Package lock serializes executions of the same watch.
package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	watcher "github.com/goliatone/go-watcher"
)

// Service hands out per-watch exclusive locks. Entries are created on first
// use and dropped once nobody holds or waits for them.
type Service struct {
	mu       sync.Mutex
	entries  map[string]*entry
	refs     int
	sealed   bool
	drained  chan struct{}
	acquired atomic.Uint64
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Lock is a held watch lock. Release is safe to call more than once.
type Lock struct {
	service *Service
	watchID string
	entry   *entry
	once    sync.Once
}

func NewService() *Service {
	return &Service{entries: map[string]*entry{}}
}

// Start reopens a sealed service.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = false
	s.drained = nil
}

// Running reports whether new acquisitions are accepted.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.sealed
}

// Acquire blocks until the lock for watchID is free or ctx is done.
func (s *Service) Acquire(ctx context.Context, watchID string) (*Lock, error) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return nil, watcher.CloneError(watcher.ErrLockSealed, fmt.Sprintf("cannot acquire lock for watch [%s], lock service is sealed", watchID), nil, map[string]any{
			"watch_id": watchID,
		})
	}
	e := s.entries[watchID]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		s.entries[watchID] = e
	}
	e.refs++
	s.refs++
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		s.acquired.Add(1)
		return &Lock{service: s, watchID: watchID, entry: e}, nil
	case <-ctx.Done():
		s.unref(watchID, e)
		return nil, ctx.Err()
	}
}

// Release frees the lock and wakes one waiter.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		<-l.entry.sem
		l.service.unref(l.watchID, l.entry)
	})
}

func (l *Lock) WatchID() string {
	if l == nil {
		return ""
	}
	return l.watchID
}

// SealAndAwaitEmpty refuses new acquisitions and waits up to timeout for
// holders and waiters to finish. It returns false on timeout.
func (s *Service) SealAndAwaitEmpty(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.sealed || s.drained == nil {
		s.sealed = true
		s.drained = make(chan struct{})
		if s.refs == 0 {
			close(s.drained)
		}
	}
	drained := s.drained
	s.mu.Unlock()

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

// Len is the number of watches currently held or awaited.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// AcquiredCount is the total number of successful acquisitions.
func (s *Service) AcquiredCount() uint64 {
	return s.acquired.Load()
}

func (s *Service) unref(watchID string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 && s.entries[watchID] == e {
		delete(s.entries, watchID)
	}
	s.refs--
	if s.refs == 0 && s.sealed && s.drained != nil {
		select {
		case <-s.drained:
		default:
			close(s.drained)
		}
	}
}
