package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	watcher "github.com/goliatone/go-watcher"
)

var (
	_ watcher.WatchStore          = (*MemoryWatchStore)(nil)
	_ watcher.HistoryStore        = (*MemoryHistoryStore)(nil)
	_ watcher.TriggeredWatchStore = (*MemoryTriggeredWatchStore)(nil)
)

// MemoryWatchStore keeps watch definitions in process.
type MemoryWatchStore struct {
	mu      sync.RWMutex
	watches map[string]*watcher.Watch
}

func NewMemoryWatchStore(watches ...*watcher.Watch) *MemoryWatchStore {
	s := &MemoryWatchStore{watches: map[string]*watcher.Watch{}}
	for _, w := range watches {
		s.Put(w)
	}
	return s
}

// Put stores a copy of w, creating an active status when missing.
func (s *MemoryWatchStore) Put(w *watcher.Watch) {
	if w == nil || w.ID == "" {
		return
	}
	cp := w.Clone()
	if cp.Status == nil {
		cp.Status = watcher.NewWatchStatus(true)
	}
	s.mu.Lock()
	s.watches[w.ID] = cp
	s.mu.Unlock()
}

func (s *MemoryWatchStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[id]
	delete(s.watches, id)
	return ok
}

// Get returns a copy of the stored watch, or nil when it does not exist.
func (s *MemoryWatchStore) Get(_ context.Context, id string) (*watcher.Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watches[id].Clone(), nil
}

// IDs lists stored watch ids in sorted order.
func (s *MemoryWatchStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.watches))
	for id := range s.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *MemoryWatchStore) UpdateStatus(_ context.Context, w *watcher.Watch) error {
	if w == nil || w.Status == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.watches[w.ID]
	if !ok {
		return nil
	}
	if stored.Status != nil && stored.Status.Version != w.Status.Version {
		return watcher.CloneError(watcher.ErrStatusConflict, fmt.Sprintf("status of watch [%s] changed concurrently", w.ID), nil, map[string]any{
			"watch_id": w.ID,
			"expected": w.Status.Version,
			"actual":   stored.Status.Version,
		})
	}
	w.Status.Version++
	stored.Status = w.Status.Clone()
	return nil
}

// MemoryHistoryStore keeps watch records in process.
type MemoryHistoryStore struct {
	lifecycle lifecycle
	mu        sync.RWMutex
	records   map[string]*watcher.WatchRecord
	order     []string
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		lifecycle: lifecycle{name: "history"},
		records:   map[string]*watcher.WatchRecord{},
	}
}

func (s *MemoryHistoryStore) Start(context.Context) error {
	s.lifecycle.start()
	return nil
}

func (s *MemoryHistoryStore) Stop(context.Context) error {
	s.lifecycle.stop()
	return nil
}

func (s *MemoryHistoryStore) Validate(context.Context) bool { return true }

func (s *MemoryHistoryStore) Started() bool { return s.lifecycle.isStarted() }

func (s *MemoryHistoryStore) Put(_ context.Context, record *watcher.WatchRecord) error {
	return s.put(record, false)
}

func (s *MemoryHistoryStore) ForcePut(_ context.Context, record *watcher.WatchRecord) error {
	return s.put(record, true)
}

func (s *MemoryHistoryStore) put(record *watcher.WatchRecord, force bool) error {
	if record == nil {
		return nil
	}
	release, err := s.lifecycle.enter("persist watch record")
	if err != nil {
		return err
	}
	defer release()

	id := record.ID.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		if !force {
			return historyConflict(record.ID)
		}
	} else {
		s.order = append(s.order, id)
	}
	s.records[id] = record.Clone()
	return nil
}

func (s *MemoryHistoryStore) Get(id watcher.Wid) (*watcher.WatchRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id.String()]
	return record.Clone(), ok
}

// Records returns every stored record in insertion order.
func (s *MemoryHistoryStore) Records() []*watcher.WatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*watcher.WatchRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}

// MemoryTriggeredWatchStore keeps owed executions in process.
type MemoryTriggeredWatchStore struct {
	lifecycle lifecycle
	mu        sync.Mutex
	watches   map[string]watcher.TriggeredWatch
	logger    watcher.Logger
}

func NewMemoryTriggeredWatchStore(logger watcher.Logger) *MemoryTriggeredWatchStore {
	return &MemoryTriggeredWatchStore{
		lifecycle: lifecycle{name: "triggered watch"},
		watches:   map[string]watcher.TriggeredWatch{},
		logger:    watcher.NormalizeLogger(logger),
	}
}

func (s *MemoryTriggeredWatchStore) Start(context.Context) error {
	s.lifecycle.start()
	return nil
}

func (s *MemoryTriggeredWatchStore) Stop(context.Context) error {
	s.lifecycle.stop()
	return nil
}

func (s *MemoryTriggeredWatchStore) Validate(context.Context) bool { return true }

func (s *MemoryTriggeredWatchStore) Started() bool { return s.lifecycle.isStarted() }

func (s *MemoryTriggeredWatchStore) LoadTriggeredWatches(context.Context) ([]watcher.TriggeredWatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]watcher.TriggeredWatch, 0, len(s.watches))
	for _, tw := range s.watches {
		out = append(out, tw)
	}
	sortTriggered(out)
	return out, nil
}

func (s *MemoryTriggeredWatchStore) PutAll(_ context.Context, watches []watcher.TriggeredWatch) ([]int, error) {
	release, err := s.lifecycle.enter("persist triggered watches")
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	slots := make([]int, 0, len(watches))
	for i, tw := range watches {
		id := tw.ID.String()
		if _, exists := s.watches[id]; exists {
			s.logger.Error("could not store triggered watch with id [%s]: already exists", id)
			continue
		}
		s.watches[id] = tw
		slots = append(slots, i)
	}
	return slots, nil
}

func (s *MemoryTriggeredWatchStore) PutAllAsync(ctx context.Context, watches []watcher.TriggeredWatch) <-chan watcher.PutAllResult {
	return putAllAsync(ctx, s.PutAll, watches)
}

func (s *MemoryTriggeredWatchStore) Delete(_ context.Context, id watcher.Wid) error {
	release, err := s.lifecycle.enter("delete triggered watch")
	if err != nil {
		return err
	}
	defer release()
	s.mu.Lock()
	delete(s.watches, id.String())
	s.mu.Unlock()
	return nil
}

// Len is the number of owed executions.
func (s *MemoryTriggeredWatchStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Contains reports whether id is still owed.
func (s *MemoryTriggeredWatchStore) Contains(id watcher.Wid) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[id.String()]
	return ok
}

func putAllAsync(ctx context.Context, putAll func(context.Context, []watcher.TriggeredWatch) ([]int, error), watches []watcher.TriggeredWatch) <-chan watcher.PutAllResult {
	out := make(chan watcher.PutAllResult, 1)
	if len(watches) == 0 {
		out <- watcher.PutAllResult{Slots: []int{}}
		close(out)
		return out
	}
	go func() {
		defer close(out)
		slots, err := putAll(ctx, watches)
		out <- watcher.PutAllResult{Slots: slots, Err: err}
	}()
	return out
}

func sortTriggered(watches []watcher.TriggeredWatch) {
	sort.SliceStable(watches, func(i, j int) bool {
		a, b := watches[i].TriggerEvent.TriggeredTime, watches[j].TriggerEvent.TriggeredTime
		if a.Equal(b) {
			return watches[i].ID.String() < watches[j].ID.String()
		}
		return a.Before(b)
	})
}

func historyConflict(id watcher.Wid) error {
	return watcher.CloneError(watcher.ErrHistoryConflict, fmt.Sprintf("watch record [%s] already exists", id), nil, map[string]any{
		"wid": id.String(),
	})
}
