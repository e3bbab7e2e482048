package watcher

import "context"

// WatchStore resolves watch definitions. Get returns nil, nil when the
// watch does not exist.
type WatchStore interface {
	Get(ctx context.Context, id string) (*Watch, error)
	// UpdateStatus persists watch.Status. Missing watches are ignored.
	UpdateStatus(ctx context.Context, watch *Watch) error
}

// HistoryStore persists WatchRecords keyed by execution id.
type HistoryStore interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Validate(ctx context.Context) bool
	// Put fails with a history conflict when the id is already stored.
	Put(ctx context.Context, record *WatchRecord) error
	// ForcePut overwrites any record stored under the same id.
	ForcePut(ctx context.Context, record *WatchRecord) error
}

// TriggeredWatchStore is the durable queue of owed executions.
type TriggeredWatchStore interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Validate(ctx context.Context) bool
	LoadTriggeredWatches(ctx context.Context) ([]TriggeredWatch, error)
	// PutAll persists the batch and returns the indices stored successfully.
	PutAll(ctx context.Context, watches []TriggeredWatch) ([]int, error)
	// PutAllAsync delivers exactly one result on the returned channel.
	PutAllAsync(ctx context.Context, watches []TriggeredWatch) <-chan PutAllResult
	Delete(ctx context.Context, id Wid) error
}

// PutAllResult is the outcome of an asynchronous batch write.
type PutAllResult struct {
	Slots []int
	Err   error
}
