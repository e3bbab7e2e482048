package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watcher "github.com/goliatone/go-watcher"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteTriggeredWatchStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewSQLiteTriggeredWatchStore(db, WithLogger(watcher.NopLogger{}))

	_, err := s.PutAll(ctx, []watcher.TriggeredWatch{triggered("w1", time.Now())})
	assert.True(t, watcher.HasCode(err, watcher.ErrCodeStoreNotStarted))

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Validate(ctx))

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	late := triggered("w1", base.Add(500*time.Millisecond))
	early := triggered("w1_sub", base)
	late.TriggerEvent.Data = map[string]any{"source": "cron"}

	slots, err := s.PutAll(ctx, []watcher.TriggeredWatch{late, early, late})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, slots)

	loaded, err := s.LoadTriggeredWatches(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, early.ID, loaded[0].ID)
	assert.Equal(t, "w1_sub", loaded[0].ID.WatchID())
	assert.Equal(t, late.ID, loaded[1].ID)
	assert.Equal(t, "cron", loaded[1].TriggerEvent.Data["source"])
	assert.True(t, late.TriggerEvent.TriggeredTime.Equal(loaded[1].TriggerEvent.TriggeredTime))

	require.NoError(t, s.Delete(ctx, late.ID))
	require.NoError(t, s.Delete(ctx, late.ID))

	loaded, err = s.LoadTriggeredWatches(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	res := <-s.PutAllAsync(ctx, []watcher.TriggeredWatch{triggered("w2", base)})
	require.NoError(t, res.Err)
	assert.Equal(t, []int{0}, res.Slots)
}

func TestSQLiteTriggeredWatchStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first := NewSQLiteTriggeredWatchStore(db, WithLogger(watcher.NopLogger{}))
	require.NoError(t, first.Start(ctx))
	tw := triggered("w1", time.Now())
	_, err := first.PutAll(ctx, []watcher.TriggeredWatch{tw})
	require.NoError(t, err)
	require.NoError(t, first.Stop(ctx))

	second := NewSQLiteTriggeredWatchStore(db, WithLogger(watcher.NopLogger{}))
	require.NoError(t, second.Start(ctx))
	loaded, err := second.LoadTriggeredWatches(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, tw.ID, loaded[0].ID)
}

func TestSQLiteHistoryStoreConflicts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewSQLiteHistoryStore(db, WithLogger(watcher.NopLogger{}))
	require.NoError(t, s.Start(ctx))

	tw := triggered("w1", time.Now())
	record := watcher.NewMessageRecord(tw.ID, tw.TriggerEvent, watcher.ExecutionStateFailed, "partial", "node-a")
	require.NoError(t, s.Put(ctx, record))

	err := s.Put(ctx, record)
	require.Error(t, err)
	assert.True(t, watcher.IsHistoryConflict(err))

	final := watcher.NewMessageRecord(tw.ID, tw.TriggerEvent, watcher.ExecutionStateExecuted, "replayed", "node-a")
	require.NoError(t, s.ForcePut(ctx, final))

	stored, err := s.Get(ctx, tw.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, watcher.ExecutionStateExecuted, stored.State)
	assert.Equal(t, "node-a", stored.NodeID)

	listed, err := s.List(ctx, "w1", 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, s.Stop(ctx))
	assert.True(t, watcher.HasCode(s.Put(ctx, record), watcher.ErrCodeStoreNotStarted))
}

func TestSQLiteWatchStoreStatus(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewSQLiteWatchStore(db, WithLogger(watcher.NopLogger{}))

	require.NoError(t, s.Register(ctx, &watcher.Watch{ID: "w1"}))
	w, err := s.Get(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, w)

	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	w.Status.OnActionResult(watcher.ActionResult{ID: "a1", Status: watcher.StatusSuccess}, at)
	require.NoError(t, s.UpdateStatus(ctx, w))

	stale := w.Clone()
	stale.Status.Version = 0
	assert.True(t, watcher.HasCode(s.UpdateStatus(ctx, stale), watcher.ErrCodeStatusConflict))

	reopened := NewSQLiteWatchStore(db, WithLogger(watcher.NopLogger{}))
	require.NoError(t, reopened.Register(ctx, &watcher.Watch{ID: "w1"}))
	restored, err := reopened.Get(ctx, "w1")
	require.NoError(t, err)
	status, ok := restored.Status.Action("a1")
	require.True(t, ok)
	assert.True(t, status.LastSuccessfulExecution.Equal(at))
	assert.Equal(t, int64(1), restored.Status.Version)

	require.NoError(t, s.UpdateStatus(ctx, &watcher.Watch{ID: "unknown", Status: watcher.NewWatchStatus(true)}))
}
