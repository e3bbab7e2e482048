package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-errors"

	watcher "github.com/goliatone/go-watcher"
)

// SQLiteWatchStore keeps watch definitions in process and persists their
// status in SQLite with an optimistic version column.
type SQLiteWatchStore struct {
	db      *sql.DB
	cfg     sqliteConfig
	mu      sync.RWMutex
	watches map[string]*watcher.Watch
}

var _ watcher.WatchStore = (*SQLiteWatchStore)(nil)

func NewSQLiteWatchStore(db *sql.DB, opts ...SQLiteOption) *SQLiteWatchStore {
	return &SQLiteWatchStore{
		db:      db,
		cfg:     newSQLiteConfig("watch_status", opts),
		watches: map[string]*watcher.Watch{},
	}
}

// Register adds a definition. A persisted status wins over the status the
// definition carries, so restarts keep throttling and activation state.
func (s *SQLiteWatchStore) Register(ctx context.Context, w *watcher.Watch) error {
	if w == nil || w.ID == "" {
		return watcher.CloneError(watcher.ErrInvalidConfig, "watch id required", nil, nil)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	cp := w.Clone()
	stored, err := s.loadStatus(ctx, w.ID)
	if err != nil {
		return err
	}
	switch {
	case stored != nil:
		cp.Status = stored
	case cp.Status == nil:
		cp.Status = watcher.NewWatchStatus(true)
	}
	if stored == nil {
		if err := s.saveStatus(ctx, w.ID, cp.Status); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.watches[w.ID] = cp
	s.mu.Unlock()
	return nil
}

// Delete drops the definition and its persisted status.
func (s *SQLiteWatchStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.watches, id)
	s.mu.Unlock()
	q := fmt.Sprintf(`DELETE FROM %s WHERE watch_id = ?`, s.cfg.table)
	return s.cfg.retry.Run(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, id)
		return err
	})
}

func (s *SQLiteWatchStore) Get(_ context.Context, id string) (*watcher.Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watches[id].Clone(), nil
}

func (s *SQLiteWatchStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.watches))
	for id := range s.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdateStatus writes w.Status if its version still matches the stored one.
// Watches that are not registered are ignored.
func (s *SQLiteWatchStore) UpdateStatus(ctx context.Context, w *watcher.Watch) error {
	if w == nil || w.Status == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.watches[w.ID]
	if !ok {
		return nil
	}

	next := w.Status.Clone()
	next.Version = w.Status.Version + 1
	payload, err := json.Marshal(next)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, fmt.Sprintf("encode status of watch [%s]", w.ID))
	}

	q := fmt.Sprintf(`UPDATE %s SET version = ?, status = ?, updated_at = ? WHERE watch_id = ? AND version = ?`, s.cfg.table)
	var rows int64
	err = s.cfg.retry.Run(ctx, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, q, next.Version, string(payload), formatTime(time.Now()), w.ID, w.Status.Version)
		if err != nil {
			return err
		}
		rows, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, fmt.Sprintf("update status of watch [%s]", w.ID))
	}
	if rows == 0 {
		return watcher.CloneError(watcher.ErrStatusConflict, fmt.Sprintf("status of watch [%s] changed concurrently", w.ID), nil, map[string]any{
			"watch_id": w.ID,
			"expected": w.Status.Version,
		})
	}
	w.Status.Version = next.Version
	stored.Status = next
	return nil
}

func (s *SQLiteWatchStore) loadStatus(ctx context.Context, id string) (*watcher.WatchStatus, error) {
	q := fmt.Sprintf(`SELECT version, status FROM %s WHERE watch_id = ?`, s.cfg.table)
	var version int64
	var raw string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&version, &raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, fmt.Sprintf("load status of watch [%s]", id))
	}
	status := watcher.NewWatchStatus(true)
	if err := json.Unmarshal([]byte(raw), status); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, fmt.Sprintf("decode status of watch [%s]", id))
	}
	status.Version = version
	return status, nil
}

func (s *SQLiteWatchStore) saveStatus(ctx context.Context, id string, status *watcher.WatchStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, fmt.Sprintf("encode status of watch [%s]", id))
	}
	q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (watch_id, version, status, updated_at) VALUES (?, ?, ?, ?)`, s.cfg.table)
	return s.cfg.retry.Run(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, id, status.Version, string(payload), formatTime(time.Now()))
		return err
	})
}

func (s *SQLiteWatchStore) ensureSchema(ctx context.Context) error {
	if s.db == nil {
		return errors.New("sqlite watch store not configured", errors.CategoryValidation)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		watch_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, s.cfg.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "create watch status table")
	}
	return nil
}
