package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	_ "github.com/mattn/go-sqlite3"

	watcher "github.com/goliatone/go-watcher"
	"github.com/goliatone/go-watcher/runner"
)

const MemoryDSN = ":memory:"

// sortableTime keeps a fixed width so text columns order chronologically.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// OpenSQLite opens a SQLite database at path. In-memory databases are
// pinned to a single connection so every query sees the same data.
func OpenSQLite(path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = MemoryDSN
	}
	dsn := path
	if path != MemoryDSN {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, fmt.Sprintf("open sqlite database %q", path))
	}
	if path == MemoryDSN {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// NewBusyRetry returns the retry handler used for locked database errors.
func NewBusyRetry(logger watcher.Logger) *runner.Handler {
	return runner.NewHandler(
		runner.WithMaxRetries(4),
		runner.WithRetryStrategy(runner.SQLiteBusyBackoff),
		runner.WithRetryIf(isSQLiteBusyError),
		runner.WithLogger(watcher.NormalizeLogger(logger)),
	)
}

type SQLiteOption func(*sqliteConfig)

type sqliteConfig struct {
	table  string
	logger watcher.Logger
	retry  *runner.Handler
}

func WithTable(table string) SQLiteOption {
	return func(c *sqliteConfig) {
		if table = strings.TrimSpace(table); table != "" {
			c.table = table
		}
	}
}

func WithLogger(logger watcher.Logger) SQLiteOption {
	return func(c *sqliteConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRetry(retry *runner.Handler) SQLiteOption {
	return func(c *sqliteConfig) {
		if retry != nil {
			c.retry = retry
		}
	}
}

func newSQLiteConfig(table string, opts []SQLiteOption) sqliteConfig {
	cfg := sqliteConfig{table: table}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg.logger = watcher.NormalizeLogger(cfg.logger)
	if cfg.retry == nil {
		cfg.retry = NewBusyRetry(cfg.logger)
	}
	return cfg
}

// SQLiteHistoryStore persists watch records in SQLite.
type SQLiteHistoryStore struct {
	db        *sql.DB
	cfg       sqliteConfig
	lifecycle lifecycle
}

var _ watcher.HistoryStore = (*SQLiteHistoryStore)(nil)

func NewSQLiteHistoryStore(db *sql.DB, opts ...SQLiteOption) *SQLiteHistoryStore {
	return &SQLiteHistoryStore{
		db:        db,
		cfg:       newSQLiteConfig("watch_history", opts),
		lifecycle: lifecycle{name: "history"},
	}
}

func (s *SQLiteHistoryStore) Start(ctx context.Context) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	s.lifecycle.start()
	return nil
}

func (s *SQLiteHistoryStore) Stop(context.Context) error {
	s.lifecycle.stop()
	return nil
}

func (s *SQLiteHistoryStore) Started() bool { return s.lifecycle.isStarted() }

// Validate checks the history table is reachable.
func (s *SQLiteHistoryStore) Validate(ctx context.Context) bool {
	return s.db != nil && s.ensureSchema(ctx) == nil
}

func (s *SQLiteHistoryStore) Put(ctx context.Context, record *watcher.WatchRecord) error {
	return s.put(ctx, record, false)
}

func (s *SQLiteHistoryStore) ForcePut(ctx context.Context, record *watcher.WatchRecord) error {
	return s.put(ctx, record, true)
}

func (s *SQLiteHistoryStore) put(ctx context.Context, record *watcher.WatchRecord, force bool) error {
	if record == nil {
		return nil
	}
	release, err := s.lifecycle.enter("persist watch record")
	if err != nil {
		return err
	}
	defer release()

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, fmt.Sprintf("encode watch record [%s]", record.ID))
	}

	verb := "INSERT OR IGNORE"
	if force {
		verb = "INSERT OR REPLACE"
	}
	q := fmt.Sprintf(`%s INTO %s (id, watch_id, node_id, state, triggered_time, execution_time, record) VALUES (?, ?, ?, ?, ?, ?, ?)`, verb, s.cfg.table)

	var rows int64
	err = s.cfg.retry.Run(ctx, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, q,
			record.ID.String(),
			record.WatchID,
			record.NodeID,
			string(record.State),
			formatTime(record.TriggerEvent.TriggeredTime),
			formatTime(record.ExecutionTime),
			string(payload),
		)
		if err != nil {
			return err
		}
		rows, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, fmt.Sprintf("persist watch record [%s]", record.ID))
	}
	if rows == 0 && !force {
		return historyConflict(record.ID)
	}
	return nil
}

// Get loads the record stored under id, or nil when absent.
func (s *SQLiteHistoryStore) Get(ctx context.Context, id watcher.Wid) (*watcher.WatchRecord, error) {
	q := fmt.Sprintf(`SELECT record FROM %s WHERE id = ?`, s.cfg.table)
	var raw string
	err := s.db.QueryRowContext(ctx, q, id.String()).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, fmt.Sprintf("load watch record [%s]", id))
	}
	return decodeRecord(raw)
}

// List returns the newest records first, optionally filtered by watch id.
func (s *SQLiteHistoryStore) List(ctx context.Context, watchID string, limit int) ([]*watcher.WatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf(`SELECT record FROM %s`, s.cfg.table)
	args := []any{}
	if watchID = strings.TrimSpace(watchID); watchID != "" {
		q += ` WHERE watch_id = ?`
		args = append(args, watchID)
	}
	q += ` ORDER BY triggered_time DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "list watch records")
	}
	defer rows.Close()

	var out []*watcher.WatchRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		record, err := decodeRecord(raw)
		if err != nil {
			s.cfg.logger.Warn("skipping unreadable watch record: %v", err)
			continue
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteHistoryStore) ensureSchema(ctx context.Context) error {
	if s.db == nil {
		return errors.New("sqlite history store not configured", errors.CategoryValidation)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		watch_id TEXT NOT NULL,
		node_id TEXT,
		state TEXT NOT NULL,
		triggered_time TEXT,
		execution_time TEXT,
		record TEXT NOT NULL
	)`, s.cfg.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "create history table")
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_watch_idx ON %s (watch_id, triggered_time)`, s.cfg.table, s.cfg.table)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "create history index")
	}
	return nil
}

// SQLiteTriggeredWatchStore persists owed executions in SQLite.
type SQLiteTriggeredWatchStore struct {
	db        *sql.DB
	cfg       sqliteConfig
	lifecycle lifecycle
}

var _ watcher.TriggeredWatchStore = (*SQLiteTriggeredWatchStore)(nil)

func NewSQLiteTriggeredWatchStore(db *sql.DB, opts ...SQLiteOption) *SQLiteTriggeredWatchStore {
	return &SQLiteTriggeredWatchStore{
		db:        db,
		cfg:       newSQLiteConfig("triggered_watches", opts),
		lifecycle: lifecycle{name: "triggered watch"},
	}
}

func (s *SQLiteTriggeredWatchStore) Start(ctx context.Context) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	s.lifecycle.start()
	return nil
}

func (s *SQLiteTriggeredWatchStore) Stop(context.Context) error {
	s.lifecycle.stop()
	return nil
}

func (s *SQLiteTriggeredWatchStore) Started() bool { return s.lifecycle.isStarted() }

func (s *SQLiteTriggeredWatchStore) Validate(ctx context.Context) bool {
	return s.db != nil && s.ensureSchema(ctx) == nil
}

// LoadTriggeredWatches reads every owed execution, oldest trigger first.
// Rows that cannot be decoded are logged and skipped.
func (s *SQLiteTriggeredWatchStore) LoadTriggeredWatches(ctx context.Context) ([]watcher.TriggeredWatch, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, event FROM %s ORDER BY triggered_time ASC, id ASC`, s.cfg.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "load triggered watches")
	}
	defer rows.Close()

	var out []watcher.TriggeredWatch
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		wid, err := watcher.ParseWid(id)
		if err != nil {
			s.cfg.logger.Error("skipping triggered watch with unreadable id [%s]: %v", id, err)
			continue
		}
		var event watcher.TriggerEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			s.cfg.logger.Error("skipping triggered watch [%s] with unreadable event: %v", id, err)
			continue
		}
		out = append(out, watcher.TriggeredWatch{ID: wid, TriggerEvent: event})
	}
	return out, rows.Err()
}

// PutAll inserts the batch in one transaction. Ids that already exist fail
// individually and are left out of the returned slots.
func (s *SQLiteTriggeredWatchStore) PutAll(ctx context.Context, watches []watcher.TriggeredWatch) ([]int, error) {
	release, err := s.lifecycle.enter("persist triggered watches")
	if err != nil {
		return nil, err
	}
	defer release()

	if len(watches) == 0 {
		return []int{}, nil
	}

	q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, watch_id, triggered_time, event, created_at) VALUES (?, ?, ?, ?, ?)`, s.cfg.table)
	var slots []int
	err = s.cfg.retry.Run(ctx, func(ctx context.Context) error {
		slots = make([]int, 0, len(watches))
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		now := formatTime(time.Now())
		for i, tw := range watches {
			event, err := json.Marshal(tw.TriggerEvent)
			if err != nil {
				s.cfg.logger.Error("could not encode triggered watch [%s]: %v", tw.ID, err)
				continue
			}
			result, err := tx.ExecContext(ctx, q,
				tw.ID.String(),
				tw.ID.WatchID(),
				formatTime(tw.TriggerEvent.TriggeredTime),
				string(event),
				now,
			)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			if n, _ := result.RowsAffected(); n == 0 {
				s.cfg.logger.Error("could not store triggered watch with id [%s]: already exists", tw.ID)
				continue
			}
			slots = append(slots, i)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "persist triggered watches")
	}
	return slots, nil
}

func (s *SQLiteTriggeredWatchStore) PutAllAsync(ctx context.Context, watches []watcher.TriggeredWatch) <-chan watcher.PutAllResult {
	return putAllAsync(ctx, s.PutAll, watches)
}

// Delete removes id. Deleting an unknown id is not an error.
func (s *SQLiteTriggeredWatchStore) Delete(ctx context.Context, id watcher.Wid) error {
	release, err := s.lifecycle.enter("delete triggered watch")
	if err != nil {
		return err
	}
	defer release()

	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.cfg.table)
	err = s.cfg.retry.Run(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, id.String())
		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, fmt.Sprintf("delete triggered watch [%s]", id))
	}
	return nil
}

func (s *SQLiteTriggeredWatchStore) ensureSchema(ctx context.Context) error {
	if s.db == nil {
		return errors.New("sqlite triggered watch store not configured", errors.CategoryValidation)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		watch_id TEXT NOT NULL,
		triggered_time TEXT,
		event TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`, s.cfg.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "create triggered watch table")
	}
	return nil
}

func decodeRecord(raw string) (*watcher.WatchRecord, error) {
	var record watcher.WatchRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "decode watch record")
	}
	return &record, nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(sortableTime)
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "database table is locked")
}
