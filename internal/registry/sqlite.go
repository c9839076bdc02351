package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Options tunes queue eligibility.
type Options struct {
	// SkipCorrupted excludes items that have reached MaxAttempts failed
	// attempts from the eligible queue.
	SkipCorrupted bool
	// MaxAttempts caps total attempts per item when SkipCorrupted is set.
	MaxAttempts int
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	opts    Options
	closed  atomic.Bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (and if needed initializes) a SQLite registry
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	// Configure SQLite for concurrent access
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=2000&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}

	store := &SQLiteStore{db: db, opts: opts}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY,
		source_path TEXT NOT NULL,
		category TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		display_name TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		target_path TEXT,
		fail_reason TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		migrated_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_items_state ON items(state);
	CREATE INDEX IF NOT EXISTS idx_items_queue ON items(priority DESC, id ASC);
	CREATE INDEX IF NOT EXISTS idx_items_category ON items(category);
	`

	_, err := s.db.Exec(query)
	return err
}

// Insert records a new item in the pending state
func (s *SQLiteStore) Insert(ctx context.Context, item *Item) error {
	if s.closed.Load() {
		return fmt.Errorf("registry store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		// A zero ID lets SQLite assign the next rowid.
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, source_path, category, priority, display_name, state, attempts)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, 0)
		`, item.ID, item.SourcePath, item.Category, item.Priority, item.DisplayName, StatePending)
		return err
	})
}

const itemColumns = `id, source_path, category, priority, display_name, state,
	COALESCE(target_path, ''), COALESCE(fail_reason, ''), attempts, migrated_at`

// SelectPending returns the next slice of the eligible queue
func (s *SQLiteStore) SelectPending(ctx context.Context, limit int, category string, after *Cursor) ([]*Item, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("registry store is closed")
	}

	var (
		conds = []string{"state != ?"}
		args  = []any{StateMigrated}
	)
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if s.opts.SkipCorrupted {
		conds = append(conds, "attempts < ?")
		args = append(args, s.opts.MaxAttempts)
	}
	if after != nil {
		// Keyset pagination over the (priority DESC, id ASC) ordering so a
		// batch already offered this run is never offered again.
		conds = append(conds, "(priority < ? OR (priority = ? AND id > ?))")
		args = append(args, after.Priority, after.Priority, after.ID)
	}

	query := fmt.Sprintf(`
	SELECT %s FROM items
	WHERE %s
	ORDER BY priority DESC, id ASC
	LIMIT ?`, itemColumns, strings.Join(conds, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

// MarkMigrated transitions the item into the migrated terminal state
func (s *SQLiteStore) MarkMigrated(ctx context.Context, id int64, targetPath string) error {
	if s.closed.Load() {
		return fmt.Errorf("registry store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		// COALESCE keeps the original timestamp if applied twice.
		_, err := s.db.ExecContext(ctx, `
		UPDATE items SET
			state = ?,
			target_path = ?,
			fail_reason = NULL,
			migrated_at = COALESCE(migrated_at, ?)
		WHERE id = ?
		`, StateMigrated, targetPath, time.Now().UTC(), id)
		return err
	})
}

// MarkFailed records a failure cause; migrated items are never demoted
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	if s.closed.Load() {
		return fmt.Errorf("registry store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
		UPDATE items SET
			state = ?,
			fail_reason = ?,
			attempts = attempts + 1
		WHERE id = ? AND state != ?
		`, StateFailed, reason, id, StateMigrated)
		return err
	})
}

func (s *SQLiteStore) CountByState(ctx context.Context, state State) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE state = ?`, state).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CountEligible(ctx context.Context, category string) (int, error) {
	conds := []string{"state != ?"}
	args := []any{StateMigrated}
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if s.opts.SkipCorrupted {
		conds = append(conds, "attempts < ?")
		args = append(args, s.opts.MaxAttempts)
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM items WHERE %s`, strings.Join(conds, " AND ")),
		args...).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CategoryBreakdown(ctx context.Context, state State) (map[string]int, error) {
	query := `SELECT category, COUNT(*) FROM items GROUP BY category`
	args := []any{}
	if state != "" {
		query = `SELECT category, COUNT(*) FROM items WHERE state = ? GROUP BY category`
		args = append(args, state)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		counts[category] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) RecentMigrations(ctx context.Context, limit int) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
	SELECT %s FROM items
	WHERE state = ?
	ORDER BY migrated_at DESC, id DESC
	LIMIT ?`, itemColumns), StateMigrated, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

func (s *SQLiteStore) FailedItems(ctx context.Context, limit int) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
	SELECT %s FROM items
	WHERE state = ?
	ORDER BY priority DESC, id ASC
	LIMIT ?`, itemColumns), StateFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

// Snapshot writes a consistent copy of the registry using VACUUM INTO
func (s *SQLiteStore) Snapshot(path string) error {
	if s.closed.Load() {
		return fmt.Errorf("registry store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`VACUUM INTO ?`, path)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("registry store is closed")
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

func scanItems(rows *sql.Rows) ([]*Item, error) {
	items := []*Item{}

	for rows.Next() {
		var item Item
		var migratedAt sql.NullTime

		err := rows.Scan(
			&item.ID,
			&item.SourcePath,
			&item.Category,
			&item.Priority,
			&item.DisplayName,
			&item.State,
			&item.TargetPath,
			&item.FailReason,
			&item.Attempts,
			&migratedAt,
		)
		if err != nil {
			return nil, err
		}

		if migratedAt.Valid {
			t := migratedAt.Time
			item.MigratedAt = &t
		}

		items = append(items, &item)
	}

	return items, rows.Err()
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) && attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			jitter := time.Duration(attempt*10) * time.Millisecond
			time.Sleep(delay + jitter)
			continue
		}

		return err
	}

	return nil
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}
