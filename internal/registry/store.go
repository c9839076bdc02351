package registry

import (
	"context"
	"time"
)

// State represents the migration state of an item
type State string

const (
	StatePending  State = "pending"
	StateMigrated State = "migrated"
	StateFailed   State = "failed"
)

// Item represents one source unit (file or directory) tracked for migration.
// IDs are assigned by the upstream classification stage and never reused.
type Item struct {
	ID          int64      `json:"id"`
	SourcePath  string     `json:"source_path"`
	Category    string     `json:"category"`
	Priority    int        `json:"priority"`
	DisplayName string     `json:"display_name"`
	State       State      `json:"state"`
	TargetPath  string     `json:"target_path,omitempty"`
	FailReason  string     `json:"fail_reason,omitempty"`
	Attempts    int        `json:"attempts"`
	MigratedAt  *time.Time `json:"migrated_at,omitempty"`
}

// Cursor marks a position in the priority-ordered eligible queue.
// Items are ordered by priority descending, id ascending; advancing the
// cursor past a batch guarantees the same items are not offered twice
// within a single run.
type Cursor struct {
	Priority int
	ID       int64
}

// Store defines the interface for registry persistence. Every mutation is
// an atomic single-row update keyed by item id; the registry is the only
// writer of item state.
type Store interface {
	// Insert records a new item in the pending state.
	Insert(ctx context.Context, item *Item) error

	// SelectPending returns up to limit eligible items ordered by priority
	// descending, ties broken by id ascending. An empty category matches
	// all categories. A nil cursor starts from the head of the queue.
	// Returns an empty slice, not an error, when nothing is eligible.
	SelectPending(ctx context.Context, limit int, category string, after *Cursor) ([]*Item, error)

	// MarkMigrated transitions an item to the migrated terminal state.
	// Idempotent: a second application leaves the row unchanged.
	MarkMigrated(ctx context.Context, id int64, targetPath string) error

	// MarkFailed records a failure with its cause. A migrated item is
	// never demoted; MarkFailed on a migrated row is a no-op.
	MarkFailed(ctx context.Context, id int64, reason string) error

	CountByState(ctx context.Context, state State) (int, error)

	// CountEligible returns the size of the eligible queue for a category
	// ("" = all categories).
	CountEligible(ctx context.Context, category string) (int, error)

	// CategoryBreakdown returns per-category counts, optionally restricted
	// to one state ("" = all states).
	CategoryBreakdown(ctx context.Context, state State) (map[string]int, error)

	// RecentMigrations returns the most recently migrated items.
	RecentMigrations(ctx context.Context, limit int) ([]*Item, error)

	// FailedItems returns items currently in the failed state with their causes.
	FailedItems(ctx context.Context, limit int) ([]*Item, error)

	// Snapshot writes a consistent copy of the registry to path.
	Snapshot(path string) error

	// Ping verifies the registry is reachable.
	Ping(ctx context.Context) error

	Close() error
}
