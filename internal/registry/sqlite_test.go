package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts Options) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "registry.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func insertItem(t *testing.T, store *SQLiteStore, id int64, name, category string, priority int) {
	t.Helper()

	require.NoError(t, store.Insert(context.Background(), &Item{
		ID:          id,
		SourcePath:  "/src/" + name,
		Category:    category,
		Priority:    priority,
		DisplayName: name,
	}))
}

func TestSelectPendingOrdersByPriorityThenID(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	insertItem(t, store, 1, "low", "development", 5)
	insertItem(t, store, 2, "high", "development", 20)
	insertItem(t, store, 3, "mid", "development", 10)
	insertItem(t, store, 4, "high-later", "development", 20)

	items, err := store.SelectPending(ctx, 10, "", nil)
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, []int64{2, 4, 3, 1}, []int64{items[0].ID, items[1].ID, items[2].ID, items[3].ID})
}

func TestSelectPendingLimitAndEmptyQueue(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	items, err := store.SelectPending(ctx, 5, "", nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	insertItem(t, store, 1, "a", "development", 1)
	insertItem(t, store, 2, "b", "development", 2)
	insertItem(t, store, 3, "c", "development", 3)

	items, err = store.SelectPending(ctx, 2, "", nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSelectPendingCategoryFilter(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	insertItem(t, store, 1, "a", "production_ready", 10)
	insertItem(t, store, 2, "b", "development", 20)
	insertItem(t, store, 3, "c", "production_ready", 5)

	items, err := store.SelectPending(ctx, 10, "production_ready", nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "production_ready", item.Category)
	}
}

func TestSelectPendingCursorSkipsOfferedItems(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	insertItem(t, store, 1, "a", "development", 20)
	insertItem(t, store, 2, "b", "development", 20)
	insertItem(t, store, 3, "c", "development", 10)

	first, err := store.SelectPending(ctx, 2, "", nil)
	require.NoError(t, err)
	require.Len(t, first, 2)

	last := first[len(first)-1]
	second, err := store.SelectPending(ctx, 2, "", &Cursor{Priority: last.Priority, ID: last.ID})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, int64(3), second[0].ID)

	// A failed item in the first batch stays behind the cursor.
	require.NoError(t, store.MarkFailed(ctx, 1, "transfer failed: io error"))
	again, err := store.SelectPending(ctx, 10, "", &Cursor{Priority: last.Priority, ID: last.ID})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, int64(3), again[0].ID)
}

func TestMarkMigratedIsIdempotentAndTerminal(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	insertItem(t, store, 1, "a", "development", 10)

	require.NoError(t, store.MarkMigrated(ctx, 1, "/archive/a"))

	items, err := store.RecentMigrations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	firstStamp := items[0].MigratedAt
	require.NotNil(t, firstStamp)

	// Second application leaves the row unchanged.
	require.NoError(t, store.MarkMigrated(ctx, 1, "/archive/a"))
	items, err = store.RecentMigrations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, StateMigrated, items[0].State)
	assert.Equal(t, "/archive/a", items[0].TargetPath)
	assert.True(t, firstStamp.Equal(*items[0].MigratedAt))

	// A migrated item never transitions out.
	require.NoError(t, store.MarkFailed(ctx, 1, "should be ignored"))
	n, err := store.CountByState(ctx, StateMigrated)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// And is no longer eligible.
	pending, err := store.SelectPending(ctx, 10, "", nil)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkFailedKeepsItemEligible(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	insertItem(t, store, 1, "a", "development", 10)
	require.NoError(t, store.MarkFailed(ctx, 1, "integrity mismatch: checksum"))

	items, err := store.SelectPending(ctx, 10, "", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, StateFailed, items[0].State)
	assert.Equal(t, "integrity mismatch: checksum", items[0].FailReason)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestSkipCorruptedExcludesExhaustedItems(t *testing.T) {
	store := newTestStore(t, Options{SkipCorrupted: true, MaxAttempts: 2})
	ctx := context.Background()

	insertItem(t, store, 1, "a", "development", 10)
	require.NoError(t, store.MarkFailed(ctx, 1, "transfer failed: io"))

	items, err := store.SelectPending(ctx, 10, "", nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, store.MarkFailed(ctx, 1, "transfer failed: io"))
	items, err = store.SelectPending(ctx, 10, "", nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	n, err := store.CountEligible(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCountsAndBreakdown(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	insertItem(t, store, 1, "a", "production_ready", 10)
	insertItem(t, store, 2, "b", "production_ready", 10)
	insertItem(t, store, 3, "c", "development", 10)

	require.NoError(t, store.MarkMigrated(ctx, 1, "/archive/a"))
	require.NoError(t, store.MarkFailed(ctx, 3, "transfer failed: io"))

	migrated, err := store.CountByState(ctx, StateMigrated)
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)

	failed, err := store.CountByState(ctx, StateFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	totals, err := store.CategoryBreakdown(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"production_ready": 2, "development": 1}, totals)

	migratedByCat, err := store.CategoryBreakdown(ctx, StateMigrated)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"production_ready": 1}, migratedByCat)

	failedItems, err := store.FailedItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failedItems, 1)
	assert.Equal(t, int64(3), failedItems[0].ID)
}

func TestSnapshotWritesReadableCopy(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	insertItem(t, store, 1, "a", "development", 10)

	snap := filepath.Join(t.TempDir(), "registry.bak.db")
	require.NoError(t, store.Snapshot(snap))

	info, err := os.Stat(snap)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	copyStore, err := NewSQLiteStore(snap, Options{})
	require.NoError(t, err)
	defer copyStore.Close()

	items, err := copyStore.SelectPending(ctx, 10, "", nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCloseIsSafeAgainstConcurrentReads(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	for i := int64(1); i <= 20; i++ {
		insertItem(t, store, i, "item", "development", int(i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := store.SelectPending(ctx, 5, "", nil); err != nil {
					return
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Close())
	wg.Wait()

	_, err := store.SelectPending(ctx, 5, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
