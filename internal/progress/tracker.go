package progress

import (
	"sync"
	"time"
)

// Status is a point-in-time view of run progress
type Status struct {
	TotalItems    int64
	DoneItems     int64
	MigratedItems int64
	FailedItems   int64
	BytesCopied   int64
	LastItem      string
	StartTime     time.Time
}

// Tracker tracks migration progress across concurrent workers
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker creates a progress tracker
func NewTracker() *Tracker {
	return &Tracker{
		status: Status{StartTime: time.Now()},
	}
}

// SetTotal sets the number of items planned for this run
func (t *Tracker) SetTotal(items int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalItems = items
}

// AddMigrated records one successfully migrated item
func (t *Tracker) AddMigrated(name string, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.MigratedItems++
	t.status.DoneItems++
	t.status.BytesCopied += bytes
	t.status.LastItem = name
}

// AddFailed records one failed item
func (t *Tracker) AddFailed(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.FailedItems++
	t.status.DoneItems++
	t.status.LastItem = name
}

// GetStatus returns a copy of the current status
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}
