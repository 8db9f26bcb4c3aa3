package zone

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// LockTable hands out one mutex per zone. Ingestion and both decision loops
// share a table so that a zone's read-decide-write sequences never
// interleave. Different zones never contend.
type LockTable struct {
	locks *xsync.Map[int64, *sync.Mutex]
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: xsync.NewMap[int64, *sync.Mutex]()}
}

// Lock acquires the zone's mutex and returns the matching unlock function.
func (t *LockTable) Lock(zoneID int64) func() {
	mu, _ := t.locks.LoadOrStore(zoneID, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// Len returns the number of zones that have been locked at least once.
func (t *LockTable) Len() int {
	return t.locks.Size()
}
