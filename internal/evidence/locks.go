package evidence

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotLocked indicates a release for a work item that holds no lease.
var ErrNotLocked = fmt.Errorf("work item not locked")

// itemLock serializes writers for one work item. The owner fields are
// guarded by the registry's mutex, not the item mutex.
type itemLock struct {
	mu sync.Mutex

	owner      string
	acquiredAt time.Time
}

// lockRegistry grants at most one writer per work item at a time. Acquire
// blocks until the current writer releases; readers never consult the
// registry, so reads are never blocked by a writer.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*itemLock
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*itemLock)}
}

func (r *lockRegistry) lockFor(workItem string) *itemLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[workItem]
	if !ok {
		l = &itemLock{}
		r.locks[workItem] = l
	}
	return l
}

// acquire claims the work item for owner, blocking until it is free.
func (r *lockRegistry) acquire(owner, workItem string) {
	l := r.lockFor(workItem)
	l.mu.Lock()

	r.mu.Lock()
	l.owner = owner
	l.acquiredAt = time.Now()
	r.mu.Unlock()
}

// release drops the current claim on the work item.
func (r *lockRegistry) release(workItem string) error {
	r.mu.Lock()
	l, ok := r.locks[workItem]
	if !ok || l.owner == "" {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLocked, workItem)
	}
	l.owner = ""
	r.mu.Unlock()

	l.mu.Unlock()
	return nil
}

// held returns the sorted work items with an active writer.
func (r *lockRegistry) held() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]string, 0, len(r.locks))
	for item, l := range r.locks {
		if l.owner != "" {
			items = append(items, item)
		}
	}
	sort.Strings(items)
	return items
}
