package storage

import (
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a file lock cannot be acquired in time.
// HTTP handlers translate it to 503.
var ErrLockTimeout = errors.New("timed out waiting for file lock")

// DefaultLockTimeout bounds how long a caller waits on a contended file.
const DefaultLockTimeout = 10 * time.Second

// LockTable hands out one advisory mutex per key, so concurrent writers of
// the same workorder file serialize while unrelated files proceed.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]chan struct{})}
}

func (t *LockTable) slot(key string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.locks[key]
	if !ok {
		slot = make(chan struct{}, 1)
		t.locks[key] = slot
	}
	return slot
}

// Acquire takes the lock for key, waiting at most timeout. The returned
// release function must be called exactly once.
func (t *LockTable) Acquire(key string, timeout time.Duration) (release func(), err error) {
	slot := t.slot(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	}
}
