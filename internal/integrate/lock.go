package integrate

import (
	"context"
	"sync"
	"time"
)

// LockHandle is the result of one acquisition attempt. Release is safe
// to call on all exit paths, acquired or not.
type LockHandle interface {
	Acquired() bool
	Release()
}

// LockService provides mutual exclusion keyed by resource identity.
// The integration pipeline locks per repository, not per pull request:
// the shared resource being protected is the target branch. The
// interface is injectable so the in-process implementation can later
// be swapped for a distributed lock.
type LockService interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) LockHandle
}

// InMemoryLocks is the single-process lock service. One semaphore per
// key, created lazily and shared for the process lifetime.
type InMemoryLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewInMemoryLocks creates an empty lock registry.
func NewInMemoryLocks() *InMemoryLocks {
	return &InMemoryLocks{slots: make(map[string]chan struct{})}
}

func (l *InMemoryLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}

// Acquire blocks up to timeout for the key's slot. On timeout the
// returned handle reports not acquired and the caller must abort.
func (l *InMemoryLocks) Acquire(ctx context.Context, key string, timeout time.Duration) LockHandle {
	slot := l.slot(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case slot <- struct{}{}:
		return &memoryHandle{slot: slot, acquired: true}
	case <-timer.C:
		return &memoryHandle{}
	case <-ctx.Done():
		return &memoryHandle{}
	}
}

type memoryHandle struct {
	slot     chan struct{}
	acquired bool
	once     sync.Once
}

func (h *memoryHandle) Acquired() bool {
	return h.acquired
}

func (h *memoryHandle) Release() {
	if !h.acquired {
		return
	}
	h.once.Do(func() {
		<-h.slot
	})
}
