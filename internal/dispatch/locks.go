package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// rowLocks serializes mutations per row. Each lock is a one-slot channel so
// waiting respects context cancellation; blocked senders queue FIFO, so
// edits to one row apply in arrival order.
type rowLocks struct {
	mu    sync.Mutex
	locks map[string]*rowLock
}

type rowLock struct {
	ch   chan struct{}
	refs int
}

func newRowLocks() *rowLocks {
	return &rowLocks{locks: make(map[string]*rowLock)}
}

// lock acquires every named lock in sorted order, so two callers locking
// overlapping sets cannot deadlock. The returned func releases them all.
func (l *rowLocks) lock(ctx context.Context, names ...string) (func(), error) {
	names = slices.Clone(names)
	slices.Sort(names)
	names = slices.Compact(names)

	held := make([]string, 0, len(names))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, name := range names {
		lk := l.ref(name)
		select {
		case lk.ch <- struct{}{}:
			held = append(held, name)
		case <-ctx.Done():
			l.unref(name)
			release()
			return nil, fmt.Errorf("wait for row lock: %w", ctx.Err())
		}
	}
	return release, nil
}

func (l *rowLocks) ref(name string) *rowLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[name]
	if !ok {
		lk = &rowLock{ch: make(chan struct{}, 1)}
		l.locks[name] = lk
	}
	lk.refs++
	return lk
}

func (l *rowLocks) unref(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk := l.locks[name]
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, name)
	}
}

func (l *rowLocks) unlock(name string) {
	l.mu.Lock()
	lk := l.locks[name]
	l.mu.Unlock()
	<-lk.ch
	l.unref(name)
}

// size reports how many locks are held or awaited.
func (l *rowLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
