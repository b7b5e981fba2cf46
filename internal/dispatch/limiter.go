package dispatch

// limiter.go bounds how many bulk payloads are in flight at once.
//
// A bulk submit holds the locks of every row it touches for the length of a
// gateway round trip. The limiter keeps a burst of spreadsheet imports from
// starving single-row edits: when every slot is busy a new bulk submit waits
// up to maxWait and then fails with ErrTooManyBulkSubmits.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyBulkSubmits is returned when no bulk slot frees up in time.
var ErrTooManyBulkSubmits = errors.New("too many concurrent bulk submissions, please try again later")

const (
	DefaultMaxConcurrentBulk = 2
	DefaultBulkMaxWait       = 30 * time.Second
)

// BulkLimiter is a counting semaphore with a bounded wait.
type BulkLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewBulkLimiter allows at most maxConcurrent bulk submits at a time.
func NewBulkLimiter(maxConcurrent int, maxWait time.Duration) *BulkLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentBulk
	}
	if maxWait <= 0 {
		maxWait = DefaultBulkMaxWait
	}
	return &BulkLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot, waiting at most maxWait. The caller must Release.
func (l *BulkLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyBulkSubmits
	}
}

// Release frees a slot taken by Acquire.
func (l *BulkLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// LimiterStatus is a point-in-time view of the limiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status reports current usage.
func (l *BulkLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        int(l.active.Load()),
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}

// WaitForDrain blocks until no bulk submit is active or ctx ends.
// The server calls it during shutdown.
func (l *BulkLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.active.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
