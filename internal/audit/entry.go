// Package audit keeps the command log: one entry for every command or batch
// refgrid submitted to the gateway, whether the gateway accepted it or not.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a submission.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// RecordTypeBulk marks an entry for a joined batch payload.
const RecordTypeBulk = "BULK"

// DefaultListLimit caps List when the filter sets no limit.
const DefaultListLimit = 100

// Entry is one submitted command or batch.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Table      string    `json:"table"`
	RecordType string    `json:"recordType"` // A, C, D or BULK
	RowCount   int       `json:"rowCount"`
	Payload    string    `json:"payload"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Table  string
	Status Status
	Since  time.Time
	Limit  int
	Offset int
}

// Recorder stores entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Lister reads entries back, newest first.
type Lister interface {
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Purger deletes entries created before a cutoff.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full command log.
type Store interface {
	Recorder
	Lister
	Purger
}

// prepare fills the ID and timestamp of a new entry.
func prepare(e Entry, now time.Time) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.Status == "" {
		e.Status = StatusOK
	}
	return e
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f Filter) matches(e Entry) bool {
	if f.Table != "" && e.Table != f.Table {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
