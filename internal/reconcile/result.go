package reconcile

import (
	"github.com/JonMunkholm/refgrid/internal/core"
)

// Status classifies an imported row against the server snapshot.
type Status string

const (
	StatusUnchanged Status = "unchanged"
	StatusModified  Status = "modified"
	StatusAdded     Status = "added"
)

// Entry is the outcome for one imported row.
type Entry struct {
	Status  Status   `json:"status"`
	Line    int      `json:"line"` // 1-based position in the imported rows
	Key     string   `json:"key"`
	Row     core.Row `json:"row"`               // Merged row to display and persist
	Changed []string `json:"changed,omitempty"` // Fields that differ, in schema order
}

// WarningReason explains why a row was left out of the merge.
type WarningReason string

const (
	ReasonMissingKey         WarningReason = "missing key"
	ReasonInvalidKey         WarningReason = "invalid key"
	ReasonDuplicateImported  WarningReason = "duplicate key in import"
	ReasonDuplicateServerKey WarningReason = "duplicate key on server"
)

// Warning is a non-fatal reconciliation problem. Rows that produce a warning
// are excluded from the merged output but never silently.
type Warning struct {
	Reason  WarningReason `json:"reason"`
	Line    int           `json:"line"` // 1-based imported position; 0 for server rows
	Key     string        `json:"key,omitempty"`
	Field   string        `json:"field,omitempty"`
	Message string        `json:"message"`
}

// Summary holds the counts shown above a reconciliation preview.
type Summary struct {
	Imported  int `json:"imported"`
	Unchanged int `json:"unchanged"`
	Modified  int `json:"modified"`
	Added     int `json:"added"`
	Warnings  int `json:"warnings"`
}

// Result is the merged view of an import against the server rows.
// Entries keep the order of the imported rows.
type Result struct {
	Table    string    `json:"table"`
	Entries  []Entry   `json:"entries"`
	Warnings []Warning `json:"warnings"`
	imported int
}

// Summary counts entries per status.
func (r Result) Summary() Summary {
	sum := Summary{Imported: r.imported, Warnings: len(r.Warnings)}
	for _, e := range r.Entries {
		switch e.Status {
		case StatusUnchanged:
			sum.Unchanged++
		case StatusModified:
			sum.Modified++
		case StatusAdded:
			sum.Added++
		}
	}
	return sum
}

// Rows returns the merged rows in entry order.
func (r Result) Rows() []core.Row {
	rows := make([]core.Row, len(r.Entries))
	for i, e := range r.Entries {
		rows[i] = e.Row
	}
	return rows
}

// Pending returns the added and modified entries: the rows a bulk submit
// has to send.
func (r Result) Pending() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Status != StatusUnchanged {
			out = append(out, e)
		}
	}
	return out
}
