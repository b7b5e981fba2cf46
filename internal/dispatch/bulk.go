package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/refgrid/internal/audit"
	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/encode"
	"github.com/JonMunkholm/refgrid/internal/reconcile"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// BulkReport summarizes a submitted batch.
type BulkReport struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Commands int `json:"commands"`
}

// ApplyBulk submits every added and modified entry of res as one batch
// payload: added rows as A commands, modified rows as C commands, joined by
// the batch separator. Unchanged entries are not sent. The cache is patched
// optimistically and rolled back as a whole if the gateway rejects the batch.
//
// All rows are validated and encoded before anything is locked or sent;
// validation failures are reported per imported line.
func (d *Dispatcher) ApplyBulk(ctx context.Context, key schema.CacheKey, res reconcile.Result) (BulkReport, error) {
	s, st, err := d.lookup(key.Table)
	if err != nil {
		return BulkReport{}, err
	}
	if res.Table != s.Name {
		return BulkReport{}, fmt.Errorf("reconcile result for table %s cannot be applied to %s", res.Table, s.Name)
	}

	pending := res.Pending()
	if len(pending) == 0 {
		return BulkReport{}, nil
	}

	var (
		report BulkReport
		verrs  core.ValidationErrors
		cmds   = make([]encode.Command, 0, len(pending))
		names  = make([]string, 0, len(pending))
	)
	for _, ent := range pending {
		rt := core.RecordChange
		if ent.Status == reconcile.StatusAdded {
			rt = core.RecordAdd
		}

		if err := st.Validator.Validate(s, ent.Row, rt); err != nil {
			var ve core.ValidationErrors
			if !errors.As(err, &ve) {
				return BulkReport{}, fmt.Errorf("line %d: %w", ent.Line, err)
			}
			for _, v := range ve {
				lined := *v
				lined.Message = fmt.Sprintf("line %d: %s", ent.Line, v.Message)
				verrs = append(verrs, &lined)
			}
			continue
		}

		cmd, err := d.encoder.Command(ent.Row, rt, s)
		if err != nil {
			return BulkReport{}, fmt.Errorf("line %d: %w", ent.Line, err)
		}
		cmds = append(cmds, cmd)
		names = append(names, lockName(key, ent.Row.ID))

		if rt == core.RecordAdd {
			report.Added++
		} else {
			report.Modified++
		}
	}
	if err := verrs.Err(); err != nil {
		return BulkReport{}, err
	}
	report.Commands = len(cmds)
	payload := encode.JoinBatch(cmds)

	if err := d.limiter.Acquire(ctx); err != nil {
		return BulkReport{}, err
	}
	defer d.limiter.Release()

	unlock, err := d.locks.lock(ctx, names...)
	if err != nil {
		return BulkReport{}, err
	}
	defer unlock()

	d.mu.Lock()
	e, err := d.beginWriteLocked(key)
	if err != nil {
		d.mu.Unlock()
		return BulkReport{}, err
	}
	undos := make([]undo, 0, len(pending))
	for _, ent := range pending {
		undos = append(undos, e.put(ent.Row.Clone()))
	}
	d.mu.Unlock()

	if err := d.submit(ctx, key, audit.RecordTypeBulk, len(cmds), payload); err != nil {
		d.rollback(ctx, key, undos...)
		return BulkReport{}, err
	}
	return report, nil
}
