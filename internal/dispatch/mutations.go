package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/refgrid/internal/audit"
	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/gateway"
	"github.com/JonMunkholm/refgrid/internal/logging"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// Create builds a row from seed with the table's row factory, validates it
// and appends it to the cached view.
func (d *Dispatcher) Create(ctx context.Context, key schema.CacheKey, seed map[string]any) (core.Row, error) {
	s, st, err := d.lookup(key.Table)
	if err != nil {
		return core.Row{}, err
	}

	row := st.Factory.NewRow(s, seed)
	row.ID = ""
	if err := st.Validator.Validate(s, row, core.RecordAdd); err != nil {
		return core.Row{}, err
	}
	if err := s.AssignID(&row); err != nil {
		return core.Row{}, err
	}
	cmd, err := d.encoder.Command(row, core.RecordAdd, s)
	if err != nil {
		return core.Row{}, err
	}

	unlock, err := d.locks.lock(ctx, lockName(key, row.ID))
	if err != nil {
		return core.Row{}, err
	}
	defer unlock()

	d.mu.Lock()
	e, err := d.beginWriteLocked(key)
	if err != nil {
		d.mu.Unlock()
		return core.Row{}, err
	}
	if e.indexOf(row.ID) >= 0 {
		d.mu.Unlock()
		return core.Row{}, duplicateKeyError(s)
	}
	u := e.put(row.Clone())
	d.mu.Unlock()

	if err := d.submit(ctx, key, string(core.RecordAdd), 1, cmd.Encoded); err != nil {
		d.rollback(ctx, key, u)
		return core.Row{}, err
	}
	return row, nil
}

// Update applies changes to the cached row id and submits a change command.
// Key fields cannot be changed; delete and re-create the row instead.
func (d *Dispatcher) Update(ctx context.Context, key schema.CacheKey, id string, changes map[string]any) (core.Row, error) {
	s, st, err := d.lookup(key.Table)
	if err != nil {
		return core.Row{}, err
	}

	unlock, err := d.locks.lock(ctx, lockName(key, id))
	if err != nil {
		return core.Row{}, err
	}
	defer unlock()

	current, err := d.cachedRow(key, id)
	if err != nil {
		return core.Row{}, err
	}

	updated := current.Clone()
	for name, v := range changes {
		updated.Set(name, v)
	}
	if err := keysUnchanged(s, current, updated); err != nil {
		return core.Row{}, err
	}
	if err := st.Validator.Validate(s, updated, core.RecordChange); err != nil {
		return core.Row{}, err
	}
	cmd, err := d.encoder.Command(updated, core.RecordChange, s)
	if err != nil {
		return core.Row{}, err
	}

	d.mu.Lock()
	e, err := d.beginWriteLocked(key)
	if err != nil {
		d.mu.Unlock()
		return core.Row{}, err
	}
	if e.indexOf(id) < 0 {
		d.mu.Unlock()
		return core.Row{}, core.ErrRowNotFound
	}
	u := e.put(updated.Clone())
	d.mu.Unlock()

	if err := d.submit(ctx, key, string(core.RecordChange), 1, cmd.Encoded); err != nil {
		d.rollback(ctx, key, u)
		return core.Row{}, err
	}
	return updated, nil
}

// Delete removes the cached row id and submits a delete command carrying
// its key fields.
func (d *Dispatcher) Delete(ctx context.Context, key schema.CacheKey, id string) error {
	s, st, err := d.lookup(key.Table)
	if err != nil {
		return err
	}

	unlock, err := d.locks.lock(ctx, lockName(key, id))
	if err != nil {
		return err
	}
	defer unlock()

	current, err := d.cachedRow(key, id)
	if err != nil {
		return err
	}
	if err := st.Validator.Validate(s, current, core.RecordDelete); err != nil {
		return err
	}
	cmd, err := d.encoder.Command(current, core.RecordDelete, s)
	if err != nil {
		return err
	}

	d.mu.Lock()
	e, err := d.beginWriteLocked(key)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	u, ok := e.remove(id)
	d.mu.Unlock()
	if !ok {
		return core.ErrRowNotFound
	}

	if err := d.submit(ctx, key, string(core.RecordDelete), 1, cmd.Encoded); err != nil {
		d.rollback(ctx, key, u)
		return err
	}
	return nil
}

func (d *Dispatcher) cachedRow(key schema.CacheKey, id string) (core.Row, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok || !e.loaded {
		return core.Row{}, core.ErrCacheMiss
	}
	i := e.indexOf(id)
	if i < 0 {
		return core.Row{}, core.ErrRowNotFound
	}
	return e.rows[i].Clone(), nil
}

// submit sends a payload and records it in the command log. The send is
// detached from the caller's cancellation; the gateway timeout bounds it.
func (d *Dispatcher) submit(ctx context.Context, key schema.CacheKey, recordType string, rows int, payload string) error {
	logger := logging.WithFields(ctx, "table", key.Table, "record_type", recordType, "rows", rows)
	start := time.Now()

	err := d.gw.Submit(context.WithoutCancel(ctx), key.Table, payload)
	if err != nil {
		var te *core.TransportError
		if !errors.As(err, &te) {
			err = &core.TransportError{Op: gateway.OpUpdate, Table: key.Table, Err: err}
		}
	}

	meta := core.RequestMetaFrom(ctx)
	e := audit.Entry{
		Table:      key.Table,
		RecordType: recordType,
		RowCount:   rows,
		Payload:    payload,
		Status:     audit.StatusOK,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Status = audit.StatusFailed
		e.Error = err.Error()
	}
	if rerr := d.recorder.Record(context.WithoutCancel(ctx), e); rerr != nil {
		logger.Warn("command log write failed", "error", rerr)
	}

	if err != nil {
		logger.Warn("command rejected", "error", err, "duration_ms", e.DurationMs)
		return err
	}
	logger.Info("command submitted", "duration_ms", e.DurationMs)
	return nil
}

func duplicateKeyError(s *schema.TableSchema) error {
	return core.ValidationErrors{{
		Table:   s.Name,
		Field:   s.KeyFields()[0],
		Message: "a row with this key already exists",
	}}
}

// keysUnchanged rejects edits that would move a row to a different key.
func keysUnchanged(s *schema.TableSchema, before, after core.Row) error {
	var errs core.ValidationErrors
	for _, name := range s.KeyFields() {
		old, _ := before.Get(name)
		cur, _ := after.Get(name)
		if s.KeyValue(name, old) != s.KeyValue(name, cur) {
			errs = append(errs, &core.ValidationError{
				Table:   s.Name,
				Field:   name,
				Value:   core.AsString(cur),
				Message: fmt.Sprintf("key field cannot be changed (was %q)", core.AsString(old)),
			})
		}
	}
	return errs.Err()
}
