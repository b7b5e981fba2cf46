// Package dispatch owns the row cache behind the grid and applies mutations
// to it optimistically.
//
// Every mutation follows the same protocol:
//
//  1. Validate and encode the row. Errors block the save before anything
//     changes.
//  2. Take the row lock, so edits to one row apply one at a time.
//  3. Cancel any in-flight fetch for the cache key. This happens before the
//     optimistic write, so a slow fetch cannot overwrite it.
//  4. Apply the change to the cache, remembering the previous row.
//  5. Submit the command. On failure restore the previous row and return
//     a *core.TransportError; on success keep the optimistic state.
//
// Rollback restores only the rows the failed mutation touched. Concurrent
// edits to other rows of the same view are kept.
package dispatch

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/JonMunkholm/refgrid/internal/audit"
	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/encode"
	"github.com/JonMunkholm/refgrid/internal/logging"
	"github.com/JonMunkholm/refgrid/internal/reconcile"
	"github.com/JonMunkholm/refgrid/internal/schema"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrFetchSuperseded is returned when a fetch for a view that was never
// loaded is cancelled by an invalidation.
var ErrFetchSuperseded = errors.New("fetch superseded by a newer change")

// Cache bounds used when no WithCacheLimits option is given.
const (
	DefaultMaxViews = 256
	DefaultViewTTL  = 30 * time.Minute
)

// Gateway is the transport the dispatcher reads from and submits to.
// *gateway.Client satisfies it.
type Gateway interface {
	Retrieve(ctx context.Context, table string, filters url.Values) ([]core.Row, error)
	Submit(ctx context.Context, table, payload string) error
}

// Dispatcher caches row collections per cache key and mutates them.
// It is safe for concurrent use.
type Dispatcher struct {
	gw       Gateway
	registry *schema.Registry
	encoder  *encode.Encoder
	engine   *reconcile.Engine
	recorder audit.Recorder
	limiter  *BulkLimiter

	maxViews int
	viewTTL  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[schema.CacheKey]*entry
	fetches singleflight.Group
	locks   *rowLocks
}

type entry struct {
	rows     []core.Row
	loaded   bool
	loadedAt time.Time
	usedAt   time.Time // last read or write; least recent is evicted first

	gen     uint64 // bumped by every write; a fetch that sees it move is stale
	cancel  context.CancelFunc
	fetchID uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder sets the command log. The default discards entries.
func WithRecorder(r audit.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithBulkLimiter bounds concurrent bulk submits.
func WithBulkLimiter(l *BulkLimiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithEngine sets the reconciliation engine used by Reconcile.
func WithEngine(e *reconcile.Engine) Option {
	return func(d *Dispatcher) { d.engine = e }
}

// WithCacheLimits bounds the row cache: at most maxViews cached views, each
// reloaded from the gateway once it is older than ttl. A zero ttl keeps
// views until they are evicted or invalidated.
func WithCacheLimits(maxViews int, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if maxViews > 0 {
			d.maxViews = maxViews
		}
		if ttl >= 0 {
			d.viewTTL = ttl
		}
	}
}

// New creates a dispatcher.
func New(gw Gateway, registry *schema.Registry, enc *encode.Encoder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gw:       gw,
		registry: registry,
		encoder:  enc,
		engine:   reconcile.NewEngine(),
		recorder: audit.Nop{},
		limiter:  NewBulkLimiter(0, 0),
		maxViews: DefaultMaxViews,
		viewTTL:  DefaultViewTTL,
		now:      time.Now,
		entries:  make(map[schema.CacheKey]*entry),
		locks:    newRowLocks(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch returns the rows cached for key, loading them on first use.
func (d *Dispatcher) Fetch(ctx context.Context, key schema.CacheKey) ([]core.Row, error) {
	if rows, ok := d.Rows(key); ok {
		return rows, nil
	}
	return d.Refresh(ctx, key)
}

// Refresh loads rows from the gateway and replaces the cache entry.
// Concurrent refreshes of one key share a single gateway call.
func (d *Dispatcher) Refresh(ctx context.Context, key schema.CacheKey) ([]core.Row, error) {
	s, err := d.registry.Get(key.Table)
	if err != nil {
		return nil, err
	}

	ch := d.fetches.DoChan(key.String(), func() (any, error) {
		return d.load(ctx, s, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return core.CloneRows(res.Val.([]core.Row)), nil
	}
}

// load runs one gateway fetch. It is detached from the caller's cancellation
// because other callers may share it; writes and invalidations cancel it.
func (d *Dispatcher) load(ctx context.Context, s *schema.TableSchema, key schema.CacheKey) ([]core.Row, error) {
	logger := logging.WithFields(ctx, "table", key.Table, "cache_key", key.String())
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	d.mu.Lock()
	e := d.entryLocked(key)
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.fetchID++
	id, gen := e.fetchID, e.gen
	d.mu.Unlock()

	start := time.Now()
	rows, err := d.gw.Retrieve(fetchCtx, key.Table, key.Values())

	d.mu.Lock()
	defer d.mu.Unlock()

	if e.fetchID == id {
		e.cancel = nil
	}

	cur := d.entries[key]
	if cur != e || e.gen != gen || fetchCtx.Err() != nil {
		logger.Debug("discarding stale fetch", "duration_ms", time.Since(start).Milliseconds())
		if cur != nil && cur.loaded {
			return core.CloneRows(cur.rows), nil
		}
		if cur == e && e.cancel == nil {
			delete(d.entries, key)
		}
		return nil, ErrFetchSuperseded
	}
	if err != nil {
		if !e.loaded {
			delete(d.entries, key)
		}
		return nil, err
	}

	assignIDs(ctx, s, rows)
	e.rows = rows
	e.loaded = true
	e.loadedAt = d.now()
	e.usedAt = e.loadedAt

	logger.Info("rows loaded", "rows", len(rows), "duration_ms", time.Since(start).Milliseconds())
	return core.CloneRows(rows), nil
}

// assignIDs gives every fetched row its key-derived ID. Rows without a usable
// key, and later rows repeating a key, get a random ID so the grid can still
// show them.
func assignIDs(ctx context.Context, s *schema.TableSchema, rows []core.Row) {
	seen := make(map[string]bool, len(rows))
	for i := range rows {
		rows[i].ID = ""
		if err := s.AssignID(&rows[i]); err != nil || seen[rows[i].ID] {
			logging.FromContext(ctx).Warn("server row has no unique key",
				"table", s.Name, "position", i, "error", err)
			rows[i].ID = uuid.NewString()
		}
		seen[rows[i].ID] = true
	}
}

// Rows returns a copy of the cached rows for key, if loaded.
func (d *Dispatcher) Rows(key schema.CacheKey) ([]core.Row, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok || !e.loaded {
		return nil, false
	}
	if d.expiredLocked(e) {
		d.dropLocked(key)
		return nil, false
	}
	e.usedAt = d.now()
	return core.CloneRows(e.rows), true
}

// Invalidate drops the cache entry for key and cancels its in-flight fetch.
func (d *Dispatcher) Invalidate(key schema.CacheKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropLocked(key)
}

// InvalidateTable drops every cached view of table.
func (d *Dispatcher) InvalidateTable(table string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.entries {
		if key.Table == table {
			d.dropLocked(key)
		}
	}
}

func (d *Dispatcher) dropLocked(key schema.CacheKey) {
	if e, ok := d.entries[key]; ok {
		if e.cancel != nil {
			e.cancel()
		}
		delete(d.entries, key)
	}
}

func (d *Dispatcher) entryLocked(key schema.CacheKey) *entry {
	e, ok := d.entries[key]
	if !ok {
		d.evictLocked()
		e = &entry{usedAt: d.now()}
		d.entries[key] = e
	}
	return e
}

func (d *Dispatcher) expiredLocked(e *entry) bool {
	return d.viewTTL > 0 && e.loaded && d.now().Sub(e.loadedAt) > d.viewTTL
}

// evictLocked makes room for one more view: expired views go first, then the
// least recently used ones. Views with a fetch in flight are kept.
func (d *Dispatcher) evictLocked() {
	for key, e := range d.entries {
		if d.expiredLocked(e) {
			d.dropLocked(key)
		}
	}
	for len(d.entries) >= d.maxViews {
		var (
			oldest schema.CacheKey
			found  bool
			at     time.Time
		)
		for key, e := range d.entries {
			if e.cancel != nil {
				continue
			}
			if !found || e.usedAt.Before(at) {
				oldest, at, found = key, e.usedAt, true
			}
		}
		if !found {
			return
		}
		d.dropLocked(oldest)
	}
}

// Reconcile diffs imported rows against the server rows of key, fetching
// them first if the view is not cached.
func (d *Dispatcher) Reconcile(ctx context.Context, key schema.CacheKey, imported []core.Row) (reconcile.Result, error) {
	s, err := d.registry.Get(key.Table)
	if err != nil {
		return reconcile.Result{}, err
	}
	server, err := d.Fetch(ctx, key)
	if err != nil {
		return reconcile.Result{}, err
	}
	return d.engine.Reconcile(imported, server, s), nil
}

// Status is a snapshot of dispatcher state for health output.
type Status struct {
	CachedViews int           `json:"cachedViews"`
	RowLocks    int           `json:"rowLocks"`
	Bulk        LimiterStatus `json:"bulk"`
}

// Status reports cache and limiter usage.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	views := len(d.entries)
	d.mu.Unlock()
	return Status{CachedViews: views, RowLocks: d.locks.size(), Bulk: d.limiter.Status()}
}

// Limiter exposes the bulk limiter for shutdown draining.
func (d *Dispatcher) Limiter() *BulkLimiter { return d.limiter }

// beginWriteLocked cancels any in-flight fetch for key and marks the entry
// written. The caller holds d.mu.
func (d *Dispatcher) beginWriteLocked(key schema.CacheKey) (*entry, error) {
	e, ok := d.entries[key]
	if !ok || !e.loaded {
		return nil, core.ErrCacheMiss
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.gen++
	e.usedAt = d.now()
	return e, nil
}

// undo restores one row to its state before an optimistic write.
// A nil prev means the row did not exist.
type undo struct {
	id   string
	prev *core.Row
	pos  int
}

func (e *entry) indexOf(id string) int {
	return slices.IndexFunc(e.rows, func(r core.Row) bool { return r.ID == id })
}

// put replaces the row with the same ID or appends it.
func (e *entry) put(row core.Row) undo {
	i := e.indexOf(row.ID)
	if i < 0 {
		e.rows = append(e.rows, row)
		return undo{id: row.ID, pos: len(e.rows) - 1}
	}
	prev := e.rows[i]
	e.rows[i] = row
	return undo{id: row.ID, prev: &prev, pos: i}
}

// remove deletes the row with id. ok is false if it is not cached.
func (e *entry) remove(id string) (undo, bool) {
	i := e.indexOf(id)
	if i < 0 {
		return undo{}, false
	}
	prev := e.rows[i]
	e.rows = slices.Delete(e.rows, i, i+1)
	return undo{id: id, prev: &prev, pos: i}, true
}

func (e *entry) restore(u undo) {
	i := e.indexOf(u.id)
	switch {
	case u.prev == nil && i >= 0:
		e.rows = slices.Delete(e.rows, i, i+1)
	case u.prev != nil && i >= 0:
		e.rows[i] = *u.prev
	case u.prev != nil:
		e.rows = slices.Insert(e.rows, min(u.pos, len(e.rows)), *u.prev)
	}
}

// rollback undoes optimistic writes in reverse order. An entry invalidated
// in the meantime is left alone; its next fetch reloads server state.
func (d *Dispatcher) rollback(ctx context.Context, key schema.CacheKey, undos ...undo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok || !e.loaded {
		return
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.gen++
	for i := len(undos) - 1; i >= 0; i-- {
		e.restore(undos[i])
	}
	logging.FromContext(ctx).Info("optimistic change rolled back",
		"table", key.Table, "cache_key", key.String(), "rows", len(undos))
}

func lockName(key schema.CacheKey, id string) string {
	return key.String() + "\x00" + id
}

func (d *Dispatcher) lookup(table string) (*schema.TableSchema, schema.Strategy, error) {
	s, err := d.registry.Get(table)
	if err != nil {
		return nil, schema.Strategy{}, err
	}
	return s, d.registry.StrategyFor(table), nil
}
