package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/refgrid/internal/audit"
	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/encode"
	"github.com/JonMunkholm/refgrid/internal/reconcile"
	"github.com/JonMunkholm/refgrid/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu        sync.Mutex
	rows      []core.Row
	submitted []string
	inflight  int
	peak      int

	retrieves atomic.Int32

	// Optional hooks. retrieveGate blocks Retrieve until closed or ctx ends.
	retrieveGate  chan struct{}
	retrieveStart chan struct{}
	submitErr     func(payload string) error
	submitDelay   time.Duration
	retrieveErr   error
}

func (f *fakeGateway) Retrieve(ctx context.Context, table string, filters url.Values) ([]core.Row, error) {
	f.retrieves.Add(1)
	if f.retrieveStart != nil {
		select {
		case f.retrieveStart <- struct{}{}:
		default:
		}
	}
	if f.retrieveGate != nil {
		select {
		case <-f.retrieveGate:
		case <-ctx.Done():
			return nil, &core.TransportError{Op: "retrieve", Table: table, Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	out := core.CloneRows(f.rows)
	for i := range out {
		out[i].ID = ""
	}
	return out, nil
}

func (f *fakeGateway) Submit(ctx context.Context, table, payload string) error {
	f.mu.Lock()
	f.inflight++
	f.peak = max(f.peak, f.inflight)
	f.mu.Unlock()

	time.Sleep(f.submitDelay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	f.submitted = append(f.submitted, payload)
	if f.submitErr != nil {
		return f.submitErr(payload)
	}
	return nil
}

func (f *fakeGateway) payloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

type fixture struct {
	gw  *fakeGateway
	d   *Dispatcher
	s   *schema.TableSchema
	key schema.CacheKey
	log *audit.MemoryStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := schema.New("ACCTS", []schema.Field{
		{Name: "ACCT", Role: schema.RoleKey},
		{Name: "NAME", Role: schema.RoleAlpha, Required: true},
		{Name: "BAL", Role: schema.RoleNumeric, Kind: schema.KindNumber},
	}, "REGION")
	require.NoError(t, err)

	reg := schema.NewRegistry()
	reg.Register(s)

	gw := &fakeGateway{rows: []core.Row{
		core.NewRow("", map[string]any{"ACCT": "A1", "NAME": "Alpha", "BAL": 10}),
		core.NewRow("", map[string]any{"ACCT": "A2", "NAME": "Beta", "BAL": 20}),
		core.NewRow("", map[string]any{"ACCT": "A3", "NAME": "Gamma", "BAL": 30}),
	}}
	log := audit.NewMemoryStore(0)
	opts = append([]Option{WithRecorder(log), WithBulkLimiter(NewBulkLimiter(1, time.Second))}, opts...)
	d := New(gw, reg, encode.New('|', reg), opts...)

	key, err := s.CacheKey(map[string]string{"REGION": "east"})
	require.NoError(t, err)

	return &fixture{gw: gw, d: d, s: s, key: key, log: log}
}

func (f *fixture) load(t *testing.T) []core.Row {
	t.Helper()
	rows, err := f.d.Fetch(context.Background(), f.key)
	require.NoError(t, err)
	return rows
}

func (f *fixture) id(acct string) string {
	return f.s.RowID(acct)
}

func (f *fixture) cached(t *testing.T, acct string) (core.Row, bool) {
	t.Helper()
	rows, ok := f.d.Rows(f.key)
	require.True(t, ok)
	for _, r := range rows {
		if r.ID == f.id(acct) {
			return r, true
		}
	}
	return core.Row{}, false
}

var errRejected = errors.New("rejected by gateway")

func TestFetch_CachesAndAssignsStableIDs(t *testing.T) {
	f := newFixture(t)

	rows := f.load(t)
	require.Len(t, rows, 3)
	assert.Equal(t, f.id("A1"), rows[0].ID)

	again := f.load(t)
	assert.Equal(t, rows, again)
	assert.Equal(t, int32(1), f.gw.retrieves.Load(), "second fetch served from cache")

	refreshed, err := f.d.Refresh(context.Background(), f.key)
	require.NoError(t, err)
	assert.Equal(t, rows, refreshed, "refetching yields the same ids")
}

func TestFetch_UnknownTable(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Fetch(context.Background(), schema.CacheKey{Table: "NOPE"})
	var nf *core.SchemaNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestFetch_ConcurrentCallersShareOneRetrieve(t *testing.T) {
	f := newFixture(t)
	f.gw.retrieveGate = make(chan struct{})
	f.gw.retrieveStart = make(chan struct{}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := f.d.Fetch(context.Background(), f.key)
			assert.NoError(t, err)
			assert.Len(t, rows, 3)
		}()
	}

	<-f.gw.retrieveStart
	time.Sleep(20 * time.Millisecond)
	close(f.gw.retrieveGate)
	wg.Wait()

	assert.Equal(t, int32(1), f.gw.retrieves.Load())
}

func TestMutations_RequireLoadedView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.Create(ctx, f.key, map[string]any{"ACCT": "A9", "NAME": "New"})
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	f.load(t)
	_, err = f.d.Update(ctx, f.key, "missing", map[string]any{"NAME": "x"})
	assert.ErrorIs(t, err, core.ErrRowNotFound)
	assert.ErrorIs(t, f.d.Delete(ctx, f.key, "missing"), core.ErrRowNotFound)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	row, err := f.d.Create(context.Background(), f.key, map[string]any{"ACCT": "A9", "NAME": "New", "BAL": "5.50"})
	require.NoError(t, err)
	assert.Equal(t, f.id("A9"), row.ID)

	assert.Equal(t, []string{"A|A9|New|5.5"}, f.gw.payloads())
	_, ok := f.cached(t, "A9")
	assert.True(t, ok)

	entries, _ := f.log.List(context.Background(), audit.Filter{})
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusOK, entries[0].Status)
	assert.Equal(t, "A", entries[0].RecordType)
}

func TestCreate_DuplicateKey(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	_, err := f.d.Create(context.Background(), f.key, map[string]any{"ACCT": "A1", "NAME": "Again"})
	var verrs core.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Empty(t, f.gw.payloads())
}

func TestCreate_FailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.gw.submitErr = func(string) error { return errRejected }

	_, err := f.d.Create(context.Background(), f.key, map[string]any{"ACCT": "A9", "NAME": "New"})

	var te *core.TransportError
	require.True(t, errors.As(err, &te), "plain gateway errors are wrapped")
	assert.ErrorIs(t, err, errRejected)

	_, ok := f.cached(t, "A9")
	assert.False(t, ok)

	failed, _ := f.log.List(context.Background(), audit.Filter{Status: audit.StatusFailed})
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "rejected")
}

func TestValidationBlocksBeforeCacheOrSubmit(t *testing.T) {
	f := newFixture(t)
	before := f.load(t)

	_, err := f.d.Create(context.Background(), f.key, map[string]any{"ACCT": "A9", "NAME": "", "BAL": "abc"})
	var verrs core.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)

	_, err = f.d.Update(context.Background(), f.key, f.id("A1"), map[string]any{"NAME": "  "})
	require.Error(t, err)

	_, err = f.d.Update(context.Background(), f.key, f.id("A1"), map[string]any{"NAME": "a|b"})
	var encErr *core.EncodingError
	require.True(t, errors.As(err, &encErr))

	after, _ := f.d.Rows(f.key)
	assert.Equal(t, before, after)
	assert.Empty(t, f.gw.payloads())
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	row, err := f.d.Update(context.Background(), f.key, f.id("A2"), map[string]any{"BAL": 25})
	require.NoError(t, err)
	bal, _ := row.Get("BAL")
	assert.Equal(t, 25, bal)

	assert.Equal(t, []string{"C|A2|Beta|25"}, f.gw.payloads())
	cached, _ := f.cached(t, "A2")
	bal, _ = cached.Get("BAL")
	assert.Equal(t, 25, bal)
}

func TestUpdate_KeyChangeRejected(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	_, err := f.d.Update(context.Background(), f.key, f.id("A2"), map[string]any{"ACCT": "A7"})
	var verrs core.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "ACCT", verrs[0].Field)

	_, err = f.d.Update(context.Background(), f.key, f.id("A2"), map[string]any{"ACCT": " A2 "})
	assert.NoError(t, err, "whitespace does not change the key")
}

func TestUpdate_FailureRestoresRow(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.gw.submitErr = func(string) error { return errRejected }

	_, err := f.d.Update(context.Background(), f.key, f.id("A2"), map[string]any{"NAME": "Changed"})
	require.Error(t, err)

	cached, _ := f.cached(t, "A2")
	name, _ := cached.Get("NAME")
	assert.Equal(t, "Beta", name)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	require.NoError(t, f.d.Delete(context.Background(), f.key, f.id("A2")))
	assert.Equal(t, []string{"D|A2"}, f.gw.payloads())
	_, ok := f.cached(t, "A2")
	assert.False(t, ok)
}

func TestDelete_FailureReinsertsInPlace(t *testing.T) {
	f := newFixture(t)
	before := f.load(t)
	f.gw.submitErr = func(string) error { return errRejected }

	require.Error(t, f.d.Delete(context.Background(), f.key, f.id("A2")))

	after, _ := f.d.Rows(f.key)
	assert.Equal(t, before, after)
}

// A failed mutation restores only its own row; a concurrent successful edit
// to another row of the same view survives the rollback.
func TestRollback_IsRowLevel(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.gw.submitDelay = 30 * time.Millisecond
	f.gw.submitErr = func(p string) error {
		if strings.Contains(p, "|A1|") {
			return errRejected
		}
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.d.Update(context.Background(), f.key, f.id("A1"), map[string]any{"NAME": "Lost"})
		assert.Error(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.d.Update(context.Background(), f.key, f.id("A3"), map[string]any{"NAME": "Kept"})
		assert.NoError(t, err)
	}()
	wg.Wait()

	a1, _ := f.cached(t, "A1")
	a3, _ := f.cached(t, "A3")
	name1, _ := a1.Get("NAME")
	name3, _ := a3.Get("NAME")
	assert.Equal(t, "Alpha", name1)
	assert.Equal(t, "Kept", name3)
}

func TestSameRowEditsAreSerialized(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.gw.submitDelay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(bal int) {
			defer wg.Done()
			_, err := f.d.Update(context.Background(), f.key, f.id("A1"), map[string]any{"BAL": bal})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	f.gw.mu.Lock()
	peak := f.gw.peak
	f.gw.mu.Unlock()
	assert.Equal(t, 1, peak, "edits to one row never overlap")

	payloads := f.gw.payloads()
	require.Len(t, payloads, 5)
	last := payloads[len(payloads)-1]

	cached, _ := f.cached(t, "A1")
	bal, _ := cached.Get("BAL")
	assert.True(t, strings.HasSuffix(last, "|"+core.AsString(bal)), "cache holds the last write: %s vs %v", last, bal)
	assert.Zero(t, f.d.Status().RowLocks)
}

func TestMutationCancelsInFlightFetch(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	f.gw.retrieveGate = make(chan struct{})
	f.gw.retrieveStart = make(chan struct{}, 1)

	refreshed := make(chan []core.Row, 1)
	go func() {
		rows, err := f.d.Refresh(context.Background(), f.key)
		assert.NoError(t, err)
		refreshed <- rows
	}()
	<-f.gw.retrieveStart

	_, err := f.d.Update(context.Background(), f.key, f.id("A1"), map[string]any{"NAME": "Optimistic"})
	require.NoError(t, err)

	select {
	case rows := <-refreshed:
		for _, r := range rows {
			if r.ID == f.id("A1") {
				name, _ := r.Get("NAME")
				assert.Equal(t, "Optimistic", name, "stale fetch must not overwrite the write")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("refresh was not cancelled by the write")
	}

	cached, _ := f.cached(t, "A1")
	name, _ := cached.Get("NAME")
	assert.Equal(t, "Optimistic", name)
}

func TestInvalidateCancelsFirstFetch(t *testing.T) {
	f := newFixture(t)
	f.gw.retrieveGate = make(chan struct{})
	f.gw.retrieveStart = make(chan struct{}, 1)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.d.Fetch(context.Background(), f.key)
		errCh <- err
	}()
	<-f.gw.retrieveStart
	f.d.Invalidate(f.key)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrFetchSuperseded)
	case <-time.After(time.Second):
		t.Fatal("fetch was not cancelled")
	}
	_, ok := f.d.Rows(f.key)
	assert.False(t, ok)
}

func TestReconcileAndApplyBulk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	imported := []core.Row{
		core.NewRow("", map[string]any{"ACCT": "A1", "NAME": "Alpha", "BAL": 10.00001}),
		core.NewRow("", map[string]any{"ACCT": "A2", "NAME": "Beta", "BAL": 21}),
		core.NewRow("", map[string]any{"ACCT": "A4", "NAME": "Delta", "BAL": 40}),
	}
	res, err := f.d.Reconcile(ctx, f.key, imported)
	require.NoError(t, err)
	assert.Equal(t, reconcile.Summary{Imported: 3, Unchanged: 1, Modified: 1, Added: 1}, res.Summary())

	report, err := f.d.ApplyBulk(ctx, f.key, res)
	require.NoError(t, err)
	assert.Equal(t, BulkReport{Added: 1, Modified: 1, Commands: 2}, report)
	assert.Equal(t, []string{"C|A2|Beta|21,END_RECA|A4|Delta|40"}, f.gw.payloads())

	rows, _ := f.d.Rows(f.key)
	assert.Len(t, rows, 4)

	entries, _ := f.log.List(ctx, audit.Filter{})
	require.Len(t, entries, 1)
	assert.Equal(t, audit.RecordTypeBulk, entries[0].RecordType)
	assert.Equal(t, 2, entries[0].RowCount)
}

func TestApplyBulk_FailureRollsBackEveryRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.load(t)
	f.gw.submitErr = func(string) error { return errRejected }

	res, err := f.d.Reconcile(ctx, f.key, []core.Row{
		core.NewRow("", map[string]any{"ACCT": "A2", "NAME": "Beta", "BAL": 21}),
		core.NewRow("", map[string]any{"ACCT": "A4", "NAME": "Delta", "BAL": 40}),
	})
	require.NoError(t, err)

	_, err = f.d.ApplyBulk(ctx, f.key, res)
	require.Error(t, err)

	after, _ := f.d.Rows(f.key)
	assert.Equal(t, before, after)
}

func TestApplyBulk_ValidationReportsLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.d.Reconcile(ctx, f.key, []core.Row{
		core.NewRow("", map[string]any{"ACCT": "A1", "NAME": "Alpha", "BAL": 10}),
		core.NewRow("", map[string]any{"ACCT": "A5", "NAME": "", "BAL": 1}),
	})
	require.NoError(t, err)

	_, err = f.d.ApplyBulk(ctx, f.key, res)
	var verrs core.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs[0].Message, "line 2")
	assert.Empty(t, f.gw.payloads())
}

func TestApplyBulk_BatchSeparatorInValueSendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.load(t)

	res, err := f.d.Reconcile(ctx, f.key, []core.Row{
		core.NewRow("", map[string]any{"ACCT": "A4", "NAME": "ok", "BAL": 40}),
		core.NewRow("", map[string]any{"ACCT": "A5", "NAME": "x,END_RECD", "BAL": 50}),
	})
	require.NoError(t, err)

	_, err = f.d.ApplyBulk(ctx, f.key, res)
	var encErr *core.EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, "NAME", encErr.Field)
	assert.Contains(t, err.Error(), "line 2")

	assert.Empty(t, f.gw.payloads())
	after, _ := f.d.Rows(f.key)
	assert.Equal(t, before, after)
}

func TestApplyBulk_NothingPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.d.Reconcile(ctx, f.key, []core.Row{
		core.NewRow("", map[string]any{"ACCT": "A1", "NAME": "Alpha", "BAL": 10}),
	})
	require.NoError(t, err)

	report, err := f.d.ApplyBulk(ctx, f.key, res)
	require.NoError(t, err)
	assert.Zero(t, report.Commands)
	assert.Empty(t, f.gw.payloads())
}

func TestInvalidateTable(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	other, err := f.s.CacheKey(map[string]string{"REGION": "west"})
	require.NoError(t, err)
	_, err = f.d.Fetch(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 2, f.d.Status().CachedViews)

	f.d.InvalidateTable("ACCTS")
	assert.Zero(t, f.d.Status().CachedViews)
}

// fakeClock advances one second per reading unless moved explicitly.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (f *fixture) regionKey(t *testing.T, region string) schema.CacheKey {
	t.Helper()
	key, err := f.s.CacheKey(map[string]string{"REGION": region})
	require.NoError(t, err)
	return key
}

func TestCache_ViewCountIsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := range 1000 {
		_, err := f.d.Fetch(ctx, f.regionKey(t, fmt.Sprintf("r%d", i)))
		require.NoError(t, err)
	}
	assert.Equal(t, DefaultMaxViews, f.d.Status().CachedViews)
}

func TestCache_EvictsLeastRecentlyUsedView(t *testing.T) {
	f := newFixture(t, WithCacheLimits(3, 0))
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.d.now = clock.now
	ctx := context.Background()

	r0, r1, r2, r3 := f.regionKey(t, "r0"), f.regionKey(t, "r1"), f.regionKey(t, "r2"), f.regionKey(t, "r3")
	for _, key := range []schema.CacheKey{r0, r1, r2} {
		_, err := f.d.Fetch(ctx, key)
		require.NoError(t, err)
	}

	_, ok := f.d.Rows(r0)
	require.True(t, ok)

	_, err := f.d.Fetch(ctx, r3)
	require.NoError(t, err)
	assert.Equal(t, 3, f.d.Status().CachedViews)

	_, ok = f.d.Rows(r1)
	assert.False(t, ok, "least recently used view is evicted")
	for _, key := range []schema.CacheKey{r0, r2, r3} {
		_, ok := f.d.Rows(key)
		assert.True(t, ok, key.String())
	}
}

func TestCache_ExpiredViewIsReloaded(t *testing.T) {
	f := newFixture(t, WithCacheLimits(10, time.Minute))
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.d.now = clock.now
	ctx := context.Background()

	f.load(t)
	_, err := f.d.Fetch(ctx, f.key)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.gw.retrieves.Load())

	clock.advance(2 * time.Minute)
	_, ok := f.d.Rows(f.key)
	assert.False(t, ok)
	assert.Zero(t, f.d.Status().CachedViews)

	_, err = f.d.Fetch(ctx, f.key)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.gw.retrieves.Load())
}

func TestFetch_FailedFirstFetchLeavesNoView(t *testing.T) {
	f := newFixture(t)
	f.gw.retrieveErr = &core.TransportError{Op: "retrieve", Table: "ACCTS", Status: 503}

	_, err := f.d.Fetch(context.Background(), f.key)
	var te *core.TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, f.d.Status().CachedViews)
}

func TestRefresh_FailureKeepsLoadedView(t *testing.T) {
	f := newFixture(t)
	before := f.load(t)
	f.gw.mu.Lock()
	f.gw.retrieveErr = errRejected
	f.gw.mu.Unlock()

	_, err := f.d.Refresh(context.Background(), f.key)
	require.Error(t, err)

	after, ok := f.d.Rows(f.key)
	require.True(t, ok)
	assert.Equal(t, before, after)
}
