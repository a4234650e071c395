package audit_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revlog/internal/audit"
	"github.com/roach88/revlog/internal/records"
	"github.com/roach88/revlog/internal/store"
	"github.com/roach88/revlog/internal/testutil"
)

type article struct {
	ID        int64     `revlog:"id,pk,auto"`
	Title     string    `revlog:"title"`
	Body      string    `revlog:"body"`
	Views     int       `revlog:"views"`
	CreatedAt time.Time `revlog:"created_at,created"`
	UpdatedAt time.Time `revlog:"updated_at,updated"`
}

type fixture struct {
	engine   *audit.Engine
	session  *records.Session
	changes  *store.Store
	records  *records.Store
	registry *audit.Registry
	meta     *audit.TypeMeta
	clock    *testutil.DeterministicClock
}

func newFixture(t *testing.T, p audit.Policy, opts ...audit.Option) *fixture {
	t.Helper()
	clock := testutil.NewDeterministicClock()

	changes, err := store.Open(filepath.Join(t.TempDir(), "audit.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { changes.Close() })

	reg := audit.NewRegistry()
	meta, err := reg.RegisterStruct(article{}, p)
	require.NoError(t, err)

	recs := records.New(changes.DB())
	require.NoError(t, recs.EnsureTable(context.Background(), meta))

	f := &fixture{
		changes:  changes,
		records:  recs,
		registry: reg,
		meta:     meta,
		clock:    clock,
	}
	f.wire(changes, opts...)
	return f
}

// wire rebuilds the engine and session over cs, sharing the fixture's
// database and registry.
func (f *fixture) wire(cs audit.ChangeStore, opts ...audit.Option) {
	f.engine = audit.NewEngine(f.registry, cs, f.records, opts...)
	f.session = records.NewSession(f.records, f.registry, f.engine.Tracker(), records.WithNow(f.clock.Now))
}

func (f *fixture) create(t *testing.T, ctx context.Context, title string) *article {
	t.Helper()
	a := &article{Title: title, Body: "body"}
	require.NoError(t, f.session.Create(ctx, a))
	return a
}

func (f *fixture) retitle(t *testing.T, ctx context.Context, a *article, title string) {
	t.Helper()
	a.Title = title
	require.NoError(t, f.session.Save(ctx, a))
}

func (f *fixture) history(t *testing.T, a *article) []audit.Change {
	t.Helper()
	h, err := f.engine.ChangeHistoryOf(context.Background(), a)
	require.NoError(t, err)
	return h
}

func (f *fixture) live(t *testing.T, a *article) *article {
	t.Helper()
	rec, err := f.engine.Load(context.Background(), "article", f.key(t, a))
	require.NoError(t, err)
	return rec.(*article)
}

func (f *fixture) key(t *testing.T, a *article) string {
	t.Helper()
	k, err := f.meta.Key(a)
	require.NoError(t, err)
	return k
}

func TestCreate_RecordsEmptyChangeSet(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := audit.WithActor(context.Background(), audit.NewActor("alice", strings.ToUpper))

	a := f.create(t, ctx, "A")

	h := f.history(t, a)
	require.Len(t, h, 1)
	c := h[0]
	assert.Equal(t, audit.ActionCreate, c.Action)
	assert.Equal(t, "article", c.ItemType)
	assert.Equal(t, "1", c.ItemID)
	assert.Empty(t, c.ChangeSet)
	assert.Nil(t, c.Snapshot)
	require.NotNil(t, c.ActorID)
	assert.Equal(t, "alice", *c.ActorID)
	require.NotNil(t, c.ActorDisplay)
	assert.Equal(t, "ALICE", *c.ActorDisplay)
}

func TestCreate_WithoutActor(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	a := f.create(t, context.Background(), "A")

	c := f.history(t, a)[0]
	assert.Nil(t, c.ActorID)
	assert.Nil(t, c.ActorDisplay)
}

func TestUpdate_RecordsChangedFieldsAndSnapshot(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")

	f.retitle(t, ctx, a, "B")

	h := f.history(t, a)
	require.Len(t, h, 2)
	c := h[1]
	assert.Equal(t, audit.ActionUpdate, c.Action)
	assert.Equal(t, []string{"title"}, c.ChangeSet.Fields())
	assert.Equal(t, "A", c.ChangeSet["title"].Before)
	assert.Equal(t, "B", c.ChangeSet["title"].After)

	require.NotNil(t, c.Snapshot)
	assert.Equal(t, "A", c.Snapshot["title"])
	assert.Equal(t, "body", c.Snapshot["body"])
	assert.True(t, audit.LooseEqual(1, c.Snapshot["id"]))
	assert.NotContains(t, c.Snapshot, "updated_at")
	assert.NotContains(t, c.Snapshot, "created_at")
}

func TestUpdate_TimestampOnlyIsNotRecorded(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")

	require.NoError(t, f.session.Save(ctx, a))

	assert.Len(t, f.history(t, a), 1)
}

func TestUpdate_TrackTimestamps(t *testing.T) {
	f := newFixture(t, audit.Policy{TrackTimestamps: true})
	ctx := context.Background()
	a := f.create(t, ctx, "A")

	require.NoError(t, f.session.Save(ctx, a))

	h := f.history(t, a)
	require.Len(t, h, 2)
	assert.Equal(t, []string{"updated_at"}, h[1].ChangeSet.Fields())
	assert.Contains(t, h[1].Snapshot, "created_at")
}

func TestUpdate_ExceptedFieldIgnored(t *testing.T) {
	f := newFixture(t, audit.Policy{Except: []string{"views"}})
	ctx := context.Background()
	a := f.create(t, ctx, "A")

	a.Views = 10
	require.NoError(t, f.session.Save(ctx, a))
	assert.Len(t, f.history(t, a), 1)

	a.Views = 11
	a.Title = "B"
	require.NoError(t, f.session.Save(ctx, a))

	h := f.history(t, a)
	require.Len(t, h, 2)
	assert.Equal(t, []string{"title"}, h[1].ChangeSet.Fields())
	assert.NotContains(t, h[1].Snapshot, "views")
}

func TestUpdate_OnlyNarrowsFields(t *testing.T) {
	f := newFixture(t, audit.Policy{Only: []string{"title"}})
	ctx := context.Background()
	a := f.create(t, ctx, "A")

	a.Body = "changed"
	require.NoError(t, f.session.Save(ctx, a))
	assert.Len(t, f.history(t, a), 1)

	f.retitle(t, ctx, a, "B")
	h := f.history(t, a)
	require.Len(t, h, 2)
	assert.Equal(t, map[string]any{"title": "A"}, h[1].Snapshot)
}

func TestUpdate_WithoutBeforeStateIsNotAudited(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")

	c, err := f.engine.CreateChangeEntry(ctx, a, audit.ActionUpdate, nil)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Len(t, f.history(t, a), 1)
}

func TestCreateChangeEntry_InvalidAction(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	_, err := f.engine.CreateChangeEntry(context.Background(), &article{ID: 1}, audit.Action("touch"), nil)

	var ae *audit.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, audit.CodeInvalidRecord, ae.Code)
}

func TestCreateChangeEntry_UnknownType(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	type stranger struct{ ID int64 }

	_, err := f.engine.CreateChangeEntry(context.Background(), &stranger{ID: 1}, audit.ActionCreate, nil)
	assert.True(t, audit.IsUnknownType(err))
}

func TestDestroy_RecordsSnapshot(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")

	require.NoError(t, f.session.Destroy(ctx, a))

	h := f.history(t, a)
	require.Len(t, h, 3)
	c := h[2]
	assert.Equal(t, audit.ActionDestroy, c.Action)
	assert.Empty(t, c.ChangeSet)
	assert.Equal(t, "B", c.Snapshot["title"])

	_, err := f.engine.Load(ctx, "article", "1")
	assert.True(t, audit.IsNotFound(err))
}

func TestHistoryNavigation(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")
	f.retitle(t, ctx, a, "C")

	h := f.history(t, a)
	require.Len(t, h, 3)

	oldest, err := f.engine.OldestChange(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, h[0].ID, oldest.ID)

	newest, err := f.engine.MostRecentChange(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, h[2].ID, newest.ID)

	for i := range h {
		idx, err := f.engine.VersionIndex(ctx, &h[i])
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}

	next, err := f.engine.Next(ctx, &h[0])
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, h[1].ID, next.ID)

	prev, err := f.engine.Previous(ctx, &h[2])
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, h[1].ID, prev.ID)

	none, err := f.engine.Next(ctx, &h[2])
	require.NoError(t, err)
	assert.Nil(t, none)

	none, err = f.engine.Previous(ctx, &h[0])
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMostRecentChange_NoHistory(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	_, err := f.engine.MostRecentChange(context.Background(), &article{ID: 42})
	assert.True(t, audit.IsNotFound(err))
}

func TestRetention_EngineDefault(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy(), audit.WithMaxRecords(2))
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")
	f.retitle(t, ctx, a, "C")

	h := f.history(t, a)
	require.Len(t, h, 2)
	assert.Equal(t, "A", h[0].ChangeSet["title"].Before)
	assert.Equal(t, "B", h[1].ChangeSet["title"].Before)

	f.retitle(t, ctx, a, "D")
	h = f.history(t, a)
	require.Len(t, h, 2)
	assert.Equal(t, "C", h[1].ChangeSet["title"].Before)
}

func TestRetention_PolicyOverridesEngine(t *testing.T) {
	f := newFixture(t, audit.Policy{MaxRecords: -1}, audit.WithMaxRecords(1))
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")
	f.retitle(t, ctx, a, "C")

	assert.Len(t, f.history(t, a), 3)
}

func TestRetention_ScopedToIdentity(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy(), audit.WithMaxRecords(1))
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	b := f.create(t, ctx, "X")
	f.retitle(t, ctx, a, "B")

	assert.Len(t, f.history(t, a), 1)
	assert.Len(t, f.history(t, b), 1)
}

func TestRevert_UpdateRestoresPriorState(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")
	f.retitle(t, ctx, a, "C")

	h := f.history(t, a)
	require.NoError(t, f.engine.Revert(ctx, &h[1]))

	assert.Equal(t, "A", f.live(t, a).Title)

	h = f.history(t, a)
	require.Len(t, h, 4)
	last := h[3]
	assert.Equal(t, audit.ActionUpdate, last.Action)
	assert.Equal(t, "C", last.ChangeSet["title"].Before)
	assert.Equal(t, "A", last.ChangeSet["title"].After)
	assert.Equal(t, "C", last.Snapshot["title"])
}

func TestRevert_RevertOfRevertRoundTrips(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")

	h := f.history(t, a)
	require.NoError(t, f.engine.Revert(ctx, &h[1]))
	assert.Equal(t, "A", f.live(t, a).Title)

	latest, err := f.engine.MostRecentChange(ctx, a)
	require.NoError(t, err)
	require.NoError(t, f.engine.Revert(ctx, latest))
	assert.Equal(t, "B", f.live(t, a).Title)
	assert.Len(t, f.history(t, a), 4)
}

func TestRevert_DestroyRecreatesUnderOriginalKey(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	f.create(t, ctx, "first")
	a := f.create(t, ctx, "A")
	require.NoError(t, f.session.Destroy(ctx, a))

	h := f.history(t, a)
	require.Len(t, h, 2)
	require.NoError(t, f.engine.Revert(ctx, &h[1]))

	restored := f.live(t, a)
	assert.Equal(t, int64(2), restored.ID)
	assert.Equal(t, "A", restored.Title)
	assert.Equal(t, "body", restored.Body)

	h = f.history(t, a)
	require.Len(t, h, 3)
	assert.Equal(t, audit.ActionCreate, h[2].Action)
	assert.Nil(t, h[2].Snapshot)
}

func TestRevert_CreateDeletesRecord(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")

	h := f.history(t, a)
	require.NoError(t, f.engine.Revert(ctx, &h[0]))

	_, err := f.engine.Load(ctx, "article", f.key(t, a))
	assert.True(t, audit.IsNotFound(err))

	h = f.history(t, a)
	require.Len(t, h, 2)
	assert.Equal(t, audit.ActionDestroy, h[1].Action)
	assert.Equal(t, "A", h[1].Snapshot["title"])
}

func TestRevert_CreateOfGoneRecordIsNoop(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	require.NoError(t, f.session.Destroy(ctx, a))

	h := f.history(t, a)
	require.NoError(t, f.engine.Revert(ctx, &h[0]))
	assert.Len(t, f.history(t, a), 2)
}

func TestRevert_UnknownTypeFails(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	c := &audit.Change{ID: 9, ItemType: "ghost", ItemID: "1", Action: audit.ActionUpdate, Snapshot: map[string]any{}}

	err := f.engine.Revert(context.Background(), c)
	require.Error(t, err)
	assert.True(t, audit.IsRevertFailure(err))
	assert.True(t, audit.IsUnknownType(err))
}

func TestRevert_FailureRollsBack(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy(),
		audit.WithDeserializer(func(meta *audit.TypeMeta, snapshot map[string]any) (any, error) {
			return nil, errors.New("corrupt snapshot")
		}))
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")

	h := f.history(t, a)
	err := f.engine.Revert(ctx, &h[1])
	require.Error(t, err)
	assert.True(t, audit.IsRevertFailure(err))
	assert.Contains(t, err.Error(), "corrupt snapshot")

	assert.Equal(t, "B", f.live(t, a).Title)
	assert.Len(t, f.history(t, a), 2)
}

func TestReconstructBeforeState(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")

	h := f.history(t, a)

	_, err := f.engine.ReconstructBeforeState(&h[0])
	assert.True(t, audit.IsNotFound(err))

	prior, err := f.engine.ReconstructBeforeState(&h[1])
	require.NoError(t, err)
	rec, ok := prior.(*article)
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "A", rec.Title)

	// Nothing was written.
	assert.Equal(t, "B", f.live(t, a).Title)
}

func TestReconstructBeforeState_SkipsRemovedFields(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	c := &audit.Change{
		ItemType: "article",
		ItemID:   "1",
		Action:   audit.ActionDestroy,
		Snapshot: map[string]any{"id": 1, "title": "old", "subtitle": "gone"},
	}

	prior, err := f.engine.ReconstructBeforeState(c)
	require.NoError(t, err)
	assert.Equal(t, "old", prior.(*article).Title)
}

func TestCustomSerializer(t *testing.T) {
	redact := func(meta *audit.TypeMeta, fields []string, rec any) (map[string]any, error) {
		snap, err := audit.DefaultSerializer(meta, fields, rec)
		if err != nil {
			return nil, err
		}
		snap["body"] = "[redacted]"
		return snap, nil
	}
	f := newFixture(t, audit.DefaultPolicy(), audit.WithSerializer(redact))
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")

	h := f.history(t, a)
	assert.Equal(t, "[redacted]", h[1].Snapshot["body"])
}

func TestDisableTracking(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	a := f.create(t, ctx, "A")

	err := f.engine.DisableTracking(ctx, func(ctx context.Context) error {
		assert.False(t, f.engine.Tracker().Enabled(ctx))
		f.retitle(t, ctx, a, "B")
		return f.engine.DisableTracking(ctx, func(ctx context.Context) error {
			f.retitle(t, ctx, a, "C")
			return nil
		})
	})
	require.NoError(t, err)

	assert.True(t, f.engine.Tracker().Enabled(ctx))
	assert.Len(t, f.history(t, a), 1)
	assert.Equal(t, "C", f.live(t, a).Title)

	f.retitle(t, ctx, a, "D")
	h := f.history(t, a)
	require.Len(t, h, 2)
	assert.Equal(t, "C", h[1].ChangeSet["title"].Before)
}

func TestDisableTracking_PropagatesError(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	boom := errors.New("boom")
	err := f.engine.DisableTracking(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestSuspend_Counted(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	ctx := context.Background()
	tr := f.engine.Tracker()

	outer := tr.Suspend()
	inner := tr.Suspend()
	a := f.create(t, ctx, "A")

	inner()
	inner()
	assert.False(t, tr.Enabled(ctx))
	f.retitle(t, ctx, a, "B")
	f.retitle(t, ctx, a, "B2")

	outer()
	assert.True(t, tr.Enabled(ctx))
	f.retitle(t, ctx, a, "C")

	h := f.history(t, a)
	require.Len(t, h, 1)
	assert.Equal(t, audit.ActionUpdate, h[0].Action)
}

func TestSuspend_Concurrent(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	tr := f.engine.Tracker()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resume := tr.Suspend()
			resume()
		}()
	}
	wg.Wait()
	assert.True(t, tr.Enabled(context.Background()))
}

type countingMetrics struct {
	mu          sync.Mutex
	recorded    map[audit.Action]int
	pruned      int64
	pruneFailed int
	reverts     int
	failed      int
}

func (m *countingMetrics) ChangeRecorded(_ string, a audit.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorded == nil {
		m.recorded = make(map[audit.Action]int)
	}
	m.recorded[a]++
}

func (m *countingMetrics) ChangesPruned(_ string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned += n
}

func (m *countingMetrics) PruneFailed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneFailed++
}

func (m *countingMetrics) RevertFinished(_ string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reverts++
	if err != nil {
		m.failed++
	}
}

func TestMetrics(t *testing.T) {
	m := &countingMetrics{}
	f := newFixture(t, audit.DefaultPolicy(), audit.WithMaxRecords(2), audit.WithMetrics(m))
	ctx := context.Background()
	a := f.create(t, ctx, "A")
	f.retitle(t, ctx, a, "B")
	f.retitle(t, ctx, a, "C")

	h := f.history(t, a)
	require.NoError(t, f.engine.Revert(ctx, &h[0]))

	assert.Equal(t, 1, m.recorded[audit.ActionCreate])
	assert.Equal(t, 3, m.recorded[audit.ActionUpdate])
	assert.Equal(t, int64(2), m.pruned)
	assert.Equal(t, 1, m.reverts)
	assert.Equal(t, 0, m.failed)
}

func TestLoad_UnknownType(t *testing.T) {
	f := newFixture(t, audit.DefaultPolicy())
	_, err := f.engine.Load(context.Background(), "ghost", "1")
	assert.True(t, audit.IsUnknownType(err))
}
