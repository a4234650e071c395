package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revlog/internal/audit"
	"github.com/roach88/revlog/internal/testutil"
)

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := createTestChange("Post", "1", audit.ActionUpdate)
	require.NoError(t, s.Append(ctx, c))

	assert.NotZero(t, c.ID)
	assert.Equal(t, testutil.Epoch.Add(time.Second), c.CreatedAt)

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ItemType, got.ItemType)
	assert.Equal(t, c.ItemID, got.ItemID)
	assert.Equal(t, audit.ActionUpdate, got.Action)
	assert.Equal(t, "A", got.Snapshot["name"])
	assert.Equal(t, audit.FieldChange{Before: "A", After: "B"}, got.ChangeSet["name"])
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
}

func TestAppend_CreateHasNullSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := createTestChange("Post", "1", audit.ActionCreate)
	require.NoError(t, s.Append(ctx, c))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Snapshot)
	assert.False(t, got.HasSnapshot())
}

func TestAppend_ActorColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, display := "u-1", "Ada"
	c := createTestChange("Post", "1", audit.ActionUpdate)
	c.ActorID = &id
	c.ActorDisplay = &display
	require.NoError(t, s.Append(ctx, c))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActorID)
	require.NotNil(t, got.ActorDisplay)
	assert.Equal(t, "u-1", *got.ActorID)
	assert.Equal(t, "Ada", *got.ActorDisplay)

	anon := createTestChange("Post", "1", audit.ActionUpdate)
	require.NoError(t, s.Append(ctx, anon))
	got, err = s.Get(ctx, anon.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ActorID)
	assert.Nil(t, got.ActorDisplay)
}

func TestAppend_RejectsInvalidAction(t *testing.T) {
	s := createTestStore(t)

	c := createTestChange("Post", "1", audit.Action("rename"))
	err := s.Append(context.Background(), c)
	assert.Error(t, err)
	assert.Zero(t, c.ID)
}

func TestAppend_KeepsExplicitTimestamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	at := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	c := createTestChange("Post", "1", audit.ActionUpdate)
	c.CreatedAt = at
	require.NoError(t, s.Append(ctx, c))
	assert.Equal(t, at, c.CreatedAt)
}

func TestAppend_ClockNeverGoesBackwards(t *testing.T) {
	times := []time.Time{
		testutil.Epoch.Add(10 * time.Second),
		testutil.Epoch.Add(5 * time.Second),
	}
	i := 0
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time {
		now := times[i]
		i++
		return now
	}))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	first := createTestChange("Post", "1", audit.ActionUpdate)
	second := createTestChange("Post", "1", audit.ActionUpdate)
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, second))

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	history, err := s.History(ctx, first.Identity())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)
}

func TestAppend_JoinsContextTransaction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Append(ctx, createTestChange("Post", "1", audit.ActionUpdate)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	history, err := s.History(ctx, audit.Identity{Type: "Post", ID: "1"})
	require.NoError(t, err)
	assert.Empty(t, history, "rolled back append must not be visible")
}

func TestRunInTx_Nested(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(outer context.Context) error {
		outerTx, ok := TxFrom(outer)
		require.True(t, ok)
		return s.InTx(outer, func(inner context.Context) error {
			innerTx, ok := TxFrom(inner)
			require.True(t, ok)
			assert.Same(t, outerTx, innerTx)
			return s.Append(inner, createTestChange("Post", "1", audit.ActionUpdate))
		})
	})
	require.NoError(t, err)

	history, err := s.History(ctx, audit.Identity{Type: "Post", ID: "1"})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPruneThrough_ScopedToIdentity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var post []*audit.Change
	for i := 0; i < 4; i++ {
		c := createTestChange("Post", "1", audit.ActionUpdate)
		require.NoError(t, s.Append(ctx, c))
		post = append(post, c)
	}
	other := createTestChange("Post", "2", audit.ActionUpdate)
	require.NoError(t, s.Append(ctx, other))

	n, err := s.PruneThrough(ctx, post[1])
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	history, err := s.History(ctx, post[0].Identity())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, post[2].ID, history[0].ID)
	assert.Equal(t, post[3].ID, history[1].ID)

	_, err = s.Get(ctx, other.ID)
	assert.NoError(t, err, "other identity's change must survive")
}

func TestPruneThrough_TiesBrokenByID(t *testing.T) {
	s := createTestStoreWithClock(t, testutil.NewFrozenClock())
	ctx := context.Background()

	var cs []*audit.Change
	for i := 0; i < 3; i++ {
		c := createTestChange("Post", "1", audit.ActionUpdate)
		require.NoError(t, s.Append(ctx, c))
		cs = append(cs, c)
	}

	n, err := s.PruneThrough(ctx, cs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	history, err := s.History(ctx, cs[0].Identity())
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPruneOlderThanOrEqual(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var cs []*audit.Change
	for i := 0; i < 3; i++ {
		c := createTestChange("Post", "1", audit.ActionUpdate)
		require.NoError(t, s.Append(ctx, c))
		cs = append(cs, c)
	}

	n, err := s.PruneOlderThanOrEqual(ctx, cs[0].Identity(), cs[1].CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	oldest, err := s.Oldest(ctx, cs[0].Identity())
	require.NoError(t, err)
	assert.Equal(t, cs[2].ID, oldest.ID)
}

func TestPruneBefore_AllIdentities(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestChange("Post", "1", audit.ActionUpdate)
	b := createTestChange("Comment", "9", audit.ActionUpdate)
	c := createTestChange("Post", "1", audit.ActionUpdate)
	for _, ch := range []*audit.Change{a, b, c} {
		require.NoError(t, s.Append(ctx, ch))
	}

	n, err := s.PruneBefore(ctx, c.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Get(ctx, c.ID)
	assert.NoError(t, err)
}
