package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revlog/internal/audit"
)

type event struct {
	kind   string
	after  any
	before any
}

type recordingListener struct {
	events []event
	err    error
}

func (l *recordingListener) OnCreated(_ context.Context, after any) error {
	l.events = append(l.events, event{kind: "created", after: after})
	return l.err
}

func (l *recordingListener) OnUpdated(_ context.Context, after, before any) error {
	l.events = append(l.events, event{kind: "updated", after: after, before: before})
	return l.err
}

func (l *recordingListener) OnBeforeDestroyed(_ context.Context, current any) error {
	l.events = append(l.events, event{kind: "destroyed", before: current})
	return l.err
}

var sessionNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newSession(t *testing.T, l audit.Listener) (*Session, *fixture) {
	t.Helper()
	f := newFixture(t)
	return NewSession(f.records, f.registry, l, WithNow(func() time.Time { return sessionNow })), f
}

func TestSession_CreateStampsAndNotifies(t *testing.T) {
	l := &recordingListener{}
	s, _ := newSession(t, l)

	p := &post{Title: "a"}
	require.NoError(t, s.Create(context.Background(), p))

	assert.Equal(t, sessionNow, p.CreatedAt)
	assert.Equal(t, sessionNow, p.UpdatedAt)
	require.Len(t, l.events, 1)
	assert.Equal(t, "created", l.events[0].kind)
	assert.Same(t, p, l.events[0].after)
}

func TestSession_SaveLoadsBeforeState(t *testing.T) {
	l := &recordingListener{}
	s, _ := newSession(t, l)
	ctx := context.Background()

	p := &post{Title: "a"}
	require.NoError(t, s.Create(ctx, p))
	p.Title = "b"
	require.NoError(t, s.Save(ctx, p))

	require.Len(t, l.events, 2)
	ev := l.events[1]
	assert.Equal(t, "updated", ev.kind)
	assert.Equal(t, "a", ev.before.(*post).Title)
	assert.Equal(t, "b", ev.after.(*post).Title)

	got, err := s.Find(ctx, "post", "1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.(*post).Title)
}

func TestSession_SaveMissingRecord(t *testing.T) {
	s, _ := newSession(t, &recordingListener{})

	err := s.Save(context.Background(), &post{ID: 5, Title: "x"})
	assert.True(t, audit.IsNotFound(err))
}

func TestSession_DestroyReportsCurrentState(t *testing.T) {
	l := &recordingListener{}
	s, f := newSession(t, l)
	ctx := context.Background()

	p := &post{Title: "a"}
	require.NoError(t, s.Create(ctx, p))

	// Stale in-memory copy; the listener sees the stored state.
	p.Title = "stale"
	require.NoError(t, s.Destroy(ctx, p))

	require.Len(t, l.events, 2)
	assert.Equal(t, "destroyed", l.events[1].kind)
	assert.Equal(t, "a", l.events[1].before.(*post).Title)

	_, err := f.records.FindByKey(ctx, f.post, "1")
	assert.True(t, audit.IsNotFound(err))
}

func TestSession_ListenerErrorRollsBack(t *testing.T) {
	boom := errors.New("boom")
	l := &recordingListener{err: boom}
	s, f := newSession(t, l)
	ctx := context.Background()

	err := s.Create(ctx, &post{Title: "a"})
	require.ErrorIs(t, err, boom)

	_, err = f.records.FindByKey(ctx, f.post, "1")
	assert.True(t, audit.IsNotFound(err))
}

func TestSession_NilListener(t *testing.T) {
	s, _ := newSession(t, nil)
	ctx := context.Background()

	p := &post{Title: "a"}
	require.NoError(t, s.Create(ctx, p))
	p.Title = "b"
	require.NoError(t, s.Save(ctx, p))
	require.NoError(t, s.Destroy(ctx, p))
}

func TestSession_UnregisteredType(t *testing.T) {
	s, _ := newSession(t, nil)

	type other struct{ ID int64 }
	err := s.Create(context.Background(), &other{})
	assert.True(t, audit.IsUnknownType(err))
}
