package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Tracker turns lifecycle events into changes.
//
// Thread-safety: a Tracker is safe for concurrent use. Per-operation state
// (actor, tracking disabled) is read from the context of each call.
type Tracker struct {
	registry  *Registry
	store     ChangeStore
	opts      options
	suspended atomic.Int64
}

var _ Listener = (*Tracker)(nil)

// NewTracker creates a Tracker writing to store.
func NewTracker(registry *Registry, store ChangeStore, opts ...Option) *Tracker {
	return &Tracker{
		registry: registry,
		store:    store,
		opts:     buildOptions(opts),
	}
}

// OnCreated records a create for tracked types and ignores the rest.
func (t *Tracker) OnCreated(ctx context.Context, after any) error {
	if !t.tracks(after) {
		return nil
	}
	_, err := t.CreateChangeEntry(ctx, after, ActionCreate, nil)
	return err
}

// OnUpdated records an update for tracked types and ignores the rest.
//
// A nil before means the update path could not provide the prior state.
// Nothing is written in that case: the change cannot be audited, and a
// guessed before-state would fabricate history.
func (t *Tracker) OnUpdated(ctx context.Context, after, before any) error {
	if !t.tracks(after) {
		return nil
	}
	_, err := t.CreateChangeEntry(ctx, after, ActionUpdate, before)
	return err
}

// OnBeforeDestroyed records a destroy for tracked types and ignores the rest.
func (t *Tracker) OnBeforeDestroyed(ctx context.Context, current any) error {
	if !t.tracks(current) {
		return nil
	}
	_, err := t.CreateChangeEntry(ctx, current, ActionDestroy, nil)
	return err
}

func (t *Tracker) tracks(rec any) bool {
	meta, ok := t.registry.MetaOf(rec)
	return ok && meta.Tracked()
}

// CreateChangeEntry writes the change describing action on rec.
//
// For creates rec is the state after creation. For updates rec is the state
// after the update and before the state preceding it. For destroys rec is the
// state being removed. Returns (nil, nil) when nothing is written: tracking is
// disabled, the update has no before-state, or no audited field changed.
//
// Store failures are returned unchanged so the triggering write can fail as a
// whole. Retention pruning failures are logged and never returned.
func (t *Tracker) CreateChangeEntry(ctx context.Context, rec any, action Action, before any) (*Change, error) {
	if !t.Enabled(ctx) {
		return nil, nil
	}
	if !action.Valid() {
		return nil, invalidRecordError("", fmt.Sprintf("invalid action %q", action), nil)
	}
	meta, id, err := t.registry.IdentityOf(rec)
	if err != nil {
		return nil, err
	}

	policy := meta.Policy()
	fields := ResolveFields(meta, policy)

	change := &Change{
		ItemType:  id.Type,
		ItemID:    id.ID,
		Action:    action,
		ChangeSet: ChangeSet{},
	}

	switch action {
	case ActionUpdate:
		if before == nil {
			t.opts.logger.Debug("update without before-state not audited",
				"item_type", id.Type,
				"item_id", id.ID,
			)
			return nil, nil
		}
		cs, err := Diff(meta, before, rec, fields)
		if err != nil {
			return nil, err
		}
		if len(cs) == 0 {
			return nil, nil
		}
		change.ChangeSet = cs
		if change.Snapshot, err = t.opts.serializer(meta, fields, before); err != nil {
			return nil, fmt.Errorf("serialize %s: %w", id, err)
		}
	case ActionDestroy:
		if change.Snapshot, err = t.opts.serializer(meta, fields, rec); err != nil {
			return nil, fmt.Errorf("serialize %s: %w", id, err)
		}
	}

	change.ActorID, change.ActorDisplay = actorColumns(ctx)

	if err := t.store.Append(ctx, change); err != nil {
		return nil, fmt.Errorf("record %s %s: %w", action, id, err)
	}
	t.opts.metrics.ChangeRecorded(id.Type, action)

	t.prune(ctx, id, policy.retention(t.opts.maxRecords))
	return change, nil
}

// prune keeps only the max newest changes of id. Best effort.
func (t *Tracker) prune(ctx context.Context, id Identity, max int) {
	if max <= 0 {
		return
	}
	boundary, err := t.store.NthMostRecent(ctx, id, max)
	if err != nil {
		t.pruneFailed(id, err)
		return
	}
	if boundary == nil {
		return
	}
	n, err := t.store.PruneThrough(ctx, boundary)
	if err != nil {
		t.pruneFailed(id, err)
		return
	}
	if n > 0 {
		t.opts.metrics.ChangesPruned(id.Type, n)
		t.opts.logger.Debug("pruned change history",
			"item_type", id.Type,
			"item_id", id.ID,
			"removed", n,
			"kept", max,
		)
	}
}

func (t *Tracker) pruneFailed(id Identity, err error) {
	t.opts.metrics.PruneFailed(id.Type)
	t.opts.logger.Warn("change history pruning failed",
		slog.String("item_type", id.Type),
		slog.String("item_id", id.ID),
		slog.Any("error", err),
	)
}

// Enabled reports whether a change written under ctx would be recorded.
func (t *Tracker) Enabled(ctx context.Context) bool {
	return t.suspended.Load() == 0 && !TrackingDisabled(ctx)
}

// DisableTracking runs fn with tracking disabled for fn's context only.
// Nested calls restore the outer state on return because contexts are
// immutable.
func (t *Tracker) DisableTracking(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(WithoutTracking(ctx))
}

// Suspend is a process-wide kill switch: no change is written by this
// Tracker, for any context, until every returned resume func has been
// called. Suspensions are counted, so an inner resume never re-enables
// tracking an outer Suspend disabled. Resume is idempotent.
func (t *Tracker) Suspend() (resume func()) {
	t.suspended.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { t.suspended.Add(-1) })
	}
}
