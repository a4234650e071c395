package audit

import (
	"context"
	"fmt"
)

// Engine is the host-facing surface: history queries, revert, and the
// Tracker to wire into a lifecycle-event source.
type Engine struct {
	registry *Registry
	changes  ChangeStore
	records  RecordStore
	tracker  *Tracker
	reverter *Reverter
}

// NewEngine wires a Tracker and a Reverter over the given stores.
func NewEngine(registry *Registry, changes ChangeStore, records RecordStore, opts ...Option) *Engine {
	tracker := NewTracker(registry, changes, opts...)
	return &Engine{
		registry: registry,
		changes:  changes,
		records:  records,
		tracker:  tracker,
		reverter: NewReverter(registry, records, tracker, opts...),
	}
}

// Registry returns the type registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Tracker returns the tracker, which implements Listener.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// Changes returns the change store.
func (e *Engine) Changes() ChangeStore { return e.changes }

// CreateChangeEntry records action on rec. See Tracker.CreateChangeEntry.
func (e *Engine) CreateChangeEntry(ctx context.Context, rec any, action Action, before any) (*Change, error) {
	return e.tracker.CreateChangeEntry(ctx, rec, action, before)
}

// ChangeHistoryOf returns rec's changes, oldest first.
func (e *Engine) ChangeHistoryOf(ctx context.Context, rec any) ([]Change, error) {
	_, id, err := e.registry.IdentityOf(rec)
	if err != nil {
		return nil, err
	}
	return e.changes.History(ctx, id)
}

// MostRecentChange returns rec's newest change, or a NOT_FOUND error.
func (e *Engine) MostRecentChange(ctx context.Context, rec any) (*Change, error) {
	_, id, err := e.registry.IdentityOf(rec)
	if err != nil {
		return nil, err
	}
	return e.changes.MostRecent(ctx, id)
}

// OldestChange returns rec's first change, or a NOT_FOUND error.
func (e *Engine) OldestChange(ctx context.Context, rec any) (*Change, error) {
	_, id, err := e.registry.IdentityOf(rec)
	if err != nil {
		return nil, err
	}
	return e.changes.Oldest(ctx, id)
}

// Next returns the change after c, or nil.
func (e *Engine) Next(ctx context.Context, c *Change) (*Change, error) {
	return e.changes.Next(ctx, c)
}

// Previous returns the change before c, or nil.
func (e *Engine) Previous(ctx context.Context, c *Change) (*Change, error) {
	return e.changes.Previous(ctx, c)
}

// VersionIndex returns c's 0-based position from the oldest change.
func (e *Engine) VersionIndex(ctx context.Context, c *Change) (int, error) {
	return e.changes.VersionIndex(ctx, c)
}

// Revert restores the state recorded by c. See Reverter.Revert.
func (e *Engine) Revert(ctx context.Context, c *Change) error {
	return e.reverter.Revert(ctx, c)
}

// ReconstructBeforeState returns the typed state c's snapshot describes.
func (e *Engine) ReconstructBeforeState(c *Change) (any, error) {
	return e.reverter.ReconstructBeforeState(c)
}

// DisableTracking runs fn with tracking disabled for its context.
func (e *Engine) DisableTracking(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.tracker.DisableTracking(ctx, fn)
}

// Load fetches the live record a change refers to (polymorphic lookup).
func (e *Engine) Load(ctx context.Context, itemType, itemID string) (any, error) {
	meta, err := e.registry.Lookup(itemType)
	if err != nil {
		return nil, err
	}
	rec, err := e.records.FindByKey(ctx, meta, itemID)
	if err != nil {
		return nil, fmt.Errorf("load %s#%s: %w", itemType, itemID, err)
	}
	return rec, nil
}
