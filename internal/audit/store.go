package audit

import (
	"context"
	"time"
)

// ChangeStore is append-only, ordered persistence for changes.
//
// Every read honours the (CreatedAt ASC, ID ASC) total order per identity.
// Implementations must join a transaction carried on ctx, if any, so that a
// revert and the change it logs commit together.
type ChangeStore interface {
	// Append inserts c, assigning ID and CreatedAt when they are zero.
	Append(ctx context.Context, c *Change) error

	// Get returns the change with the given id.
	Get(ctx context.Context, id int64) (*Change, error)

	// History returns all changes of an identity, oldest first.
	History(ctx context.Context, id Identity) ([]Change, error)

	// MostRecent and Oldest return a NOT_FOUND error for an empty history.
	MostRecent(ctx context.Context, id Identity) (*Change, error)
	Oldest(ctx context.Context, id Identity) (*Change, error)

	// NthMostRecent returns the change at offset n from the newest (0 is the
	// newest), or nil when the history is shorter.
	NthMostRecent(ctx context.Context, id Identity, n int) (*Change, error)

	// VersionIndex counts the changes strictly older than c.
	VersionIndex(ctx context.Context, c *Change) (int, error)

	// Next and Previous return the adjacent change, or nil at either end.
	Next(ctx context.Context, c *Change) (*Change, error)
	Previous(ctx context.Context, c *Change) (*Change, error)

	// PruneThrough deletes c and everything older for c's identity.
	PruneThrough(ctx context.Context, c *Change) (int64, error)

	// PruneOlderThanOrEqual deletes the identity's changes with
	// CreatedAt <= cutoff.
	PruneOlderThanOrEqual(ctx context.Context, id Identity, cutoff time.Time) (int64, error)
}

// RecordStore is the keyed CRUD surface of the live record store.
// Keys are item ids as produced by TypeMeta.Key.
type RecordStore interface {
	// FindByKey returns a NOT_FOUND error when no record has the key.
	FindByKey(ctx context.Context, meta *TypeMeta, key string) (any, error)

	// Insert writes rec, filling generated primary keys back into it.
	Insert(ctx context.Context, meta *TypeMeta, rec any) error

	// Update overwrites the listed fields of the record with key.
	Update(ctx context.Context, meta *TypeMeta, key string, rec any, fields []string) error

	// Delete removes the record with key and reports rows affected.
	Delete(ctx context.Context, meta *TypeMeta, key string) (int64, error)

	// UpdateColumns is a raw keyed update used for reference and primary
	// key fix-ups.
	UpdateColumns(ctx context.Context, meta *TypeMeta, key string, values map[string]any) error

	// InTx runs fn inside a transaction. A transaction already carried on ctx
	// is reused, so calls nest.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Listener receives lifecycle events from a record store integration.
// before is nil when the update path could not load the prior state.
type Listener interface {
	OnCreated(ctx context.Context, after any) error
	OnUpdated(ctx context.Context, after, before any) error
	OnBeforeDestroyed(ctx context.Context, current any) error
}

// Metrics receives tracker and reverter events.
type Metrics interface {
	ChangeRecorded(itemType string, action Action)
	ChangesPruned(itemType string, n int64)
	PruneFailed(itemType string)
	RevertFinished(itemType string, err error)
}

type nopMetrics struct{}

func (nopMetrics) ChangeRecorded(string, Action) {}
func (nopMetrics) ChangesPruned(string, int64)   {}
func (nopMetrics) PruneFailed(string)            {}
func (nopMetrics) RevertFinished(string, error)  {}
