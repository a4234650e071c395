package audit

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"time"
)

// Reverter applies a change's prior state back to the live record store.
type Reverter struct {
	registry *Registry
	records  RecordStore
	tracker  *Tracker
	opts     options
}

// NewReverter creates a Reverter that writes through records and logs each
// revert with tracker.
func NewReverter(registry *Registry, records RecordStore, tracker *Tracker, opts ...Option) *Reverter {
	return &Reverter{
		registry: registry,
		records:  records,
		tracker:  tracker,
		opts:     buildOptions(opts),
	}
}

// ReconstructBeforeState deserializes the change's snapshot into a typed
// record without touching any store. Creates have no prior state and return
// a NOT_FOUND error.
func (r *Reverter) ReconstructBeforeState(c *Change) (any, error) {
	meta, err := r.registry.Lookup(c.ItemType)
	if err != nil {
		return nil, err
	}
	if !c.HasSnapshot() {
		return nil, NotFoundError(c.ItemType, c.ItemID, "create changes have no prior state")
	}
	return r.opts.deserializer(meta, c.Snapshot)
}

// Revert restores the state recorded by c inside one transaction:
//
//   - update/destroy (snapshot present): the live record is overwritten, or
//     re-created under its original key when gone, and an update or create
//     change is logged
//   - create (no snapshot): the live record is deleted and a destroy change
//     is logged; a record that is already gone is a no-op
//
// Any failure rolls back both the record mutation and the new change, and is
// returned as a REVERT_FAILED error.
func (r *Reverter) Revert(ctx context.Context, c *Change) error {
	err := r.records.InTx(ctx, func(ctx context.Context) error {
		meta, err := r.registry.Lookup(c.ItemType)
		if err != nil {
			return err
		}
		if c.HasSnapshot() {
			return r.restore(ctx, meta, c)
		}
		return r.undoCreate(ctx, meta, c)
	})
	r.opts.metrics.RevertFinished(c.ItemType, err)
	if err != nil {
		r.opts.logger.Error("revert failed",
			"change_id", c.ID,
			"item_type", c.ItemType,
			"item_id", c.ItemID,
			"error", err,
		)
		return revertError(c, err)
	}
	r.opts.logger.Info("reverted change",
		"change_id", c.ID,
		"item_type", c.ItemType,
		"item_id", c.ItemID,
		"action", string(c.Action),
	)
	return nil
}

func (r *Reverter) restore(ctx context.Context, meta *TypeMeta, c *Change) error {
	prior, err := r.opts.deserializer(meta, c.Snapshot)
	if err != nil {
		return fmt.Errorf("reconstruct %s: %w", c.Identity(), err)
	}

	fields := restorableFields(meta, c.Snapshot)
	live, err := r.records.FindByKey(ctx, meta, c.ItemID)
	switch {
	case err == nil:
		if err := r.records.Update(ctx, meta, c.ItemID, prior, fields); err != nil {
			return fmt.Errorf("update %s: %w", c.Identity(), err)
		}
		if err := r.fixReferences(ctx, meta, c.ItemID, prior, fields); err != nil {
			return err
		}
		reverted, err := r.records.FindByKey(ctx, meta, c.ItemID)
		if err != nil {
			return fmt.Errorf("reload %s: %w", c.Identity(), err)
		}
		_, err = r.tracker.CreateChangeEntry(ctx, reverted, ActionUpdate, live)
		return err

	case IsNotFound(err):
		if err := stampMissing(meta, prior, r.opts.now()); err != nil {
			return fmt.Errorf("stamp %s: %w", c.Identity(), err)
		}
		if err := r.records.Insert(ctx, meta, prior); err != nil {
			return fmt.Errorf("insert %s: %w", c.Identity(), err)
		}
		if err := r.forceKey(ctx, meta, c, prior); err != nil {
			return err
		}
		if err := r.fixReferences(ctx, meta, c.ItemID, prior, fields); err != nil {
			return err
		}
		created, err := r.records.FindByKey(ctx, meta, c.ItemID)
		if err != nil {
			return fmt.Errorf("reload %s: %w", c.Identity(), err)
		}
		_, err = r.tracker.CreateChangeEntry(ctx, created, ActionCreate, nil)
		return err

	default:
		return fmt.Errorf("load %s: %w", c.Identity(), err)
	}
}

func (r *Reverter) undoCreate(ctx context.Context, meta *TypeMeta, c *Change) error {
	live, err := r.records.FindByKey(ctx, meta, c.ItemID)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", c.Identity(), err)
	}
	n, err := r.records.Delete(ctx, meta, c.ItemID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", c.Identity(), err)
	}
	if n == 0 {
		return nil
	}
	_, err = r.tracker.CreateChangeEntry(ctx, live, ActionDestroy, nil)
	return err
}

// forceKey rewrites the primary key of a re-created record when the store
// generated a different one than the change's item id.
func (r *Reverter) forceKey(ctx context.Context, meta *TypeMeta, c *Change, rec any) error {
	got, err := meta.Key(rec)
	if err != nil {
		return fmt.Errorf("key of re-created %s: %w", c.Identity(), err)
	}
	if got == c.ItemID {
		return nil
	}
	want, err := meta.SplitKey(c.ItemID)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(want))
	for k, v := range want {
		values[k] = v
	}
	if err := r.records.UpdateColumns(ctx, meta, got, values); err != nil {
		return fmt.Errorf("force key of %s: %w", c.Identity(), err)
	}
	for k, v := range want {
		if err := meta.Set(rec, k, v); err != nil {
			return err
		}
	}
	return nil
}

// fixReferences writes the owning reference columns among fields with a
// direct keyed update, for stores that do not apply them through the main
// write path. References outside fields are never touched.
func (r *Reverter) fixReferences(ctx context.Context, meta *TypeMeta, key string, rec any, fields []string) error {
	values := make(map[string]any)
	for _, name := range fields {
		f, ok := meta.Field(name)
		if !ok || f.Kind != FieldRef {
			continue
		}
		v, err := meta.Get(rec, name)
		if err != nil {
			return err
		}
		if v != nil {
			values[name] = v
		}
	}
	if len(values) == 0 {
		return nil
	}
	if err := r.records.UpdateColumns(ctx, meta, key, values); err != nil {
		return fmt.Errorf("fix references of %s#%s: %w", meta.name, key, err)
	}
	return nil
}

// stampMissing sets empty created/updated fields of a re-created record to
// now. Snapshots leave timestamps out unless the policy tracks them.
func stampMissing(meta *TypeMeta, rec any, now time.Time) error {
	for _, f := range meta.fields {
		if f.Timestamp != TimestampCreated && f.Timestamp != TimestampUpdated {
			continue
		}
		v, err := meta.Get(rec, f.Name)
		if err != nil {
			return err
		}
		if !isZeroValue(v) {
			continue
		}
		if err := meta.Set(rec, f.Name, now); err != nil {
			return err
		}
	}
	return nil
}

func isZeroValue(v any) bool {
	v = deref(v)
	return v == nil || reflect.ValueOf(v).IsZero()
}

// restorableFields lists the snapshot fields an in-place revert overwrites:
// declared, non-key, non-collection fields present in the snapshot.
func restorableFields(meta *TypeMeta, snapshot map[string]any) []string {
	var out []string
	for _, f := range meta.fields {
		if f.PrimaryKey || f.Kind == FieldMany {
			continue
		}
		if _, ok := snapshot[f.Name]; ok {
			out = append(out, f.Name)
		}
	}
	return slices.Clip(out)
}
