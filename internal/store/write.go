package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/revlog/internal/audit"
)

// Append inserts a change and fills in its ID and, when zero, its CreatedAt.
//
// Assigned timestamps never go backwards relative to earlier appends through
// this Store, so (created_at, id) order matches insertion order.
func (s *Store) Append(ctx context.Context, c *audit.Change) error {
	if !c.Action.Valid() {
		return fmt.Errorf("append change: invalid action %q", c.Action)
	}

	snapshotJSON, err := marshalSnapshot(c.Snapshot)
	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}
	changeSetJSON, err := marshalChangeSet(c.ChangeSet)
	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}

	createdAt := s.stamp(c.CreatedAt)

	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO changes
		(item_type, item_id, snapshot, change_set, actor_id, actor_display, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ItemType,
		c.ItemID,
		snapshotJSON,
		changeSetJSON,
		nullableString(c.ActorID),
		nullableString(c.ActorDisplay),
		string(c.Action),
		createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append change: last insert id: %w", err)
	}

	c.ID = id
	c.CreatedAt = createdAt
	if c.ChangeSet == nil {
		c.ChangeSet = audit.ChangeSet{}
	}
	return nil
}

// PruneThrough deletes c and every older change of c's identity.
// Returns the number of rows deleted.
func (s *Store) PruneThrough(ctx context.Context, c *audit.Change) (int64, error) {
	at := c.CreatedAt.UnixNano()
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM changes
		WHERE item_type = ? AND item_id = ?
		  AND (created_at < ? OR (created_at = ? AND id <= ?))
	`, c.ItemType, c.ItemID, at, at, c.ID)
	if err != nil {
		return 0, fmt.Errorf("prune through change %d: %w", c.ID, err)
	}
	return res.RowsAffected()
}

// PruneOlderThanOrEqual deletes the identity's changes created at or before
// cutoff.
func (s *Store) PruneOlderThanOrEqual(ctx context.Context, id audit.Identity, cutoff time.Time) (int64, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM changes
		WHERE item_type = ? AND item_id = ? AND created_at <= ?
	`, id.Type, id.ID, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", id, err)
	}
	return res.RowsAffected()
}

// PruneBefore deletes changes of every identity created strictly before
// cutoff. Used by the CLI's age-based prune.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM changes WHERE created_at < ?
	`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}
