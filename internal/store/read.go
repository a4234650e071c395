package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/revlog/internal/audit"
)

const changeColumns = `id, item_type, item_id, snapshot, change_set, actor_id, actor_display, action, created_at`

// Get returns the change with the given id, or a NOT_FOUND error.
func (s *Store) Get(ctx context.Context, id int64) (*audit.Change, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+changeColumns+`
		FROM changes
		WHERE id = ?
	`, id)
	c, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &audit.Error{
			Code:    audit.CodeNotFound,
			Message: fmt.Sprintf("change %d not found", id),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get change %d: %w", id, err)
	}
	return c, nil
}

// History returns every change of an identity in (created_at ASC, id ASC)
// order. Returns an empty slice (not nil) for an untouched identity.
func (s *Store) History(ctx context.Context, id audit.Identity) ([]audit.Change, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM changes
		WHERE item_type = ? AND item_id = ?
		ORDER BY created_at ASC, id ASC
	`, id.Type, id.ID)
	if err != nil {
		return nil, fmt.Errorf("query history of %s: %w", id, err)
	}
	return collect(rows)
}

// MostRecent returns the newest change of an identity.
func (s *Store) MostRecent(ctx context.Context, id audit.Identity) (*audit.Change, error) {
	c, err := s.NthMostRecent(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, audit.NotFoundError(id.Type, id.ID, "no changes recorded")
	}
	return c, nil
}

// Oldest returns the first change of an identity.
func (s *Store) Oldest(ctx context.Context, id audit.Identity) (*audit.Change, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+changeColumns+`
		FROM changes
		WHERE item_type = ? AND item_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, id.Type, id.ID)
	c, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.NotFoundError(id.Type, id.ID, "no changes recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("oldest change of %s: %w", id, err)
	}
	return c, nil
}

// NthMostRecent returns the change n positions back from the newest, or nil
// when the identity has n or fewer changes.
func (s *Store) NthMostRecent(ctx context.Context, id audit.Identity, n int) (*audit.Change, error) {
	if n < 0 {
		return nil, fmt.Errorf("nth most recent of %s: negative offset %d", id, n)
	}
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+changeColumns+`
		FROM changes
		WHERE item_type = ? AND item_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1 OFFSET ?
	`, id.Type, id.ID, n)
	c, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nth most recent of %s: %w", id, err)
	}
	return c, nil
}

// VersionIndex counts the changes of c's identity strictly before c in the
// total order. The oldest change has index 0.
func (s *Store) VersionIndex(ctx context.Context, c *audit.Change) (int, error) {
	at := c.CreatedAt.UnixNano()
	var n int
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM changes
		WHERE item_type = ? AND item_id = ?
		  AND (created_at < ? OR (created_at = ? AND id < ?))
	`, c.ItemType, c.ItemID, at, at, c.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("version index of change %d: %w", c.ID, err)
	}
	return n, nil
}

// Next returns the change immediately after c for the same identity, or nil.
func (s *Store) Next(ctx context.Context, c *audit.Change) (*audit.Change, error) {
	at := c.CreatedAt.UnixNano()
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+changeColumns+`
		FROM changes
		WHERE item_type = ? AND item_id = ? AND id != ?
		  AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, c.ItemType, c.ItemID, c.ID, at, at, c.ID)
	return adjacent(row, c, "next")
}

// Previous returns the change immediately before c for the same identity,
// or nil.
func (s *Store) Previous(ctx context.Context, c *audit.Change) (*audit.Change, error) {
	at := c.CreatedAt.UnixNano()
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+changeColumns+`
		FROM changes
		WHERE item_type = ? AND item_id = ? AND id != ?
		  AND (created_at < ? OR (created_at = ? AND id < ?))
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, c.ItemType, c.ItemID, c.ID, at, at, c.ID)
	return adjacent(row, c, "previous")
}

func adjacent(row *sql.Row, c *audit.Change, dir string) (*audit.Change, error) {
	got, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s change of %d: %w", dir, c.ID, err)
	}
	return got, nil
}

// IdentitySummary describes one identity with recorded history.
type IdentitySummary struct {
	Identity audit.Identity `json:"identity"`
	Count    int            `json:"count"`
	Latest   time.Time      `json:"latest"`
}

// ListIdentities returns every identity of itemType with history, ordered by
// item id. An empty itemType lists all types.
func (s *Store) ListIdentities(ctx context.Context, itemType string) ([]IdentitySummary, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT item_type, item_id, COUNT(*), MAX(created_at)
		FROM changes
		WHERE ? = '' OR item_type = ?
		GROUP BY item_type, item_id
		ORDER BY item_type ASC, item_id COLLATE BINARY ASC
	`, itemType, itemType)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	out := []IdentitySummary{}
	for rows.Next() {
		var (
			sum    IdentitySummary
			latest int64
		)
		if err := rows.Scan(&sum.Identity.Type, &sum.Identity.ID, &sum.Count, &latest); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		sum.Latest = time.Unix(0, latest).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanChange(row scanner) (*audit.Change, error) {
	var (
		c            audit.Change
		snapshot     sql.NullString
		changeSet    string
		actorID      sql.NullString
		actorDisplay sql.NullString
		action       string
		createdAt    int64
	)
	if err := row.Scan(&c.ID, &c.ItemType, &c.ItemID, &snapshot, &changeSet,
		&actorID, &actorDisplay, &action, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if c.Snapshot, err = unmarshalSnapshot(snapshot); err != nil {
		return nil, fmt.Errorf("change %d: %w", c.ID, err)
	}
	if c.ChangeSet, err = unmarshalChangeSet(changeSet); err != nil {
		return nil, fmt.Errorf("change %d: %w", c.ID, err)
	}
	if c.Action, err = audit.ParseAction(action); err != nil {
		return nil, fmt.Errorf("change %d: %w", c.ID, err)
	}
	c.ActorID = stringPtr(actorID)
	c.ActorDisplay = stringPtr(actorDisplay)
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return &c, nil
}

func collect(rows *sql.Rows) ([]audit.Change, error) {
	defer rows.Close()

	changes := []audit.Change{}
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}
