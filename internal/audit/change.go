package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Action is the kind of mutation a Change describes.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
)

// Valid reports whether a is one of the three known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDestroy:
		return true
	}
	return false
}

// ParseAction converts a stored action string back to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("invalid action %q: must be create, update, or destroy", s)
	}
	return a, nil
}

// FieldChange is the (before, after) pair recorded for one field.
// It serializes as a two element JSON array.
type FieldChange struct {
	Before any
	After  any
}

// MarshalJSON implements json.Marshaler.
func (fc FieldChange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{fc.Before, fc.After})
}

// UnmarshalJSON implements json.Unmarshaler.
// Numbers decode as json.Number so large integers survive the round trip.
func (fc *FieldChange) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var pair []any
	if err := dec.Decode(&pair); err != nil {
		return fmt.Errorf("decode field change: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decode field change: expected [before, after], got %d elements", len(pair))
	}
	fc.Before, fc.After = pair[0], pair[1]
	return nil
}

// ChangeSet maps field name to its (before, after) pair.
type ChangeSet map[string]FieldChange

// Fields returns the changed field names in sorted order.
func (cs ChangeSet) Fields() []string {
	out := make([]string, 0, len(cs))
	for k := range cs {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Identity names one tracked record: its registered type and joined key.
type Identity struct {
	Type string
	ID   string
}

func (id Identity) String() string {
	return id.Type + "#" + id.ID
}

// Change is one immutable history entry.
//
// Snapshot holds the tracked fields as they were before the change and is nil
// for creates. ChangeSet is empty for creates and destroys.
type Change struct {
	ID           int64
	ItemType     string
	ItemID       string
	Snapshot     map[string]any
	ChangeSet    ChangeSet
	ActorID      *string
	ActorDisplay *string
	Action       Action
	CreatedAt    time.Time
}

// Identity returns the identity this change belongs to.
func (c *Change) Identity() Identity {
	return Identity{Type: c.ItemType, ID: c.ItemID}
}

// HasSnapshot reports whether the change carries a prior state.
func (c *Change) HasSnapshot() bool {
	return c.Snapshot != nil
}

// Before orders two changes of the same identity by (CreatedAt, ID).
func (c *Change) Before(other *Change) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}
