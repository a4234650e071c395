package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/revlog/internal/audit"
	"github.com/roach88/revlog/internal/testutil"
)

// createTestStore creates a new store in a temp dir, stamped by a
// deterministic clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return createTestStoreWithClock(t, testutil.NewDeterministicClock())
}

func createTestStoreWithClock(t *testing.T, clock *testutil.DeterministicClock) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestChange creates an update change with a one-field change set.
func createTestChange(itemType, itemID string, action audit.Action) *audit.Change {
	c := &audit.Change{
		ItemType:  itemType,
		ItemID:    itemID,
		Action:    action,
		ChangeSet: audit.ChangeSet{"name": {Before: "A", After: "B"}},
	}
	if action != audit.ActionCreate {
		c.Snapshot = map[string]any{"id": itemID, "name": "A"}
	}
	return c
}
