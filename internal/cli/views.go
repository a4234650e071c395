package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/revlog/internal/audit"
	"github.com/roach88/revlog/internal/store"
)

// ChangeView is the CLI rendering of one change.
type ChangeView struct {
	ID           int64           `json:"id"`
	ItemType     string          `json:"item_type"`
	ItemID       string          `json:"item_id"`
	Version      int             `json:"version"`
	Action       audit.Action    `json:"action"`
	ActorID      *string         `json:"actor_id,omitempty"`
	ActorDisplay *string         `json:"actor_display,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ChangeSet    audit.ChangeSet `json:"change_set"`
	Snapshot     map[string]any  `json:"snapshot,omitempty"`
}

func newChangeView(c *audit.Change, version int) ChangeView {
	return ChangeView{
		ID:           c.ID,
		ItemType:     c.ItemType,
		ItemID:       c.ItemID,
		Version:      version,
		Action:       c.Action,
		ActorID:      c.ActorID,
		ActorDisplay: c.ActorDisplay,
		CreatedAt:    c.CreatedAt,
		ChangeSet:    c.ChangeSet,
		Snapshot:     c.Snapshot,
	}
}

func (v ChangeView) actor() string {
	switch {
	case v.ActorDisplay != nil:
		return *v.ActorDisplay
	case v.ActorID != nil:
		return *v.ActorID
	}
	return "-"
}

// HistoryView is the history of one record.
type HistoryView struct {
	ItemType string       `json:"item_type"`
	ItemID   string       `json:"item_id"`
	Changes  []ChangeView `json:"changes"`
}

func (h HistoryView) header() []string {
	return []string{"ID", "VERSION", "ACTION", "ACTOR", "CREATED", "FIELDS"}
}

func (h HistoryView) rows() [][]string {
	out := make([][]string, len(h.Changes))
	for i, c := range h.Changes {
		fields := strings.Join(c.ChangeSet.Fields(), ",")
		if fields == "" {
			fields = "-"
		}
		out[i] = []string{
			strconv.FormatInt(c.ID, 10),
			strconv.Itoa(c.Version),
			string(c.Action),
			c.actor(),
			c.CreatedAt.Format(time.RFC3339),
			fields,
		}
	}
	return out
}

// IdentityList lists records with history.
type IdentityList []store.IdentitySummary

func (l IdentityList) header() []string {
	return []string{"TYPE", "ID", "CHANGES", "LATEST"}
}

func (l IdentityList) rows() [][]string {
	out := make([][]string, len(l))
	for i, s := range l {
		out[i] = []string{s.Identity.Type, s.Identity.ID, strconv.Itoa(s.Count), s.Latest.Format(time.RFC3339)}
	}
	return out
}

// ShowView is one change with its neighbours in the record's history.
type ShowView struct {
	ChangeView
	Previous *int64 `json:"previous,omitempty"`
	Next     *int64 `json:"next,omitempty"`
}

func (s ShowView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Change %d: %s %s#%s (version %d)\n", s.ID, s.Action, s.ItemType, s.ItemID, s.Version)
	fmt.Fprintf(&b, "  Actor:   %s\n", s.actor())
	fmt.Fprintf(&b, "  Created: %s\n", s.CreatedAt.Format(time.RFC3339Nano))
	for _, name := range s.ChangeSet.Fields() {
		fc := s.ChangeSet[name]
		fmt.Fprintf(&b, "  %s: %v -> %v\n", name, fc.Before, fc.After)
	}
	if s.Snapshot != nil {
		fmt.Fprintf(&b, "  Snapshot: %s\n", formatValues(s.Snapshot))
	}
	fmt.Fprintf(&b, "  Previous: %s  Next: %s", optionalID(s.Previous), optionalID(s.Next))
	return b.String()
}

// TypeView describes one declared type.
type TypeView struct {
	Name       string   `json:"name"`
	Table      string   `json:"table"`
	Tracked    bool     `json:"tracked"`
	Keys       []string `json:"keys"`
	Audited    []string `json:"audited"`
	MaxRecords int      `json:"max_records,omitempty"`
}

// TypeList lists declared types.
type TypeList []TypeView

func (l TypeList) header() []string {
	return []string{"NAME", "TABLE", "TRACKED", "KEYS", "AUDITED", "MAX"}
}

func (l TypeList) rows() [][]string {
	out := make([][]string, len(l))
	for i, t := range l {
		limit := "-"
		if t.MaxRecords != 0 {
			limit = strconv.Itoa(t.MaxRecords)
		}
		out[i] = []string{
			t.Name,
			t.Table,
			strconv.FormatBool(t.Tracked),
			strings.Join(t.Keys, ","),
			strings.Join(t.Audited, ","),
			limit,
		}
	}
	return out
}

func optionalID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

// formatValues renders a value map as "k=v" pairs in key order.
func formatValues(values map[string]any) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, values[k])
	}
	return strings.Join(parts, " ")
}
