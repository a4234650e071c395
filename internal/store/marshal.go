package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/revlog/internal/audit"
)

// marshalSnapshot converts a snapshot to nullable JSON TEXT.
// A nil snapshot (create changes) is stored as SQL NULL.
func marshalSnapshot(snapshot map[string]any) (sql.NullString, error) {
	if snapshot == nil {
		return sql.NullString{}, nil
	}
	data, err := encodeJSON(snapshot)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return sql.NullString{String: data, Valid: true}, nil
}

// marshalChangeSet converts a change set to JSON TEXT, "{}" when empty.
func marshalChangeSet(cs audit.ChangeSet) (string, error) {
	if len(cs) == 0 {
		return "{}", nil
	}
	data, err := encodeJSON(cs)
	if err != nil {
		return "", fmt.Errorf("marshal change set: %w", err)
	}
	return data, nil
}

// encodeJSON uses json.Encoder with HTML escaping disabled so stored
// snapshots keep <, > and & readable. Map keys are sorted by encoding/json.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalSnapshot parses nullable JSON TEXT to a snapshot.
// Numbers decode as json.Number to avoid float64 precision loss for
// integer keys > 2^53.
func unmarshalSnapshot(data sql.NullString) (map[string]any, error) {
	if !data.Valid {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(data.String))
	dec.UseNumber()
	snapshot := map[string]any{}
	if err := dec.Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// unmarshalChangeSet parses JSON TEXT to a change set.
func unmarshalChangeSet(data string) (audit.ChangeSet, error) {
	cs := audit.ChangeSet{}
	if data == "" || data == "{}" {
		return cs, nil
	}
	if err := json.Unmarshal([]byte(data), &cs); err != nil {
		return nil, fmt.Errorf("unmarshal change set: %w", err)
	}
	return cs, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
