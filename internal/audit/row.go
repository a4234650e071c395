package audit

import (
	"fmt"
	"maps"
)

// Row is a dynamically typed record for types declared at runtime (for
// example from CUE declarations) rather than as Go structs.
type Row struct {
	Type   string
	Values map[string]any
}

// NewRow creates an empty row of the named type.
func NewRow(typ string) *Row {
	return &Row{Type: typ, Values: make(map[string]any)}
}

// TrackedType implements the registry's dynamic type lookup.
func (r *Row) TrackedType() string { return r.Type }

// Clone returns a shallow copy.
func (r *Row) Clone() *Row {
	return &Row{Type: r.Type, Values: maps.Clone(r.Values)}
}

// RowAccessor returns the Accessor for rows of typ restricted to fields.
func RowAccessor(typ string, fields []Field) Accessor {
	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		known[f.Name] = struct{}{}
	}
	return &rowAccessor{typ: typ, known: known}
}

type rowAccessor struct {
	typ   string
	known map[string]struct{}
}

func (a *rowAccessor) New() any {
	return NewRow(a.typ)
}

func (a *rowAccessor) row(rec any, field string) (*Row, error) {
	r, ok := rec.(*Row)
	if !ok || r == nil {
		return nil, fmt.Errorf("expected *audit.Row of type %s, got %T", a.typ, rec)
	}
	if r.Type != a.typ {
		return nil, fmt.Errorf("expected row of type %s, got %s", a.typ, r.Type)
	}
	if _, ok := a.known[field]; !ok {
		return nil, fmt.Errorf("%s has no field %q", a.typ, field)
	}
	return r, nil
}

func (a *rowAccessor) Get(rec any, field string) (any, error) {
	r, err := a.row(rec, field)
	if err != nil {
		return nil, err
	}
	return r.Values[field], nil
}

func (a *rowAccessor) Set(rec any, field string, v any) error {
	r, err := a.row(rec, field)
	if err != nil {
		return err
	}
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	r.Values[field] = v
	return nil
}
