// Package declare loads tracked type declarations written in CUE.
//
// Declarations describe record types that are not Go structs (tables owned
// by another system, or scenarios in tests). Each compiles to an
// audit.TypeSpec backed by audit.Row values:
//
//	types: Post: {
//		table: "posts"
//		fields: {
//			id:         {type: "int", primary_key: true, generated: "auto"}
//			title:      {type: "string"}
//			author_id:  {type: "int", kind: "ref"}
//			tags:       {kind: "many"}
//			updated_at: {type: "time", timestamp: "updated"}
//		}
//		policy: {except: ["body"], max_records: 50}
//	}
//
// Field order in the source is the declaration order used for diffs.
package declare

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/jinzhu/inflection"

	"github.com/roach88/revlog/internal/audit"
)

// schemaSrc closes every declaration, so misspelled keys fail to load.
const schemaSrc = `
#Field: {
	type?:        "string" | "int" | "float" | "bool" | "time" | "bytes" | "any"
	kind?:        "scalar" | "ref" | "many"
	primary_key?: bool
	generated?:   "auto" | "uuid"
	timestamp?:   "created" | "updated" | "deleted"
}

#Policy: {
	only?:             [...string]
	except?:           [...string]
	track_timestamps?: bool
	max_records?:      int
}

#Type: {
	table?:     string
	untracked?: bool
	fields: [string]: #Field
	policy?: #Policy
}
`

var goTypes = map[string]reflect.Type{
	"string": reflect.TypeOf(""),
	"int":    reflect.TypeOf(int64(0)),
	"float":  reflect.TypeOf(float64(0)),
	"bool":   reflect.TypeOf(false),
	"time":   reflect.TypeOf(time.Time{}),
	"bytes":  reflect.TypeOf([]byte(nil)),
}

// CompileError is a declaration error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileType parses one type declaration. The type name is the value's
// last path label, e.g. types.Post compiles to "Post".
func CompileType(v cue.Value) (*audit.TypeSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &audit.TypeSpec{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}
	if spec.Name == "" {
		return nil, &CompileError{Field: "name", Message: "type name is required", Pos: v.Pos()}
	}

	schema := v.Context().CompileString(schemaSrc).LookupPath(cue.ParsePath("#Type"))
	if err := schema.Unify(v).Validate(cue.Concrete(true)); err != nil {
		var ce *CompileError
		if formatted := formatCUEError(err); stderrors.As(formatted, &ce) {
			return nil, ce
		}
		return nil, &CompileError{Field: "cue", Message: err.Error(), Pos: v.Pos()}
	}

	var err error
	if spec.Table, err = optionalString(v, "table"); err != nil {
		return nil, err
	}
	if spec.Table == "" {
		spec.Table = inflection.Plural(strings.ToLower(spec.Name))
	}
	if spec.Untracked, err = optionalBool(v, "untracked"); err != nil {
		return nil, err
	}

	if spec.Fields, err = parseFields(v); err != nil {
		return nil, err
	}
	if spec.Policy, err = parsePolicy(v); err != nil {
		return nil, err
	}

	spec.Accessor = audit.RowAccessor(spec.Name, spec.Fields)
	return spec, nil
}

func parseFields(v cue.Value) ([]audit.Field, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{Field: "fields", Message: "at least one field is required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var (
		fields []audit.Field
		hasKey bool
	)
	for iter.Next() {
		fv := iter.Value()
		f := audit.Field{Name: iter.Label()}

		typ, err := optionalString(fv, "type")
		if err != nil {
			return nil, err
		}
		f.GoType = goTypes[typ]

		kind, err := optionalString(fv, "kind")
		if err != nil {
			return nil, err
		}
		switch kind {
		case "ref":
			f.Kind = audit.FieldRef
		case "many":
			f.Kind = audit.FieldMany
		}

		if f.PrimaryKey, err = optionalBool(fv, "primary_key"); err != nil {
			return nil, err
		}
		gen, err := optionalString(fv, "generated")
		if err != nil {
			return nil, err
		}
		switch gen {
		case "auto":
			f.Generated = audit.KeyAutoIncrement
		case "uuid":
			f.Generated = audit.KeyUUID
		}
		if f.Generated != audit.KeyManual && !f.PrimaryKey {
			return nil, &CompileError{
				Field:   "generated",
				Message: fmt.Sprintf("field %q: generated keys must be primary keys", f.Name),
				Pos:     fv.Pos(),
			}
		}
		if f.PrimaryKey && f.Kind == audit.FieldMany {
			return nil, &CompileError{
				Field:   "kind",
				Message: fmt.Sprintf("field %q: a collection cannot be a primary key", f.Name),
				Pos:     fv.Pos(),
			}
		}
		hasKey = hasKey || f.PrimaryKey

		ts, err := optionalString(fv, "timestamp")
		if err != nil {
			return nil, err
		}
		switch ts {
		case "created":
			f.Timestamp = audit.TimestampCreated
		case "updated":
			f.Timestamp = audit.TimestampUpdated
		case "deleted":
			f.Timestamp = audit.TimestampDeleted
		}
		if f.Timestamp != audit.TimestampNone && f.GoType == nil {
			f.GoType = goTypes["time"]
		}

		fields = append(fields, f)
	}

	if len(fields) == 0 {
		return nil, &CompileError{Field: "fields", Message: "at least one field is required", Pos: v.Pos()}
	}
	if !hasKey {
		return nil, &CompileError{Field: "primary_key", Message: "at least one primary key field is required", Pos: v.Pos()}
	}
	return fields, nil
}

func parsePolicy(v cue.Value) (audit.Policy, error) {
	var p audit.Policy
	pv := v.LookupPath(cue.ParsePath("policy"))
	if !pv.Exists() {
		return p, nil
	}

	var err error
	if p.Only, err = stringList(pv, "only"); err != nil {
		return p, err
	}
	if p.Except, err = stringList(pv, "except"); err != nil {
		return p, err
	}
	if p.TrackTimestamps, err = optionalBool(pv, "track_timestamps"); err != nil {
		return p, err
	}
	if mr := pv.LookupPath(cue.ParsePath("max_records")); mr.Exists() {
		n, err := mr.Int64()
		if err != nil {
			return p, formatCUEError(err)
		}
		p.MaxRecords = int(n)
	}
	return p, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, path string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func stringList(v cue.Value, path string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
