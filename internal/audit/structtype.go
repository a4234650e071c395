package audit

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TagName is the struct tag read by StructSpec.
//
//	type Widget struct {
//		ID        int64     `revlog:"id,pk,auto"`
//		Name      string    `revlog:"name"`
//		OwnerID   *int64    `revlog:"owner_id,ref"`
//		Parts     []Part    `revlog:"parts,many"`
//		CreatedAt time.Time `revlog:"created_at,created"`
//		Secret    string    `revlog:"-"`
//	}
//
// Untagged exported fields use snake_case column names. A field named ID is
// the primary key when no field is tagged pk, and CreatedAt, UpdatedAt and
// DeletedAt carry timestamp roles, matching common ORM conventions.
const TagName = "revlog"

// TableNamer provides a custom table name for a struct type.
type TableNamer interface {
	TableName() string
}

// StructSpec derives a TypeSpec from a struct value or pointer.
// The type name is the Go type name.
func StructSpec(sample any, p Policy) (TypeSpec, error) {
	t := reflect.TypeOf(sample)
	if t == nil {
		return TypeSpec{}, fmt.Errorf("struct spec: nil sample")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return TypeSpec{}, fmt.Errorf("struct spec: %s is not a struct", t)
	}
	if t.Name() == "" {
		return TypeSpec{}, fmt.Errorf("struct spec: anonymous struct %s has no type name", t)
	}

	acc := &structAccessor{typ: t, index: make(map[string][]int)}
	var fields []Field
	if err := collectFields(t, nil, acc, &fields); err != nil {
		return TypeSpec{}, fmt.Errorf("struct spec %s: %w", t.Name(), err)
	}

	hasPK := false
	for _, f := range fields {
		if f.PrimaryKey {
			hasPK = true
			break
		}
	}
	if !hasPK {
		for i, f := range fields {
			if f.Name == "id" {
				fields[i].PrimaryKey = true
				fields[i].Generated = defaultKeyGen(f.GoType)
			}
		}
	}

	return TypeSpec{
		Name:     t.Name(),
		Table:    tableNameOf(t),
		Fields:   fields,
		Accessor: acc,
		Policy:   p,
		goType:   t,
	}, nil
}

// RegisterStruct registers a struct type derived with StructSpec.
func (r *Registry) RegisterStruct(sample any, p Policy) (*TypeMeta, error) {
	spec, err := StructSpec(sample, p)
	if err != nil {
		return nil, err
	}
	return r.Register(spec)
}

// RegisterUntracked registers a struct type the record store may persist
// without producing history.
func (r *Registry) RegisterUntracked(sample any) (*TypeMeta, error) {
	spec, err := StructSpec(sample, DefaultPolicy())
	if err != nil {
		return nil, err
	}
	spec.Untracked = true
	return r.Register(spec)
}

func collectFields(t reflect.Type, prefix []int, acc *structAccessor, out *[]Field) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		idx := append(append([]int(nil), prefix...), i)

		tag, hasTag := sf.Tag.Lookup(TagName)
		if tag == "-" {
			continue
		}
		if sf.Anonymous && !hasTag && sf.Type.Kind() == reflect.Struct {
			if err := collectFields(sf.Type, idx, acc, out); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}

		f := Field{Name: toSnakeCase(sf.Name), GoType: sf.Type}
		if hasTag {
			parts := strings.Split(tag, ",")
			if name := strings.TrimSpace(parts[0]); name != "" {
				f.Name = name
			}
			for _, opt := range parts[1:] {
				switch strings.TrimSpace(opt) {
				case "pk":
					f.PrimaryKey = true
				case "auto":
					f.Generated = KeyAutoIncrement
				case "uuid":
					f.Generated = KeyUUID
				case "ref":
					f.Kind = FieldRef
				case "many":
					f.Kind = FieldMany
				case "created":
					f.Timestamp = TimestampCreated
				case "updated":
					f.Timestamp = TimestampUpdated
				case "deleted":
					f.Timestamp = TimestampDeleted
				case "":
				default:
					return fmt.Errorf("field %s: unknown tag option %q", sf.Name, opt)
				}
			}
		} else {
			if skipUntagged(sf.Type) {
				continue
			}
			if isCollection(sf.Type) {
				f.Kind = FieldMany
			}
			switch sf.Name {
			case "CreatedAt":
				f.Timestamp = TimestampCreated
			case "UpdatedAt":
				f.Timestamp = TimestampUpdated
			case "DeletedAt":
				f.Timestamp = TimestampDeleted
			}
		}

		if _, dup := acc.index[f.Name]; dup {
			return fmt.Errorf("duplicate column %q", f.Name)
		}
		acc.index[f.Name] = idx
		*out = append(*out, f)
	}
	return nil
}

// skipUntagged drops navigation objects: nested structs other than time.Time.
// Their key lives in a sibling field.
func skipUntagged(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != timeType
}

func isCollection(t reflect.Type) bool {
	return (t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8) || t.Kind() == reflect.Map
}

func defaultKeyGen(t reflect.Type) KeyGen {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return KeyManual
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KeyAutoIncrement
	}
	return KeyManual
}

var tableNamerType = reflect.TypeOf((*TableNamer)(nil)).Elem()

func tableNameOf(t reflect.Type) string {
	if reflect.PointerTo(t).Implements(tableNamerType) {
		if namer, ok := reflect.New(t).Interface().(TableNamer); ok {
			if name := strings.TrimSpace(namer.TableName()); name != "" {
				return name
			}
		}
	}
	return inflection.Plural(toSnakeCase(t.Name()))
}

func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// structAccessor reads and writes struct fields by column name.
type structAccessor struct {
	typ   reflect.Type
	index map[string][]int
}

func (a *structAccessor) New() any {
	return reflect.New(a.typ).Interface()
}

func (a *structAccessor) value(rec any) (reflect.Value, error) {
	v := reflect.ValueOf(rec)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil %s", a.typ)
		}
		v = v.Elem()
	}
	if v.Type() != a.typ {
		return reflect.Value{}, fmt.Errorf("expected %s, got %T", a.typ, rec)
	}
	return v, nil
}

func (a *structAccessor) Get(rec any, field string) (any, error) {
	idx, ok := a.index[field]
	if !ok {
		return nil, fmt.Errorf("%s has no field %q", a.typ.Name(), field)
	}
	v, err := a.value(rec)
	if err != nil {
		return nil, err
	}
	fv := v.FieldByIndex(idx)
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}
	return fv.Interface(), nil
}

func (a *structAccessor) Set(rec any, field string, val any) error {
	idx, ok := a.index[field]
	if !ok {
		return fmt.Errorf("%s has no field %q", a.typ.Name(), field)
	}
	v, err := a.value(rec)
	if err != nil {
		return err
	}
	if !v.CanAddr() {
		return fmt.Errorf("set %s.%s: record must be a pointer", a.typ.Name(), field)
	}
	if err := assignValue(v.FieldByIndex(idx), val); err != nil {
		return fmt.Errorf("set %s.%s: %w", a.typ.Name(), field, err)
	}
	return nil
}
