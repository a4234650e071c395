package audit

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// KeySeparator joins the values of a composite primary key into one item id.
const KeySeparator = ":::"

// FieldKind distinguishes direct columns from relationships.
type FieldKind int

const (
	// FieldScalar is a plain column.
	FieldScalar FieldKind = iota

	// FieldRef is a single owning reference: a foreign key stored on the
	// record. Snapshots hold the key value, never the referenced object.
	FieldRef

	// FieldMany is a collection computed from the other side of a
	// relationship. It is never diffed, snapshotted or persisted.
	FieldMany
)

// TimestampRole marks fields that carry lifecycle timestamps.
type TimestampRole int

const (
	TimestampNone TimestampRole = iota
	TimestampCreated
	TimestampUpdated
	TimestampDeleted
)

// KeyGen describes how a store fills an empty primary key on insert.
type KeyGen int

const (
	KeyManual KeyGen = iota
	KeyAutoIncrement
	KeyUUID
)

// Field describes one column of a tracked type.
type Field struct {
	Name       string
	Kind       FieldKind
	Timestamp  TimestampRole
	PrimaryKey bool
	Generated  KeyGen

	// GoType is the Go type of the field for struct-backed types, nil for rows.
	GoType reflect.Type
}

// Accessor reads and writes field values on one record representation.
type Accessor interface {
	New() any
	Get(rec any, field string) (any, error)
	Set(rec any, field string, v any) error
}

// TypeSpec is the registration input for one type.
type TypeSpec struct {
	// Name is the item type written on every Change.
	Name string

	// Table is the record store table backing the type.
	Table string

	// Fields in declaration order. At least one must be a primary key.
	Fields []Field

	Accessor Accessor
	Policy   Policy

	// Untracked types are known to the record store but produce no history.
	Untracked bool

	goType reflect.Type
}

// TypeMeta is the resolved, immutable metadata for a registered type.
type TypeMeta struct {
	name      string
	table     string
	fields    []Field
	byName    map[string]int
	keys      []string
	acc       Accessor
	policy    Policy
	untracked bool
	goType    reflect.Type
}

func (m *TypeMeta) Name() string   { return m.name }
func (m *TypeMeta) Table() string  { return m.table }
func (m *TypeMeta) Policy() Policy { return m.policy }

// Tracked reports whether lifecycle events on this type are audited.
func (m *TypeMeta) Tracked() bool { return !m.untracked }

// Fields returns the declared fields in order.
func (m *TypeMeta) Fields() []Field {
	return slices.Clone(m.fields)
}

// Field looks up a field by name.
func (m *TypeMeta) Field(name string) (Field, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

// PrimaryKeys returns the primary key field names in declaration order.
func (m *TypeMeta) PrimaryKeys() []string {
	return slices.Clone(m.keys)
}

// New returns a fresh, empty record of this type.
func (m *TypeMeta) New() any {
	return m.acc.New()
}

// Get reads one field.
func (m *TypeMeta) Get(rec any, field string) (any, error) {
	return m.acc.Get(rec, field)
}

// Set writes one field, coercing v to the field's type.
func (m *TypeMeta) Set(rec any, field string, v any) error {
	return m.acc.Set(rec, field, v)
}

// Key joins the record's primary key values into an item id. A key value
// containing KeySeparator is rejected: SplitKey could not recover it.
func (m *TypeMeta) Key(rec any) (string, error) {
	parts := make([]string, len(m.keys))
	for i, k := range m.keys {
		v, err := m.acc.Get(rec, k)
		if err != nil {
			return "", err
		}
		if v == nil {
			return "", invalidRecordError(m.name, fmt.Sprintf("primary key %q is nil", k), nil)
		}
		parts[i] = formatKeyPart(v)
		if strings.Contains(parts[i], KeySeparator) {
			return "", invalidRecordError(m.name,
				fmt.Sprintf("primary key %q value %q contains the key separator %q", k, parts[i], KeySeparator), nil)
		}
	}
	return strings.Join(parts, KeySeparator), nil
}

// SplitKey maps an item id back to primary key column values.
func (m *TypeMeta) SplitKey(key string) (map[string]string, error) {
	parts := strings.Split(key, KeySeparator)
	if len(parts) != len(m.keys) {
		return nil, invalidRecordError(m.name,
			fmt.Sprintf("key %q has %d parts, type has %d primary key fields", key, len(parts), len(m.keys)), nil)
	}
	out := make(map[string]string, len(parts))
	for i, k := range m.keys {
		out[k] = parts[i]
	}
	return out, nil
}

func formatKeyPart(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// typeNamer lets dynamic records report their registered type name.
type typeNamer interface {
	TrackedType() string
}

// Registry maps type names to metadata. It is populated once at startup by
// Register calls and read concurrently afterwards.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*TypeMeta
	byGo   map[reflect.Type]*TypeMeta
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*TypeMeta),
		byGo:   make(map[reflect.Type]*TypeMeta),
	}
}

// Register validates spec and adds it to the registry.
func (r *Registry) Register(spec TypeSpec) (*TypeMeta, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("register: type name is required")
	}
	if spec.Accessor == nil {
		return nil, fmt.Errorf("register %s: accessor is required", spec.Name)
	}
	if spec.Table == "" {
		return nil, fmt.Errorf("register %s: table is required", spec.Name)
	}

	meta := &TypeMeta{
		name:      spec.Name,
		table:     spec.Table,
		fields:    slices.Clone(spec.Fields),
		byName:    make(map[string]int, len(spec.Fields)),
		acc:       spec.Accessor,
		policy:    spec.Policy,
		untracked: spec.Untracked,
		goType:    spec.goType,
	}
	for i, f := range meta.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("register %s: field %d has no name", spec.Name, i)
		}
		if _, dup := meta.byName[f.Name]; dup {
			return nil, fmt.Errorf("register %s: duplicate field %q", spec.Name, f.Name)
		}
		meta.byName[f.Name] = i
		if f.PrimaryKey {
			if f.Kind == FieldMany {
				return nil, fmt.Errorf("register %s: primary key %q cannot be a collection", spec.Name, f.Name)
			}
			meta.keys = append(meta.keys, f.Name)
		}
	}
	if len(meta.keys) == 0 {
		return nil, fmt.Errorf("register %s: no primary key field", spec.Name)
	}
	for _, name := range append(slices.Clone(spec.Policy.Only), spec.Policy.Except...) {
		if _, ok := meta.byName[name]; !ok {
			return nil, fmt.Errorf("register %s: policy names unknown field %q", spec.Name, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[spec.Name]; dup {
		return nil, fmt.Errorf("register %s: type already registered", spec.Name)
	}
	r.byName[spec.Name] = meta
	if meta.goType != nil {
		r.byGo[meta.goType] = meta
	}
	return meta, nil
}

// MustRegister is Register that panics on error, for static setup code.
func (r *Registry) MustRegister(spec TypeSpec) *TypeMeta {
	m, err := r.Register(spec)
	if err != nil {
		panic(err)
	}
	return m
}

// Lookup resolves a type name. Returns an UNKNOWN_TYPE error if absent.
func (r *Registry) Lookup(name string) (*TypeMeta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	if !ok {
		return nil, UnknownTypeError(name)
	}
	return m, nil
}

// MetaOf finds the metadata for a record value.
// Dynamic rows resolve by their type name, structs by their Go type.
func (r *Registry) MetaOf(rec any) (*TypeMeta, bool) {
	if rec == nil {
		return nil, false
	}
	if n, ok := rec.(typeNamer); ok {
		m, err := r.Lookup(n.TrackedType())
		return m, err == nil
	}
	t := reflect.TypeOf(rec)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byGo[t]
	return m, ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// IdentityOf resolves a record's type and key.
func (r *Registry) IdentityOf(rec any) (*TypeMeta, Identity, error) {
	meta, ok := r.MetaOf(rec)
	if !ok {
		return nil, Identity{}, UnknownTypeError(fmt.Sprintf("%T", rec))
	}
	key, err := meta.Key(rec)
	if err != nil {
		return nil, Identity{}, err
	}
	return meta, Identity{Type: meta.name, ID: key}, nil
}
