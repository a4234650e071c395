package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/revlog/internal/audit"
	"github.com/roach88/revlog/internal/store"
)

// Store reads and writes live records by primary key.
type Store struct {
	db     *sql.DB
	newKey func() string
}

var _ audit.RecordStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKeyGenerator replaces the UUIDv7 generator used for uuid keys.
func WithKeyGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newKey = fn
	}
}

// New creates a Store over db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		newKey: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// InTx runs fn in a transaction, joining one already carried on ctx.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.RunInTx(ctx, s.db, fn)
}

// EnsureTable creates the table for meta if it does not exist.
// Collection fields have no column.
func (s *Store) EnsureTable(ctx context.Context, meta *audit.TypeMeta) error {
	var (
		defs []string
		keys = meta.PrimaryKeys()
	)
	for _, f := range columnFields(meta) {
		def := quote(f.Name)
		if t := columnType(f); t != "" {
			def += " " + t
		}
		if len(keys) == 1 && f.PrimaryKey {
			def += " PRIMARY KEY"
			if f.Generated == audit.KeyAutoIncrement {
				def += " AUTOINCREMENT"
			}
		}
		defs = append(defs, def)
	}
	if len(keys) > 1 {
		quoted := make([]string, len(keys))
		for i, k := range keys {
			quoted[i] = quote(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	q := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(meta.Table()), strings.Join(defs, ",\n\t"))
	if _, err := store.Conn(ctx, s.db).ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", meta.Table(), err)
	}
	return nil
}

// FindByKey loads the record with key, or returns a NOT_FOUND error.
func (s *Store) FindByKey(ctx context.Context, meta *audit.TypeMeta, key string) (any, error) {
	where, args, err := keyClause(meta, key)
	if err != nil {
		return nil, err
	}
	fields := columnFields(meta)
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quote(f.Name)
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), quote(meta.Table()), where)
	dest := make([]any, len(fields))
	ptrs := make([]any, len(fields))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	err = store.Conn(ctx, s.db).QueryRowContext(ctx, q, args...).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.NotFoundError(meta.Name(), key, "record not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find %s#%s: %w", meta.Name(), key, err)
	}

	rec := meta.New()
	for i, f := range fields {
		if err := meta.Set(rec, f.Name, fromColumn(f, dest[i])); err != nil {
			return nil, fmt.Errorf("find %s#%s: %w", meta.Name(), key, err)
		}
	}
	return rec, nil
}

// Insert writes rec. A zero auto-increment key is left to SQLite and read
// back; a zero uuid key is generated first. Either way rec carries its key
// afterwards.
func (s *Store) Insert(ctx context.Context, meta *audit.TypeMeta, rec any) error {
	var (
		cols, marks []string
		args        []any
		autoKey     string
	)
	for _, f := range columnFields(meta) {
		v, err := meta.Get(rec, f.Name)
		if err != nil {
			return fmt.Errorf("insert %s: %w", meta.Name(), err)
		}
		if f.PrimaryKey && isZero(v) {
			switch f.Generated {
			case audit.KeyAutoIncrement:
				autoKey = f.Name
				continue
			case audit.KeyUUID:
				v = s.newKey()
				if err := meta.Set(rec, f.Name, v); err != nil {
					return fmt.Errorf("insert %s: %w", meta.Name(), err)
				}
			}
		}
		cols = append(cols, quote(f.Name))
		marks = append(marks, "?")
		args = append(args, bindValue(v))
	}

	var q string
	if len(cols) == 0 {
		q = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(meta.Table()))
	} else {
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(meta.Table()), strings.Join(cols, ", "), strings.Join(marks, ", "))
	}
	res, err := store.Conn(ctx, s.db).ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", meta.Name(), err)
	}
	if autoKey == "" {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %s: last insert id: %w", meta.Name(), err)
	}
	if err := meta.Set(rec, autoKey, id); err != nil {
		return fmt.Errorf("insert %s: %w", meta.Name(), err)
	}
	return nil
}

// Update overwrites fields of the record with key using rec's values.
// Primary keys and collections in fields are ignored.
func (s *Store) Update(ctx context.Context, meta *audit.TypeMeta, key string, rec any, fields []string) error {
	values := make(map[string]any, len(fields))
	for _, name := range fields {
		f, ok := meta.Field(name)
		if !ok {
			return fmt.Errorf("update %s: unknown field %q", meta.Name(), name)
		}
		if f.PrimaryKey || f.Kind == audit.FieldMany {
			continue
		}
		v, err := meta.Get(rec, name)
		if err != nil {
			return fmt.Errorf("update %s: %w", meta.Name(), err)
		}
		values[name] = v
	}
	return s.UpdateColumns(ctx, meta, key, values)
}

// UpdateColumns sets the given columns on the record with key.
// Columns are written in sorted order.
func (s *Store) UpdateColumns(ctx context.Context, meta *audit.TypeMeta, key string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	where, keyArgs, err := keyClause(meta, key)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+len(keyArgs))
	for i, name := range names {
		sets[i] = quote(name) + " = ?"
		args = append(args, bindValue(values[name]))
	}
	args = append(args, keyArgs...)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s", quote(meta.Table()), strings.Join(sets, ", "), where)
	if _, err := store.Conn(ctx, s.db).ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("update %s#%s: %w", meta.Name(), key, err)
	}
	return nil
}

// Delete removes the record with key and returns the rows affected.
func (s *Store) Delete(ctx context.Context, meta *audit.TypeMeta, key string) (int64, error) {
	where, args, err := keyClause(meta, key)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s", quote(meta.Table()), where)
	res, err := store.Conn(ctx, s.db).ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s#%s: %w", meta.Name(), key, err)
	}
	return res.RowsAffected()
}

// columnFields returns the fields stored as columns.
func columnFields(meta *audit.TypeMeta) []audit.Field {
	var out []audit.Field
	for _, f := range meta.Fields() {
		if f.Kind != audit.FieldMany {
			out = append(out, f)
		}
	}
	return out
}

// keyClause builds "a = ? AND b = ?" for key, converting each part to its
// field's Go kind so integer keys match integer columns.
func keyClause(meta *audit.TypeMeta, key string) (string, []any, error) {
	parts, err := meta.SplitKey(key)
	if err != nil {
		return "", nil, err
	}
	keys := meta.PrimaryKeys()
	conds := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		conds[i] = quote(k) + " = ?"
		args[i] = parts[k]
		if f, ok := meta.Field(k); ok && f.GoType != nil {
			args[i] = keyArg(f.GoType, parts[k])
		}
	}
	return strings.Join(conds, " AND "), args, nil
}

func keyArg(t reflect.Type, s string) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return s
}

// columnType picks a declared SQLite type so column affinity and go-sqlite3's
// time parsing apply. Fields without a Go type get no declared type.
func columnType(f audit.Field) string {
	if f.Timestamp != audit.TimestampNone {
		return "DATETIME"
	}
	t := f.GoType
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeOf(time.Time{}) {
		return "DATETIME"
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Bool:
		return "INTEGER"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	case reflect.String:
		return "TEXT"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "BLOB"
		}
	}
	return ""
}

// bindValue converts snapshot values the driver cannot bind.
func bindValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(data)
	}
	return v
}

// fromColumn normalizes a scanned column value. TEXT comes back as []byte
// from some code paths and is returned as string unless the field is a
// byte slice.
func fromColumn(f audit.Field, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if f.GoType != nil && f.GoType.Kind() == reflect.Slice {
		return slices.Clone(b)
	}
	return string(b)
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
