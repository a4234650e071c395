package audit

import (
	"encoding/json"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ResolveFields returns the audited fields of meta under p, in declaration
// order. Only narrows first, then Except and the timestamp rule remove fields
// regardless of Only. Collections are never audited.
//
// This is the sole gate for field inclusion: Diff and Snapshot never see a
// field it does not return.
func ResolveFields(meta *TypeMeta, p Policy) []string {
	out := make([]string, 0, len(meta.fields))
	for _, f := range meta.fields {
		if f.Kind == FieldMany {
			continue
		}
		if len(p.Only) > 0 && !slices.Contains(p.Only, f.Name) {
			continue
		}
		if slices.Contains(p.Except, f.Name) {
			continue
		}
		if p.IgnoresTimestamps() && f.Timestamp != TimestampNone {
			continue
		}
		out = append(out, f.Name)
	}
	return out
}

// Diff compares before and after over fields and returns the fields whose
// values are not LooseEqual.
func Diff(meta *TypeMeta, before, after any, fields []string) (ChangeSet, error) {
	cs := make(ChangeSet)
	for _, name := range fields {
		b, err := meta.Get(before, name)
		if err != nil {
			return nil, invalidRecordError(meta.name, "read before state", err)
		}
		a, err := meta.Get(after, name)
		if err != nil {
			return nil, invalidRecordError(meta.name, "read after state", err)
		}
		if !LooseEqual(b, a) {
			cs[name] = FieldChange{Before: b, After: a}
		}
	}
	return cs, nil
}

// Snapshot extracts the current values of fields from rec.
func Snapshot(meta *TypeMeta, rec any, fields []string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, name := range fields {
		v, err := meta.Get(rec, name)
		if err != nil {
			return nil, invalidRecordError(meta.name, "snapshot", err)
		}
		out[name] = v
	}
	return out, nil
}

// LooseEqual is the comparison used for diffing. It tolerates the type
// coercion record stores apply between writes and reads:
//
//   - nil equals nil; a nil pointer equals nil; other pointers are dereferenced
//   - time.Time values compare with Equal (location ignored); a string that
//     parses as a timestamp compares as that timestamp
//   - numbers compare numerically across int, uint, float and json.Number
//   - a string compares equal to a number or bool it parses to ("5" == 5)
//   - strings compare after Unicode NFC normalization
//   - []byte compares by content and equals the same string
//   - everything else uses reflect.DeepEqual
func LooseEqual(a, b any) bool {
	a, b = deref(a), deref(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if ta, ok := a.(time.Time); ok {
		tb, err := toTime(b)
		return err == nil && ta.Equal(tb)
	}
	if tb, ok := b.(time.Time); ok {
		ta, err := toTime(a)
		return err == nil && ta.Equal(tb)
	}

	if ba, ok := a.([]byte); ok {
		a = string(ba)
	}
	if bb, ok := b.([]byte); ok {
		b = string(bb)
	}

	sa, aStr := a.(string)
	sb, bStr := b.(string)
	switch {
	case aStr && bStr:
		return norm.NFC.String(sa) == norm.NFC.String(sb)
	case aStr:
		return scalarMatchesString(b, sa)
	case bStr:
		return scalarMatchesString(a, sb)
	}

	if na, ok := numeric(a); ok {
		if nb, ok := numeric(b); ok {
			return na.equal(nb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb
		}
	}
	return reflect.DeepEqual(a, b)
}

func deref(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

// scalarMatchesString compares a non-string scalar against its textual form.
func scalarMatchesString(v any, s string) bool {
	s = strings.TrimSpace(s)
	if b, ok := v.(bool); ok {
		parsed, err := strconv.ParseBool(s)
		return err == nil && parsed == b
	}
	if n, ok := numeric(v); ok {
		parsed, ok := numeric(json.Number(s))
		return ok && n.equal(parsed)
	}
	return false
}

// number holds either an exact integer or a float.
type number struct {
	i     int64
	f     float64
	isInt bool
}

func (n number) equal(o number) bool {
	if n.isInt && o.isInt {
		return n.i == o.i
	}
	return n.float() == o.float()
}

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func numeric(v any) (number, bool) {
	if jn, ok := v.(json.Number); ok {
		if i, err := jn.Int64(); err == nil {
			return number{i: i, isInt: true}, true
		}
		f, err := jn.Float64()
		if err != nil {
			return number{}, false
		}
		return number{f: f}, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{i: rv.Int(), isInt: true}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u <= 1<<63-1 {
			return number{i: int64(u), isInt: true}, true
		}
		return number{f: float64(u)}, true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == float64(int64(f)) {
			return number{i: int64(f), isInt: true}, true
		}
		return number{f: f}, true
	}
	return number{}, false
}
