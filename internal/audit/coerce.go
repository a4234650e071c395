package audit

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var timeType = reflect.TypeOf(time.Time{})

// timeLayouts lists the textual timestamp forms a snapshot or a SQLite column
// may hold. The second entry is the format go-sqlite3 writes.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp forms produced by JSON and SQLite.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// assignValue stores src into dst, converting between the loosely typed
// values found in snapshots and database rows and the concrete field type.
func assignValue(dst reflect.Value, src any) error {
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		sv := reflect.ValueOf(src)
		if sv.Type().AssignableTo(dst.Type()) {
			dst.Set(sv)
			return nil
		}
		nv := reflect.New(dst.Type().Elem())
		if err := assignValue(nv.Elem(), src); err != nil {
			return err
		}
		dst.Set(nv)
		return nil
	}

	sv := reflect.ValueOf(src)
	for sv.Kind() == reflect.Pointer {
		if sv.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		sv = sv.Elem()
	}
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	src = sv.Interface()

	switch dst.Kind() {
	case reflect.String:
		dst.SetString(formatKeyPart(src))
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetUint(uint64(n))
		return nil

	case reflect.Float32, reflect.Float64:
		f, ok := toFloat64(src)
		if !ok {
			return fmt.Errorf("cannot convert %T to %s", src, dst.Type())
		}
		dst.SetFloat(f)
		return nil

	case reflect.Bool:
		b, err := toBool(src)
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil

	case reflect.Struct:
		if dst.Type() == timeType {
			t, err := toTime(src)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(t))
			return nil
		}
	}

	if sv.Type().ConvertibleTo(dst.Type()) {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}

	// Last resort: let encoding/json do the structural conversion.
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("cannot convert %T to %s: %w", src, dst.Type(), err)
	}
	if err := json.Unmarshal(data, dst.Addr().Interface()); err != nil {
		return fmt.Errorf("cannot convert %T to %s: %w", src, dst.Type(), err)
	}
	return nil
}

func toInt64(src any) (int64, error) {
	switch v := src.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to integer", v)
		}
		return floatToInt(f)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to integer", v)
		}
		return n, nil
	case []byte:
		return toInt64(string(v))
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	rv := reflect.ValueOf(src)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return floatToInt(rv.Float())
	}
	return 0, fmt.Errorf("cannot convert %T to integer", src)
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat64(src any) (float64, bool) {
	switch v := src.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case []byte:
		return toFloat64(string(v))
	}
	rv := reflect.ValueOf(src)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func toBool(src any) (bool, error) {
	switch v := src.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("cannot convert %q to bool", v)
		}
		return b, nil
	}
	n, err := toInt64(src)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to bool", src)
	}
	return n != 0, nil
}

func toTime(src any) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case string:
		return ParseTime(v)
	case []byte:
		return ParseTime(string(v))
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", src)
}
