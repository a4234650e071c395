package audit

import "fmt"

// Serializer produces the snapshot stored on update and destroy changes.
// fields is the output of ResolveFields for the record's type.
type Serializer func(meta *TypeMeta, fields []string, rec any) (map[string]any, error)

// Deserializer reconstructs a typed record from a stored snapshot.
type Deserializer func(meta *TypeMeta, snapshot map[string]any) (any, error)

// DefaultSerializer reads each resolved field through the type's accessor.
func DefaultSerializer(meta *TypeMeta, fields []string, rec any) (map[string]any, error) {
	return Snapshot(meta, rec, fields)
}

// DefaultDeserializer builds a fresh record with meta.New and assigns every
// snapshot entry through the accessor, coercing JSON values to field types.
// Snapshot keys that are no longer declared on the type are skipped so old
// history stays revertible after a field is removed.
func DefaultDeserializer(meta *TypeMeta, snapshot map[string]any) (any, error) {
	rec := meta.New()
	for name, v := range snapshot {
		f, ok := meta.Field(name)
		if !ok || f.Kind == FieldMany {
			continue
		}
		if err := meta.Set(rec, name, v); err != nil {
			return nil, invalidRecordError(meta.name, fmt.Sprintf("restore field %q", name), err)
		}
	}
	return rec, nil
}
