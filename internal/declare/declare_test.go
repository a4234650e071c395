package declare

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revlog/internal/audit"
)

func TestParse_FieldsInDeclarationOrder(t *testing.T) {
	specs, err := Parse([]byte(`
		types: Post: {
			fields: {
				id:         {type: "int", primary_key: true, generated: "auto"}
				title:      {type: "string"}
				author_id:  {type: "int", kind: "ref"}
				tags:       {kind: "many"}
				updated_at: {timestamp: "updated"}
			}
		}
	`))
	require.NoError(t, err)
	require.Len(t, specs, 1)

	spec := specs[0]
	assert.Equal(t, "Post", spec.Name)
	assert.Equal(t, "posts", spec.Table, "table defaults to the plural type name")

	names := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"id", "title", "author_id", "tags", "updated_at"}, names)

	assert.True(t, spec.Fields[0].PrimaryKey)
	assert.Equal(t, audit.KeyAutoIncrement, spec.Fields[0].Generated)
	assert.Equal(t, reflect.TypeOf(int64(0)), spec.Fields[0].GoType)
	assert.Equal(t, audit.FieldRef, spec.Fields[2].Kind)
	assert.Equal(t, audit.FieldMany, spec.Fields[3].Kind)
	assert.Equal(t, audit.TimestampUpdated, spec.Fields[4].Timestamp)
	assert.Equal(t, reflect.TypeOf(time.Time{}), spec.Fields[4].GoType)
	assert.NotNil(t, spec.Accessor)
}

func TestParse_Policy(t *testing.T) {
	specs, err := Parse([]byte(`
		types: Doc: {
			fields: {
				id:   {primary_key: true}
				a:    {}
				b:    {}
			}
			policy: {
				only: ["a", "b"]
				except: ["b"]
				track_timestamps: true
				max_records: 5
			}
		}
	`))
	require.NoError(t, err)

	p := specs[0].Policy
	assert.Equal(t, []string{"a", "b"}, p.Only)
	assert.Equal(t, []string{"b"}, p.Except)
	assert.True(t, p.TrackTimestamps)
	assert.Equal(t, 5, p.MaxRecords)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{
			name: "unknown key",
			src:  `types: T: fields: id: {primary_key: true, primry: true}`,
			code: ErrCodeSchema,
		},
		{
			name: "bad kind",
			src:  `types: T: fields: id: {primary_key: true, kind: "list"}`,
			code: ErrCodeSchema,
		},
		{
			name: "no key",
			src:  `types: T: fields: name: {type: "string"}`,
			code: ErrCodeNoKey,
		},
		{
			name: "generated non-key",
			src:  `types: T: fields: {id: {primary_key: true}, n: {generated: "auto"}}`,
			code: ErrCodeInvalidKey,
		},
		{
			name: "collection key",
			src:  `types: T: fields: id: {primary_key: true, kind: "many"}`,
			code: ErrCodeInvalidKey,
		},
		{
			name: "no fields",
			src:  `types: T: table: "t"`,
			code: ErrCodeNoFields,
		},
		{
			name: "no types",
			src:  `other: 1`,
			code: ErrCodeGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			require.Error(t, err)
			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr), "got %T: %v", err, err)
			assert.Equal(t, tt.code, loadErr.Code, loadErr.Error())
		})
	}
}

func TestLoad_Directory(t *testing.T) {
	result, errs := Load(filepath.Join("testdata", "blog"), LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 2, result.FileCount)

	byName := map[string]audit.TypeSpec{}
	for _, s := range result.Specs {
		byName[s.Name] = s
	}
	require.Len(t, byName, 3)
	assert.Equal(t, "authors", byName["Author"].Table)
	assert.Equal(t, audit.KeyUUID, byName["Author"].Fields[0].Generated)
	assert.True(t, byName["Membership"].Untracked)
	assert.Equal(t, []string{"body"}, byName["Post"].Policy.Except)
}

func TestLoad_SingleFile(t *testing.T) {
	result, errs := Load(filepath.Join("testdata", "blog", "more.cue"), LoadModeFailFast)
	require.Empty(t, errs)
	assert.Equal(t, 1, result.FileCount)
	assert.Len(t, result.Specs, 2)
}

func TestLoad_MissingPath(t *testing.T) {
	_, errs := Load(filepath.Join("testdata", "nope"), LoadModeFailFast)
	require.Len(t, errs, 1)
	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoad_CollectAll(t *testing.T) {
	dir := t.TempDir()
	src := []byte(`
		types: A: fields: name: {}
		types: B: fields: id: {primary_key: true}
		types: C: fields: n: {}
	`)
	path := filepath.Join(dir, "types.cue")
	require.NoError(t, writeFile(path, src))

	result, errs := LoadFile(path, LoadModeCollectAll)
	assert.Len(t, errs, 2)
	require.Len(t, result.Specs, 1)
	assert.Equal(t, "B", result.Specs[0].Name)
}

func TestRegister(t *testing.T) {
	result, errs := Load(filepath.Join("testdata", "blog"), LoadModeFailFast)
	require.Empty(t, errs)

	reg := audit.NewRegistry()
	require.NoError(t, Register(reg, result.Specs))

	meta, err := reg.Lookup("Post")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, meta.PrimaryKeys())

	row := meta.New().(*audit.Row)
	row.Values["id"] = int64(4)
	key, err := meta.Key(row)
	require.NoError(t, err)
	assert.Equal(t, "4", key)

	// Duplicate registration is rejected.
	err = Register(reg, result.Specs[:1])
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ErrCodeRegister, loadErr.Code)
}
