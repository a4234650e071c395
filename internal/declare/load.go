package declare

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/revlog/internal/audit"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error code constants.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeNoFields   = "E101" // Type declares no fields
	ErrCodeNoKey      = "E102" // Type declares no primary key
	ErrCodeInvalidKey = "E103" // Invalid primary key declaration
	ErrCodeSchema     = "E104" // Declaration does not match the schema
	ErrCodeRegister   = "E105" // Registry rejected the type
)

// Result contains the type specs loaded from CUE.
type Result struct {
	Specs     []audit.TypeSpec
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int
}

// LoadError is a loading error with its error code.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads every CUE file of the package in dir, or a single file when
// path names one.
func Load(path string, mode LoadMode) (*Result, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("declarations not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing declarations: %v", err)}}
	}
	if !info.IsDir() {
		return LoadFile(path, mode)
	}

	cueFiles, err := FindCUEFiles(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	result, errs := extract(value, mode)
	result.FileCount = len(cueFiles)
	return result, errs
}

// LoadFile compiles a single CUE file.
func LoadFile(path string, mode LoadMode) (*Result, []error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}}
	}
	result, errs := parse(src, path, mode)
	if result != nil {
		result.FileCount = 1
	}
	return result, errs
}

// Parse compiles declarations from source, failing fast.
func Parse(src []byte) ([]audit.TypeSpec, error) {
	result, errs := parse(src, "declarations.cue", LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return result.Specs, nil
}

func parse(src []byte, filename string, mode LoadMode) (*Result, []error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, []error{convertCompileError(formatCUEError(err), filename)}
	}
	return extract(value, mode)
}

func extract(value cue.Value, mode LoadMode) (*Result, []error) {
	result := &Result{CUEValue: value}
	var errs []error

	typesVal := value.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no types declared"}}
	}
	iter, err := typesVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating types: %v", err)}}
	}
	for iter.Next() {
		spec, compileErr := CompileType(iter.Value())
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "types."+iter.Label()))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Specs = append(result.Specs, *spec)
	}

	if len(result.Specs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no types declared"})
	}
	return result, errs
}

// Register adds specs to reg. The first rejected spec stops registration.
func Register(reg *audit.Registry, specs []audit.TypeSpec) error {
	for _, spec := range specs {
		if _, err := reg.Register(spec); err != nil {
			return &LoadError{Code: ErrCodeRegister, Message: fmt.Sprintf("register %s: %v", spec.Name, err)}
		}
	}
	return nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compile error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// MapFieldToErrorCode maps a compile error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "fields":
		return ErrCodeNoFields
	case "primary_key":
		return ErrCodeNoKey
	case "generated", "kind":
		return ErrCodeInvalidKey
	case "cue":
		return ErrCodeSchema
	default:
		return ErrCodeGeneric
	}
}
