package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/flowplan/internal/compiler"
)

// LoadMode controls how errors are handled during spec loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading specs from a directory.
type LoadResult struct {
	Workspace *compiler.Workspace
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during spec loading.
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

// LoadSpecs loads and compiles the CUE package in dir.
// If mode is LoadModeFailFast, returns on first compile error.
// If mode is LoadModeCollectAll, collects all of them.
//
// A nil result means nothing could be compiled at all (missing directory,
// no CUE files, invalid CUE).
func LoadSpecs(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	value, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, []error{convertCompileError(err, ErrCodeLoadFailed)}
	}

	w, compileErrs := compiler.CompileWorkspace(value, mode == LoadModeFailFast)
	result := &LoadResult{
		Workspace: w,
		FileCount: len(cueFiles),
	}

	errs := make([]error, 0, len(compileErrs))
	for _, ce := range compileErrs {
		errs = append(errs, convertCompileError(ce, ErrCodeGeneric))
	}
	return result, errs
}

// firstLoadError returns errs[0] as a LoadError.
func firstLoadError(errs []error) *LoadError {
	var le *LoadError
	if errors.As(errs[0], &le) {
		return le
	}
	return &LoadError{Code: ErrCodeGeneric, Message: errs[0].Error()}
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

// convertCompileError converts a compiler error to a LoadError with
// position info. fallback is used when the error carries no field.
func convertCompileError(err error, fallback string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		code := MapFieldToErrorCode(compileErr.Field)
		if code == ErrCodeGeneric {
			code = fallback
		}
		msg := compileErr.Message
		if compileErr.Field != "" {
			msg = compileErr.Field + ": " + msg
		}
		return &LoadError{
			Code:    code,
			Message: msg,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    fallback,
		Message: err.Error(),
	}
}

// Error code constants - unified across all CLI commands. Flow lint codes
// (E101 and up) come from the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load or build failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeUnknownName = "E006" // Flow, registry or race not declared
	ErrCodeWriteFailed = "E007" // File write error

	ErrCodeInvalidFlow     = "E010" // flow declaration does not compile
	ErrCodeInvalidRegistry = "E011" // registry declaration does not compile
	ErrCodeInvalidRace     = "E012" // race declaration does not compile
)

// MapFieldToErrorCode maps a compiler error field to an error code by its
// root: flow.*, registry.* or race.*.
func MapFieldToErrorCode(field string) string {
	root, _, _ := strings.Cut(field, ".")
	switch root {
	case "flow", "source", "pipe", "sink":
		return ErrCodeInvalidFlow
	case "registry":
		return ErrCodeInvalidRegistry
	case "race":
		return ErrCodeInvalidRace
	default:
		return ErrCodeGeneric
	}
}
