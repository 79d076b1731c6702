// Package errors provides structured error types for the Cubeforge build
// pipeline. All errors include a category, code, message, and a
// row-recoverable flag so split workers can tell per-row faults apart from
// faults that must fail the split.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline component.
type ErrorCategory string

const (
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryExtraction ErrorCategory = "EXTRACTION"
	ErrCategorySketch     ErrorCategory = "SKETCH"
	ErrCategoryLattice    ErrorCategory = "LATTICE"
	ErrCategoryShuffle    ErrorCategory = "SHUFFLE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeInvalidCubeDesc  = "INVALID_CUBE_DESC"
	CodeInvalidPrecision = "INVALID_PRECISION"
	CodeMissingSchema    = "MISSING_SCHEMA"

	// Extraction codes
	CodeMalformedRow    = "MALFORMED_ROW"
	CodeFieldOutOfRange = "FIELD_OUT_OF_RANGE"

	// Sketch codes
	CodeRegisterOverflow  = "REGISTER_OVERFLOW"
	CodePrecisionMismatch = "PRECISION_MISMATCH"
	CodeCorruptRegisters  = "CORRUPT_REGISTERS"

	// Lattice codes
	CodeInvalidChild = "INVALID_CHILD"

	// Shuffle codes
	CodeSegmentCorrupt = "SEGMENT_CORRUPT"
	CodeSegmentClosed  = "SEGMENT_CLOSED"

	// Catalog codes
	CodeCubeNotFound  = "CUBE_NOT_FOUND"
	CodeStatsNotFound = "STATS_NOT_FOUND"
	CodeMigration     = "MIGRATION_FAILED"

	// Storage codes
	CodePublishFailed = "PUBLISH_FAILED"
	CodeFetchFailed   = "FETCH_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// BuildError is the structured error type used throughout the pipeline.
type BuildError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error

	// RowRecoverable marks faults that are isolated to a single input row.
	// The error policy reports them and the split continues. Everything
	// else fails the split: partial statistics merged downstream as if
	// complete would systematically undercount cardinality.
	RowRecoverable bool
}

// Error returns a formatted error string.
func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BuildError.
func New(category ErrorCategory, code, message string) *BuildError {
	return &BuildError{
		Category:       category,
		Code:           code,
		Message:        message,
		RowRecoverable: isRowRecoverable(category),
	}
}

// Wrap creates a new BuildError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BuildError {
	return &BuildError{
		Category:       category,
		Code:           code,
		Message:        message,
		Cause:          cause,
		RowRecoverable: isRowRecoverable(category),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *BuildError) WithDetails(details map[string]interface{}) *BuildError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRowRecoverable checks whether an error (or its chain) is isolated to a
// single row.
func IsRowRecoverable(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.RowRecoverable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BuildError.
func GetCategory(err error) ErrorCategory {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BuildError.
func GetCode(err error) string {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// isRowRecoverable determines recoverability by category: extraction faults
// are per-row, everything else fails the split.
func isRowRecoverable(category ErrorCategory) bool {
	return category == ErrCategoryExtraction
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *BuildError {
	return New(ErrCategoryConfig, code, message)
}

func NewExtractionError(code, message string, cause error) *BuildError {
	return Wrap(ErrCategoryExtraction, code, message, cause)
}

func NewSketchError(code, message string) *BuildError {
	return New(ErrCategorySketch, code, message)
}

func NewShuffleError(code, message string, cause error) *BuildError {
	return Wrap(ErrCategoryShuffle, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *BuildError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewStorageError(code, message string, cause error) *BuildError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *BuildError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
