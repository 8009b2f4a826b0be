// Package errors provides structured error types for the driftgate system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryRegistry    ErrorCategory = "REGISTRY"
	ErrCategoryReconcile   ErrorCategory = "RECONCILE"
	ErrCategoryExpectation ErrorCategory = "EXPECTATION"
	ErrCategoryRuleset     ErrorCategory = "RULESET"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryConfig      ErrorCategory = "CONFIG"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Registry codes
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeInvalidSchema   = "INVALID_SCHEMA"

	// Ruleset codes
	CodeInvalidRuleset = "INVALID_RULESET"

	// Expectation codes
	CodeInvalidStats = "INVALID_STATS"

	// Storage codes
	CodeArchiveFailed  = "ARCHIVE_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// DriftgateError is the structured error type used throughout the system.
type DriftgateError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DriftgateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DriftgateError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *DriftgateError) Is(target error) bool {
	var t *DriftgateError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new DriftgateError.
func New(category ErrorCategory, code, message string) *DriftgateError {
	return &DriftgateError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new DriftgateError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *DriftgateError {
	return &DriftgateError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DriftgateError) WithDetails(details map[string]interface{}) *DriftgateError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DriftgateError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsNotFound reports whether the error chain carries a NOT_FOUND code.
func IsNotFound(err error) bool {
	return GetCode(err) == CodeNotFound
}

// IsAlreadyExists reports whether the error chain carries an ALREADY_EXISTS code.
func IsAlreadyExists(err error) bool {
	return GetCode(err) == CodeAlreadyExists
}

// IsVersionConflict reports whether the error chain carries a VERSION_CONFLICT code.
func IsVersionConflict(err error) bool {
	return GetCode(err) == CodeVersionConflict
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a DriftgateError.
func GetCategory(err error) ErrorCategory {
	var de *DriftgateError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DriftgateError.
func GetCode(err error) string {
	var de *DriftgateError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. A lost append race
// is recoverable by re-fetching the current schema; archive writes are
// best-effort and may be retried.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryRegistry && code == CodeVersionConflict:
		return true
	case category == ErrCategoryStorage && code == CodeArchiveFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewNotFound(dataset string) *DriftgateError {
	return New(ErrCategoryRegistry, CodeNotFound,
		fmt.Sprintf("dataset %q is not registered", dataset))
}

func NewAlreadyExists(dataset string) *DriftgateError {
	return New(ErrCategoryRegistry, CodeAlreadyExists,
		fmt.Sprintf("dataset %q already has a registered schema", dataset))
}

func NewVersionConflict(dataset string, wantVersion, headVersion int) *DriftgateError {
	return New(ErrCategoryRegistry, CodeVersionConflict,
		fmt.Sprintf("dataset %q: cannot append version %d, head is %d", dataset, wantVersion, headVersion))
}

func NewRegistryError(code, message string, cause error) *DriftgateError {
	return Wrap(ErrCategoryRegistry, code, message, cause)
}

func NewRulesetError(message string, cause error) *DriftgateError {
	return Wrap(ErrCategoryRuleset, CodeInvalidRuleset, message, cause)
}

func NewStorageError(code, message string, cause error) *DriftgateError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewConfigError(message string) *DriftgateError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *DriftgateError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
