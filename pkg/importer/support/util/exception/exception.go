// Package exception provides the error taxonomy used throughout the groupage import engine.
// Every failure surfaced by the engine is classified into one of a small set of kinds so
// that retry, compensation and reporting decisions can be made uniformly.
package exception

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Kind classifies an import failure.
type Kind string

const (
	// KindValidation marks a group that never attempted a write; no compensation is needed.
	KindValidation Kind = "VALIDATION"
	// KindDuplicate marks a group whose business key already exists in the target store.
	KindDuplicate Kind = "DUPLICATE"
	// KindTransient marks a rate-limit or timeout failure that is expected to resolve on retry.
	KindTransient Kind = "TRANSIENT"
	// KindWrite marks a permanent failure during create or bulk-create; compensation is triggered.
	KindWrite Kind = "WRITE"
	// KindRollback marks a failure of the compensation itself. The store may be inconsistent
	// and the outcome must be escalated for manual operator review, never silently dropped.
	KindRollback Kind = "ROLLBACK_FAILURE"
	// KindUnknown is returned by KindOf for errors the engine did not produce.
	KindUnknown Kind = "UNKNOWN"
)

// errorRegistry maps error names referenced in configuration to concrete error instances,
// so retryable error lists in YAML can be checked with errors.Is.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers an error prototype under a unique name.
// Registered names can be referenced from retry configuration and are matched
// against live errors by IsErrorOfType.
// If prototype is nil or name is empty, this function will panic.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}

	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered checks if the specified error type name is registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// ImportError is the error type produced by the import engine.
// It holds the module where the error occurred, a message, the wrapped original
// error, the taxonomy kind, and a flag indicating whether it is retryable.
type ImportError struct {
	// Kind is the taxonomy classification of this error.
	Kind Kind
	// Module indicates the component where the error occurred (e.g., "processor", "scheduler", "store").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// CompensationErr holds the compensation error for KindRollback; both the failed
	// write and the failed rollback must be visible to the operator.
	CompensationErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewImportError creates a new ImportError instance.
// kind: The taxonomy kind.
// module: The component where the error occurred.
// message: The error message.
// originalErr: The original error to wrap (may be nil).
// retryable: Whether this error is retryable.
func NewImportError(kind Kind, module, message string, originalErr error, retryable bool) *ImportError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &ImportError{
		Kind:        kind,
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: retryable,
		StackTrace:  string(buf[:n]),
	}
}

// NewValidationError creates an ImportError for a group that failed validation.
func NewValidationError(module, message string) *ImportError {
	return NewImportError(KindValidation, module, message, nil, false)
}

// NewDuplicateError creates an ImportError for a business key that pre-exists in the store.
func NewDuplicateError(module, message string) *ImportError {
	return NewImportError(KindDuplicate, module, message, nil, false)
}

// NewTransientError creates a retryable ImportError for rate-limit or timeout failures.
func NewTransientError(module, message string, originalErr error) *ImportError {
	return NewImportError(KindTransient, module, message, originalErr, true)
}

// NewWriteError creates a permanent, non-retryable ImportError for a failed write.
func NewWriteError(module, message string, originalErr error) *ImportError {
	return NewImportError(KindWrite, module, message, originalErr, false)
}

// NewRollbackFailure creates an ImportError reporting that compensation itself failed.
// writeErr is the failure that triggered the rollback; compErr is the collected
// compensation failure. The resulting error is flagged for manual review.
func NewRollbackFailure(module string, writeErr, compErr error) *ImportError {
	e := NewImportError(KindRollback, module,
		"MANUAL REVIEW REQUIRED: compensation failed, store may hold a partial group", writeErr, false)
	e.CompensationErr = compErr
	return e
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	switch {
	case e.Kind == KindRollback && e.CompensationErr != nil:
		return fmt.Sprintf("[%s] %s: write error: %v; rollback error: %v", e.Module, e.Message, e.OriginalErr, e.CompensationErr)
	case e.OriginalErr != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	default:
		return fmt.Sprintf("[%s] %s", e.Module, e.Message)
	}
}

// Unwrap returns the original error for errors.Unwrap.
func (e *ImportError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *ImportError) IsRetryable() bool {
	return e.isRetryable
}

// KindOf returns the taxonomy kind of an error.
// Errors not produced by the engine are classified as transient when IsTemporary
// reports them so, and as unknown otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	if IsTemporary(err) {
		return KindTransient
	}
	return KindUnknown
}

// IsTemporary determines if an error is temporary (rate limit, timeout, brief network outage).
// The retryable flag of ImportError takes precedence; otherwise a set of well-known
// signals in the error text is checked, matching how hosted record stores report
// throttling.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.IsRetryable()
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporarily unavailable") ||
		strings.Contains(errStr, "connection refused")
}

// IsErrorOfType checks if an error matches a specified type name (string).
// errorTypeName can be a Go error type name (e.g., "context.DeadlineExceeded") or a
// substring of an error message (e.g., "connection refused").
// It checks registered sentinel errors first (errors.Is), then walks the error chain
// comparing message substrings and type names.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()

	if ok {
		if errors.Is(err, targetError) {
			return true
		}
	}

	currentErr := err
	for currentErr != nil {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}

		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}

		currentErr = errors.Unwrap(currentErr)
	}

	return false
}

// ExtractErrorMessage extracts a short message string from an error.
// For ImportError it returns the cleaner Message field; otherwise the standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Message
	}
	return err.Error()
}

func init() {
	// Register common error names so retry configuration can reference them.
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
}
