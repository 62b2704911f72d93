// Package errors defines the error taxonomy shared by roster components.
//
// Callers check categories with errors.Is against the sentinels below; the
// typed errors carry the detail and unwrap to their underlying cause.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New is errors.New, re-exported so callers need a single import.
var New = errors.New

var (
	// ErrRegistryUnavailable indicates the client registry could not be read
	// or written. No write may be assumed to have happened.
	ErrRegistryUnavailable = errors.New("registry unavailable")

	// ErrExtractionFailed indicates the AI extraction adapter returned an
	// error or an unparseable response.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrSyncPartialFailure indicates some contact writes during a sync failed.
	ErrSyncPartialFailure = errors.New("contact sync partially failed")

	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfirmationPending indicates a confirmation is already awaiting an
	// answer for the same draft or record.
	ErrConfirmationPending = errors.New("confirmation already pending")

	// ErrConfirmationInFlight indicates another answer for the same pending
	// confirmation is being applied.
	ErrConfirmationInFlight = errors.New("confirmation already being applied")

	// ErrNoPendingConfirmation indicates there is nothing awaiting an answer
	// under the given key.
	ErrNoPendingConfirmation = errors.New("no pending confirmation")
)

// RegistryError wraps a storage failure seen by the client registry.
type RegistryError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *RegistryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("registry %s: unavailable", e.Op)
	}
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *RegistryError) Is(target error) bool {
	return target == ErrRegistryUnavailable
}

// NewRegistryError creates a new RegistryError
func NewRegistryError(op string, err error) *RegistryError {
	return &RegistryError{Op: op, Err: err}
}

// ExtractionError wraps a failure of the AI extraction adapter.
type ExtractionError struct {
	Provider string
	Err      error
}

// Error implements the error interface
func (e *ExtractionError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("extraction via %s failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("extraction failed: %v", e.Err)
}

// Unwrap implements errors.Unwrap
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}

// NewExtractionError creates a new ExtractionError
func NewExtractionError(provider string, err error) *ExtractionError {
	return &ExtractionError{Provider: provider, Err: err}
}

// SyncError reports the contact writes that failed during one sync.
type SyncError struct {
	ClientID int64
	Failed   []string // contact names whose write failed
	Errs     []error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("contact sync for client %d: %d write(s) failed: %s",
		e.ClientID, len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap implements multi-error unwrapping
func (e *SyncError) Unwrap() []error {
	return e.Errs
}

// Is implements errors.Is support
func (e *SyncError) Is(target error) bool {
	return target == ErrSyncPartialFailure
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsRegistryUnavailable reports whether err is a registry failure.
func IsRegistryUnavailable(err error) bool {
	return errors.Is(err, ErrRegistryUnavailable)
}

// IsExtractionFailed reports whether err is an extraction failure.
func IsExtractionFailed(err error) bool {
	return errors.Is(err, ErrExtractionFailed)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
