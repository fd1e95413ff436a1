// Package errors provides custom error types for the homeatlas engine.
// These errors enable programmatic error checking and carry enough
// context (job id, change id, entity type/id, confidence values) for an
// operator to act on a failure.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Common sentinel errors for the homeatlas engine
var (
	// ErrNotFound indicates that a requested record was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a record already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates an admission conflict with an active job
	ErrConflict = errors.New("conflicting active job")

	// ErrDependency indicates an approval was blocked by an unsatisfied dependency
	ErrDependency = errors.New("dependency unsatisfied")

	// ErrCycle indicates a circular dependency between pending changes
	ErrCycle = errors.New("dependency cycle detected")

	// ErrExtraction indicates the external data source failed
	ErrExtraction = errors.New("extraction failed")

	// ErrInvalidTransition indicates a lifecycle transition is not allowed
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")
)

// NotFoundError represents an error when a record is not found
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

// ValidationError represents a validation failure on a proposed payload
// or operation input.
type ValidationError struct {
	Field   string
	Value   any
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
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ExtractionError represents a failure of the external data-extraction
// service: unreachable, unparseable output, or rate limited. A job that
// hits one fails without partial writes.
type ExtractionError struct {
	Query      string
	EntityType string
	Reason     string // "network", "parse", "rate-limit"
	Err        error
}

// Error implements the error interface
func (e *ExtractionError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("extraction failed (%s) for %s query %q: %v", e.Reason, e.EntityType, e.Query, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

// NewExtractionError creates a new ExtractionError
func NewExtractionError(query, entityType, reason string, err error) *ExtractionError {
	return &ExtractionError{Query: query, EntityType: entityType, Reason: reason, Err: err}
}

// DependencyError indicates an approval attempt was blocked by a
// missing or low-confidence foreign dependency. The operator must
// resolve the dependency manually before retrying.
type DependencyError struct {
	ChangeID     string  // the change whose approval was attempted
	DependencyID string  // the pending change it depends on, if any
	EntityType   string  // entity type of the missing dependency
	Confidence   float64 // dependency confidence, when one exists
	Threshold    float64
	Reason       string
}

// Error implements the error interface
func (e *DependencyError) Error() string {
	if e.DependencyID != "" {
		return fmt.Sprintf("change %s blocked: dependency %s (%s) %s (confidence %.2f, threshold %.2f)",
			e.ChangeID, e.DependencyID, e.EntityType, e.Reason, e.Confidence, e.Threshold)
	}
	return fmt.Sprintf("change %s blocked: %s dependency %s", e.ChangeID, e.EntityType, e.Reason)
}

// Is implements errors.Is support
func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}

// CycleError indicates a circular dependency discovered during
// cascading approval. The whole approval attempt is aborted.
type CycleError struct {
	Path []string // change ids in visit order, ending at the repeat
}

// Error implements the error interface
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Is implements errors.Is support
func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

// ConflictError indicates the admission invariant was violated: an
// active job already targets the same entity. Job creation is rejected,
// not queued.
type ConflictError struct {
	EntityType  string
	EntityID    string
	ActiveJobID string
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return fmt.Sprintf("active job %s already targets %s %s", e.ActiveJobID, e.EntityType, e.EntityID)
}

// Is implements errors.Is support
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransitionError indicates a lifecycle transition that the entity
// type's state machine does not allow.
type TransitionError struct {
	EntityType string
	EntityID   string
	From       string
	To         string
	Reason     string
}

// Error implements the error interface
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition %s -> %s: %s", e.EntityType, e.EntityID, e.From, e.To, e.Reason)
}

// Is implements errors.Is support
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// StoreError represents a persistence failure
type StoreError struct {
	Op       string // "insert", "update", "query", "tx"
	Resource string // "job", "change", "match", entity type
	Err      error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed for %s: %v", e.Op, e.Resource, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStore wraps an error as a StoreError
func WrapStore(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Resource: resource, Err: err}
}

// TimeoutError represents an operation timeout
type TimeoutError struct {
	Operation string
	Duration  string
	Message   string
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Duration != "" {
		return fmt.Sprintf("operation %s timed out after %s: %s", e.Operation, e.Duration, e.Message)
	}
	return fmt.Sprintf("operation %s timed out: %s", e.Operation, e.Message)
}

// Is implements errors.Is support
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflict checks if an error is an admission conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsDependency checks if an error is a blocked-dependency error
func IsDependency(err error) bool {
	return errors.Is(err, ErrDependency)
}

// IsCycle checks if an error is a dependency cycle error
func IsCycle(err error) bool {
	return errors.Is(err, ErrCycle)
}

// IsExtraction checks if an error came from the external data source
func IsExtraction(err error) bool {
	return errors.Is(err, ErrExtraction)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
