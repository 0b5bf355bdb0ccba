package studyshare

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNotFound is the umbrella for every missing-resource error
	ErrNotFound = errors.New("not found")

	// ErrItemNotFound indicates an item was not found
	ErrItemNotFound = fmt.Errorf("item %w", ErrNotFound)

	// ErrBlobNotFound indicates a blob was not found in its store
	ErrBlobNotFound = fmt.Errorf("blob %w", ErrNotFound)

	// ErrSessionNotFound indicates a session was not found
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)

	// ErrBlobStoreNotFound indicates a blob store name is not registered
	ErrBlobStoreNotFound = errors.New("blob store not found")

	// ErrValidation indicates missing or malformed input
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateYear indicates a year slot is already occupied
	ErrDuplicateYear = errors.New("duplicate year")

	// ErrInvalidTransition indicates a moderation step not legal for the item's status
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrStorageUnavailable indicates the blob store is not ready or failed to persist
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUnauthorized indicates the actor may not perform the operation
	ErrUnauthorized = errors.New("unauthorized")

	// ErrVersionConflict indicates an optimistic concurrency check failed
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnknownCategory indicates an activity category outside the fixed set
	ErrUnknownCategory = errors.New("unknown activity category")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// DuplicateYearError reports that a year slot already holds an item.
type DuplicateYearError struct {
	Category CategoryKey
}

func (e *DuplicateYearError) Error() string {
	return fmt.Sprintf("an item for %s/%s/%s %s year %s already exists",
		e.Category.Course, e.Category.Term, e.Category.Subject, e.Category.Kind, e.Category.Year)
}

func (e *DuplicateYearError) Unwrap() error {
	return ErrDuplicateYear
}

// TransitionError reports an illegal moderation step.
type TransitionError struct {
	ItemID uuid.UUID
	Op     string
	From   ItemStatus
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s item %s: %s", e.Op, e.ItemID, e.Reason)
	}
	return fmt.Sprintf("cannot %s item %s in status %s", e.Op, e.ItemID, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ItemError represents an error related to item operations
type ItemError struct {
	ItemID uuid.UUID
	Op     string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item operation %s failed for item %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for backend %s, key %s: %v", e.Op, e.Backend, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
