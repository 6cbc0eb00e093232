package simpleasset

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrQuotaExceeded matches every *QuotaExceededError
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrStorageFailure matches every *StorageError
	ErrStorageFailure = errors.New("storage failure")

	// ErrObjectNotFound indicates a stored object was not found
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectExists is returned by BlobWriter.Publish when the name is already taken
	ErrObjectExists = errors.New("object already exists")

	// ErrRecordNotFound indicates a record was not found or is not visible to the caller
	ErrRecordNotFound = errors.New("record not found")

	// ErrVersionConflict indicates a concurrent writer committed first
	ErrVersionConflict = errors.New("record version conflict")

	// ErrInvalidRequest indicates malformed input
	ErrInvalidRequest = errors.New("invalid request")
)

// QuotaExceededError reports a rejected charge. The account is unchanged.
type QuotaExceededError struct {
	OwnerID    uuid.UUID
	CapBytes   int64
	TotalBytes int64
	Delta      int64
}

// NewQuotaExceededError builds the rejection for applying delta to total under l.
func NewQuotaExceededError(ownerID uuid.UUID, l Limit, total, delta int64) *QuotaExceededError {
	return &QuotaExceededError{OwnerID: ownerID, CapBytes: l.CapBytes, TotalBytes: total, Delta: delta}
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: adding %d bytes to %d exceeds cap of %d bytes", e.Delta, e.TotalBytes, e.CapBytes)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// StorageError wraps a persistence or I/O failure. Its message names only
// the operation, never paths or object names; the cause stays available
// through Unwrap for logging.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// TransformError is returned by a Transformer that could not process its
// input. The service recovers from it by storing the original bytes.
type TransformError struct {
	Category Category
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s failed: %v", e.Category, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// storageErr wraps err unless it already carries a domain meaning callers
// are expected to match on.
func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, ErrRecordNotFound),
		errors.Is(err, ErrObjectNotFound),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrStorageFailure):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
