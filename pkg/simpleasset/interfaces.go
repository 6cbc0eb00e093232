package simpleasset

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// BlobStore holds object bytes under stored names. Writes are staged in a
// temporary location and become visible only through BlobWriter.Publish.
type BlobStore interface {
	// Exists reports whether name has been published
	Exists(ctx context.Context, name string) (bool, error)

	// NewWriter opens a staging area for a new object
	NewWriter(ctx context.Context) (BlobWriter, error)

	// Open returns the published bytes for name, or ErrObjectNotFound
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Stat returns size information for name, or ErrObjectNotFound
	Stat(ctx context.Context, name string) (*BlobInfo, error)
}

// BlobWriter stages bytes for one object.
type BlobWriter interface {
	io.Writer

	// Size returns the number of bytes written so far
	Size() int64

	// Publish atomically makes the staged bytes visible under name. When
	// name is already published the staged bytes are dropped and
	// ErrObjectExists is returned. A writer cannot be reused afterwards.
	Publish(ctx context.Context, name string) error

	// Discard drops the staged bytes. It is safe to call after Publish.
	Discard() error
}

// Ledger is the single mutation point for owner byte totals.
type Ledger interface {
	// ApplyDelta atomically adds delta to the owner's total if limit allows
	// it, otherwise returns a *QuotaExceededError and leaves the total alone
	ApplyDelta(ctx context.Context, ownerID uuid.UUID, delta int64, limit Limit) (*QuotaAccount, error)

	// GetAccount returns the owner's account; unknown owners have a zero total
	GetAccount(ctx context.Context, ownerID uuid.UUID) (*QuotaAccount, error)

	// SetTotal overwrites the owner's total. Used only by reconciliation.
	SetTotal(ctx context.Context, ownerID uuid.UUID, total int64) (*QuotaAccount, error)
}

// Repository persists records, the stored object index and quota accounts.
type Repository interface {
	Ledger

	// CommitRecord inserts rec when expectedVersion is 0, otherwise updates
	// it only if the persisted version still equals expectedVersion. The
	// record write and the quota delta succeed or fail together.
	CommitRecord(ctx context.Context, rec *Record, expectedVersion int, delta int64, limit Limit) (*QuotaAccount, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	ListRecords(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) ([]*Record, error)

	// PutObject records a stored object in the index. It is idempotent.
	PutObject(ctx context.Context, obj *StoredObject) error
	GetObject(ctx context.Context, ownerID uuid.UUID, storedName string) (*StoredObject, error)

	// ComputeUsage sums indexed objects and live record content for an owner
	ComputeUsage(ctx context.Context, ownerID uuid.UUID) (*Usage, error)
}

// Transformer re-encodes uploads before they are stored.
type Transformer interface {
	// Transform reads src and writes the stored form to dst. A returned
	// error means dst holds unusable output.
	Transform(ctx context.Context, category Category, src io.ReadSeeker, dst io.Writer) (*FormatMetadata, error)

	// Inspect extracts metadata from already stored bytes
	Inspect(ctx context.Context, category Category, src io.ReadSeeker) (*FormatMetadata, error)
}

// EventSink receives lifecycle notifications. Errors are logged and never
// fail the operation that produced the event.
type EventSink interface {
	// ObjectStored is fired when a new object is published
	ObjectStored(ctx context.Context, obj *StoredObject) error

	// ObjectDeduplicated is fired when an upload matched an existing object
	ObjectDeduplicated(ctx context.Context, obj *StoredObject) error

	// RecordCommitted is fired after a record create, edit or delete
	RecordCommitted(ctx context.Context, rec *Record, delta int64) error

	// QuotaRejected is fired when a charge is refused
	QuotaRejected(ctx context.Context, rejection *QuotaExceededError) error
}
