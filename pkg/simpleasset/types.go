package simpleasset

import (
	"time"

	"github.com/google/uuid"
)

// Category selects the transform applied to an upload.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryPDF      Category = "pdf"
	CategoryDocument Category = "document"
)

// Normalize maps unknown categories to CategoryDocument.
func (c Category) Normalize() Category {
	switch c {
	case CategoryImage, CategoryPDF, CategoryDocument:
		return c
	default:
		return CategoryDocument
	}
}

// AccountClass decides whether an owner's growth is bounded.
type AccountClass string

const (
	AccountCapped   AccountClass = "capped"
	AccountUncapped AccountClass = "uncapped"
)

// DefaultQuotaCap is the cap applied to capped accounts when neither the
// service nor the request sets one (50 MiB).
const DefaultQuotaCap int64 = 50 * 1024 * 1024

// Scope carries the caller identity for one request. It is passed explicitly
// into every operation instead of being read from ambient state.
type Scope struct {
	OwnerID  uuid.UUID
	Class    AccountClass
	CapBytes int64      // overrides the service default when > 0
	FolderID *uuid.UUID // default folder for new records
}

// Limit is the quota rule applied to a single delta.
type Limit struct {
	Class    AccountClass
	CapBytes int64
}

// Unlimited is a Limit that accepts every delta.
var Unlimited = Limit{Class: AccountUncapped}

// Allows reports whether applying delta to total is permitted. Non-positive
// deltas are always allowed, even when the account is already over its cap.
func (l Limit) Allows(total, delta int64) bool {
	if delta <= 0 {
		return true
	}
	if l.Class == AccountUncapped {
		return true
	}
	return total+delta <= l.CapBytes
}

// NextTotal applies delta to total, clamping at zero. The second result is
// the number of bytes lost to clamping.
func NextTotal(total, delta int64) (int64, int64) {
	next := total + delta
	if next < 0 {
		return 0, -next
	}
	return next, 0
}

// FormatMetadata describes a transformed image or PDF.
type FormatMetadata struct {
	Format    string `json:"format"`
	PageCount *int   `json:"page_count,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Frames    int    `json:"frames,omitempty"` // animated images only
}

// StoredObject is a persisted, deduplicated payload owned by one user.
type StoredObject struct {
	OwnerID     uuid.UUID       `json:"owner_id"`
	StoredName  string          `json:"stored_name"`
	ContentHash string          `json:"content_hash"`
	Category    Category        `json:"category"`
	StoredSize  int64           `json:"stored_size"`
	Format      *FormatMetadata `json:"format,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SaveResult is returned by Service.SaveObject.
type SaveResult struct {
	StoredName   string          `json:"stored_name"`
	BytesAdded   int64           `json:"bytes_added"`
	StoredSize   int64           `json:"stored_size"`
	Format       *FormatMetadata `json:"metadata,omitempty"`
	ContentHash  string          `json:"content_hash"`
	Deduplicated bool            `json:"deduplicated"`
}

// QuotaAccount is an owner's running byte total.
type QuotaAccount struct {
	OwnerID    uuid.UUID `json:"owner_id"`
	TotalBytes int64     `json:"total_bytes"`
	UpdatedAt  time.Time `json:"updated_at"`

	// ClampedBytes is set by ApplyDelta when a negative delta would have
	// taken the total below zero.
	ClampedBytes int64 `json:"-"`
}

// QuotaStatus is the caller-facing view of an account under its limit.
type QuotaStatus struct {
	OwnerID        uuid.UUID    `json:"owner_id"`
	Class          AccountClass `json:"class"`
	TotalBytes     int64        `json:"total_bytes"`
	CapBytes       int64        `json:"cap_bytes,omitempty"`
	RemainingBytes int64        `json:"remaining_bytes,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Usage is the storage an owner consumes according to persisted state.
type Usage struct {
	ObjectCount        int64 `json:"object_count"`
	ObjectBytes        int64 `json:"object_bytes"`
	RecordCount        int64 `json:"record_count"`
	RecordContentBytes int64 `json:"record_content_bytes"`
}

// Reconciliation compares the ledger total with recomputed usage.
type Reconciliation struct {
	OwnerID  uuid.UUID `json:"owner_id"`
	Recorded int64     `json:"recorded"`
	Computed int64     `json:"computed"`
	Drift    int64     `json:"drift"`
	Applied  bool      `json:"applied"`
	Usage    Usage     `json:"usage"`
}

// RecordKind is the application-level kind of a record.
type RecordKind string

const (
	RecordNote  RecordKind = "note"
	RecordBoard RecordKind = "board"
	RecordFile  RecordKind = "file"
	RecordImage RecordKind = "image"
)

// RecordStatus tracks the record lifecycle.
type RecordStatus string

const (
	RecordStatusCreated RecordStatus = "created"
	RecordStatusEdited  RecordStatus = "edited"
	RecordStatusDeleted RecordStatus = "deleted"
)

// Record is an application entry: inline content plus an optional
// reference to a stored object. The reference does not own the object.
type Record struct {
	ID       uuid.UUID  `json:"id"`
	OwnerID  uuid.UUID  `json:"owner_id"`
	FolderID *uuid.UUID `json:"folder_id,omitempty"`
	Kind     RecordKind `json:"kind"`
	Title    string     `json:"title"`

	Content     Content `json:"content"`
	ContentSize int64   `json:"content_size"`

	StoredName   string          `json:"stored_name,omitempty"`
	ContentHash  string          `json:"content_hash,omitempty"`
	ObjectSize   int64           `json:"object_size,omitempty"`
	OriginalName string          `json:"original_name,omitempty"`
	Format       *FormatMetadata `json:"metadata,omitempty"`

	Status    RecordStatus `json:"status"`
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
}

// Live reports whether the record has not been deleted.
func (r *Record) Live() bool {
	return r.Status != RecordStatusDeleted
}

// BlobInfo is what a BlobStore knows about a published name.
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}
