package simpleasset

import (
	"io"

	"github.com/google/uuid"
)

// SaveObjectRequest contains parameters for uploading an object
type SaveObjectRequest struct {
	Scope        Scope
	Category     Category
	Reader       io.Reader
	OriginalName string // logged only; the stored name comes from the content
}

// CreateRecordRequest contains parameters for creating a record
type CreateRecordRequest struct {
	Scope    Scope
	Kind     RecordKind
	Title    string
	FolderID *uuid.UUID
	Content  Content

	// Object links a previously saved object to the record
	Object       *SaveResult
	OriginalName string
}

// EditRecordRequest contains parameters for editing a record. Nil fields are
// left unchanged.
type EditRecordRequest struct {
	Scope    Scope
	RecordID uuid.UUID
	Title    *string
	FolderID *uuid.UUID
	Content  *Content
}
