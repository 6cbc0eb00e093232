package simpleasset

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service is the main interface for asset and record operations
type Service interface {
	// Object operations
	SaveObject(ctx context.Context, req SaveObjectRequest) (*SaveResult, error)
	OpenObject(ctx context.Context, scope Scope, storedName string) (io.ReadCloser, error)
	StatObject(ctx context.Context, scope Scope, storedName string) (*StoredObject, error)

	// Record operations
	CreateRecord(ctx context.Context, req CreateRecordRequest) (*Record, error)
	EditRecord(ctx context.Context, req EditRecordRequest) (*Record, error)
	SaveInlineContent(ctx context.Context, scope Scope, recordID uuid.UUID, content Content) (int64, error)
	DeleteRecord(ctx context.Context, scope Scope, recordID uuid.UUID) error
	GetRecord(ctx context.Context, scope Scope, recordID uuid.UUID) (*Record, error)
	ListRecords(ctx context.Context, scope Scope, folderID *uuid.UUID) ([]*Record, error)

	// Quota operations
	GetUsage(ctx context.Context, scope Scope) (*QuotaStatus, error)
	ReconcileQuota(ctx context.Context, ownerID uuid.UUID, apply bool) (*Reconciliation, error)
}
