package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/internal/keylock"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

var _ simpleasset.Repository = (*Repository)(nil)

type objectKey struct {
	owner uuid.UUID
	name  string
}

// Repository implements simpleasset.Repository using in-memory storage.
// Quota mutations for one owner are serialized by a per-owner lock.
type Repository struct {
	mu       sync.RWMutex
	records  map[uuid.UUID]*simpleasset.Record
	objects  map[objectKey]*simpleasset.StoredObject
	accounts map[uuid.UUID]*simpleasset.QuotaAccount

	owners *keylock.Map
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		records:  make(map[uuid.UUID]*simpleasset.Record),
		objects:  make(map[objectKey]*simpleasset.StoredObject),
		accounts: make(map[uuid.UUID]*simpleasset.QuotaAccount),
		owners:   keylock.New(),
	}
}

// Quota operations

func (r *Repository) ApplyDelta(ctx context.Context, ownerID uuid.UUID, delta int64, limit simpleasset.Limit) (*simpleasset.QuotaAccount, error) {
	unlock := r.owners.Lock(ownerID.String())
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(ownerID, delta, limit)
}

// applyLocked requires both the owner lock and r.mu.
func (r *Repository) applyLocked(ownerID uuid.UUID, delta int64, limit simpleasset.Limit) (*simpleasset.QuotaAccount, error) {
	acct, ok := r.accounts[ownerID]
	total := int64(0)
	if ok {
		total = acct.TotalBytes
	}
	if !limit.Allows(total, delta) {
		return nil, simpleasset.NewQuotaExceededError(ownerID, limit, total, delta)
	}
	if !ok {
		acct = &simpleasset.QuotaAccount{OwnerID: ownerID}
		r.accounts[ownerID] = acct
	}
	next, clamped := simpleasset.NextTotal(total, delta)
	acct.TotalBytes = next
	acct.UpdatedAt = time.Now().UTC()

	out := *acct
	out.ClampedBytes = clamped
	return &out, nil
}

func (r *Repository) GetAccount(ctx context.Context, ownerID uuid.UUID) (*simpleasset.QuotaAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[ownerID]
	if !ok {
		return &simpleasset.QuotaAccount{OwnerID: ownerID}, nil
	}
	out := *acct
	return &out, nil
}

func (r *Repository) SetTotal(ctx context.Context, ownerID uuid.UUID, total int64) (*simpleasset.QuotaAccount, error) {
	unlock := r.owners.Lock(ownerID.String())
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	acct := &simpleasset.QuotaAccount{
		OwnerID:    ownerID,
		TotalBytes: max(total, 0),
		UpdatedAt:  time.Now().UTC(),
	}
	r.accounts[ownerID] = acct
	out := *acct
	return &out, nil
}

// Record operations

func (r *Repository) CommitRecord(ctx context.Context, rec *simpleasset.Record, expectedVersion int, delta int64, limit simpleasset.Limit) (*simpleasset.QuotaAccount, error) {
	unlock := r.owners.Lock(rec.OwnerID.String())
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.records[rec.ID]
	switch {
	case expectedVersion == 0 && exists:
		return nil, simpleasset.ErrVersionConflict
	case expectedVersion != 0 && !exists:
		return nil, simpleasset.ErrRecordNotFound
	case expectedVersion != 0 && existing.Version != expectedVersion:
		return nil, simpleasset.ErrVersionConflict
	}

	acct, err := r.applyLocked(rec.OwnerID, delta, limit)
	if err != nil {
		return nil, err
	}
	r.records[rec.ID] = copyRecord(rec)
	return acct, nil
}

func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*simpleasset.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, simpleasset.ErrRecordNotFound
	}
	return copyRecord(rec), nil
}

func (r *Repository) ListRecords(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) ([]*simpleasset.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*simpleasset.Record
	for _, rec := range r.records {
		if rec.OwnerID != ownerID || !rec.Live() {
			continue
		}
		if folderID != nil && (rec.FolderID == nil || *rec.FolderID != *folderID) {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Object index operations

func (r *Repository) PutObject(ctx context.Context, obj *simpleasset.StoredObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := objectKey{owner: obj.OwnerID, name: obj.StoredName}
	if _, ok := r.objects[key]; ok {
		return nil
	}
	r.objects[key] = copyObject(obj)
	return nil
}

func (r *Repository) GetObject(ctx context.Context, ownerID uuid.UUID, storedName string) (*simpleasset.StoredObject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	obj, ok := r.objects[objectKey{owner: ownerID, name: storedName}]
	if !ok {
		return nil, simpleasset.ErrObjectNotFound
	}
	return copyObject(obj), nil
}

func (r *Repository) ComputeUsage(ctx context.Context, ownerID uuid.UUID) (*simpleasset.Usage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	usage := &simpleasset.Usage{}
	for key, obj := range r.objects {
		if key.owner != ownerID {
			continue
		}
		usage.ObjectCount++
		usage.ObjectBytes += obj.StoredSize
	}
	for _, rec := range r.records {
		if rec.OwnerID != ownerID || !rec.Live() {
			continue
		}
		usage.RecordCount++
		usage.RecordContentBytes += rec.ContentSize
	}
	return usage, nil
}

func copyRecord(rec *simpleasset.Record) *simpleasset.Record {
	out := *rec
	if rec.FolderID != nil {
		folderID := *rec.FolderID
		out.FolderID = &folderID
	}
	if rec.DeletedAt != nil {
		deletedAt := *rec.DeletedAt
		out.DeletedAt = &deletedAt
	}
	out.Format = copyFormat(rec.Format)
	return &out
}

func copyObject(obj *simpleasset.StoredObject) *simpleasset.StoredObject {
	out := *obj
	out.Format = copyFormat(obj.Format)
	return &out
}

func copyFormat(f *simpleasset.FormatMetadata) *simpleasset.FormatMetadata {
	if f == nil {
		return nil
	}
	out := *f
	if f.PageCount != nil {
		pages := *f.PageCount
		out.PageCount = &pages
	}
	return &out
}
