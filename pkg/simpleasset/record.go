package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// maxCommitAttempts bounds retries after a version conflict.
const maxCommitAttempts = 3

// CreateRecord persists a new record and charges its inline content. A quota
// rejection leaves no record behind.
func (s *service) CreateRecord(ctx context.Context, req CreateRecordRequest) (*Record, error) {
	if err := validateScope(req.Scope); err != nil {
		return nil, err
	}

	kind := req.Kind
	if kind == "" {
		kind = RecordNote
		if req.Object != nil {
			kind = RecordFile
		}
	}
	switch kind {
	case RecordNote, RecordBoard, RecordFile, RecordImage:
	default:
		return nil, fmt.Errorf("%w: unknown record kind %q", ErrInvalidRequest, kind)
	}

	folderID := req.FolderID
	if folderID == nil {
		folderID = req.Scope.FolderID
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:           uuid.New(),
		OwnerID:      req.Scope.OwnerID,
		FolderID:     folderID,
		Kind:         kind,
		Title:        strings.TrimSpace(req.Title),
		Content:      req.Content,
		ContentSize:  req.Content.Size(),
		OriginalName: req.OriginalName,
		Status:       RecordStatusCreated,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if req.Object != nil {
		if !strings.HasPrefix(req.Object.StoredName, objectkey.OwnerPrefix(req.Scope.OwnerID)) {
			return nil, fmt.Errorf("%w: object belongs to another owner", ErrInvalidRequest)
		}
		rec.StoredName = req.Object.StoredName
		rec.ContentHash = req.Object.ContentHash
		rec.ObjectSize = req.Object.StoredSize
		rec.Format = req.Object.Format
	}

	if _, err := s.commit(ctx, rec, 0, rec.ContentSize, s.limitFor(req.Scope)); err != nil {
		return nil, err
	}
	return rec, nil
}

// EditRecord applies the non-nil fields of req. The inline content delta
// (new size minus old size) is validated against quota before the edit is
// committed.
func (s *service) EditRecord(ctx context.Context, req EditRecordRequest) (*Record, error) {
	if req.Title == nil && req.FolderID == nil && req.Content == nil {
		return s.GetRecord(ctx, req.Scope, req.RecordID)
	}
	rec, _, err := s.mutate(ctx, req.Scope, req.RecordID, func(r *Record) {
		if req.Title != nil {
			r.Title = strings.TrimSpace(*req.Title)
		}
		if req.FolderID != nil {
			folderID := *req.FolderID
			r.FolderID = &folderID
		}
		if req.Content != nil {
			r.Content = *req.Content
		}
		r.Status = RecordStatusEdited
	})
	return rec, err
}

// SaveInlineContent replaces a record's inline content and returns the
// quota delta that was applied.
func (s *service) SaveInlineContent(ctx context.Context, scope Scope, recordID uuid.UUID, content Content) (int64, error) {
	_, delta, err := s.mutate(ctx, scope, recordID, func(r *Record) {
		r.Content = content
		r.Status = RecordStatusEdited
	})
	return delta, err
}

// DeleteRecord marks a record deleted and releases its inline content bytes.
// Referenced objects are left in place.
func (s *service) DeleteRecord(ctx context.Context, scope Scope, recordID uuid.UUID) error {
	_, _, err := s.mutate(ctx, scope, recordID, func(r *Record) {
		now := time.Now().UTC()
		r.Content = EmptyContent()
		r.Status = RecordStatusDeleted
		r.DeletedAt = &now
	})
	return err
}

// GetRecord returns one of the caller's live records.
func (s *service) GetRecord(ctx context.Context, scope Scope, recordID uuid.UUID) (*Record, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	rec, err := s.repository.GetRecord(ctx, recordID)
	if err != nil {
		return nil, storageErr("get record", err)
	}
	if rec.OwnerID != scope.OwnerID || !rec.Live() {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// ListRecords returns the caller's live records, optionally within a folder.
func (s *service) ListRecords(ctx context.Context, scope Scope, folderID *uuid.UUID) ([]*Record, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	recs, err := s.repository.ListRecords(ctx, scope.OwnerID, folderID)
	if err != nil {
		return nil, storageErr("list records", err)
	}
	return recs, nil
}

// mutate reads a record, applies fn to a copy and commits it with the
// resulting content delta, retrying when another writer wins the version
// race.
func (s *service) mutate(ctx context.Context, scope Scope, recordID uuid.UUID, fn func(*Record)) (*Record, int64, error) {
	limit := s.limitFor(scope)
	for attempt := 1; ; attempt++ {
		cur, err := s.GetRecord(ctx, scope, recordID)
		if err != nil {
			return nil, 0, err
		}

		next := *cur
		fn(&next)
		next.ContentSize = next.Content.Size()
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now().UTC()
		delta := next.ContentSize - cur.ContentSize

		_, err = s.commit(ctx, &next, cur.Version, delta, limit)
		if err == nil {
			return &next, delta, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxCommitAttempts {
			return nil, 0, err
		}
		s.logger.DebugContext(ctx, "record version conflict, retrying",
			"record_id", recordID, "attempt", attempt)
	}
}

func (s *service) commit(ctx context.Context, rec *Record, expectedVersion int, delta int64, limit Limit) (*QuotaAccount, error) {
	acct, err := s.repository.CommitRecord(ctx, rec, expectedVersion, delta, limit)
	if err != nil {
		s.noteRejection(ctx, err)
		return nil, storageErr("commit record", err)
	}
	s.noteClamp(ctx, acct)
	if err := s.eventSink.RecordCommitted(ctx, rec, delta); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "record_committed", "error", err)
	}
	return acct, nil
}
