package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset/hasher"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// SaveObject stores an upload for the scope's owner. Content already stored
// for the owner is not written again and is not charged again.
func (s *service) SaveObject(ctx context.Context, req SaveObjectRequest) (*SaveResult, error) {
	if err := validateScope(req.Scope); err != nil {
		return nil, err
	}
	if req.Reader == nil {
		return nil, fmt.Errorf("%w: reader is required", ErrInvalidRequest)
	}
	owner := req.Scope.OwnerID
	category := req.Category.Normalize()

	spool, err := os.CreateTemp(s.spoolDir, "upload-*")
	if err != nil {
		return nil, &StorageError{Op: "spool", Err: err}
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	digest, size, err := hasher.Copy(spool, req.Reader)
	if err != nil {
		if errors.Is(err, hasher.ErrRead) {
			return nil, &StorageError{Op: "hash", Err: err}
		}
		return nil, &StorageError{Op: "spool", Err: err}
	}

	head, err := sniffHead(spool, size)
	if err != nil {
		return nil, &StorageError{Op: "spool", Err: err}
	}
	name := objectkey.StoredName(owner, digest.String(), objectkey.ExtensionFor(head))
	log := s.logger.With("owner_id", owner, "stored_name", name)

	unlock := s.names.Lock(name)
	defer unlock()

	exists, err := s.blobStore.Exists(ctx, name)
	if err != nil {
		return nil, &StorageError{Op: "lookup", Err: err}
	}
	if exists {
		return s.deduplicated(ctx, owner, category, name, digest.String())
	}

	format, w, err := s.stage(ctx, category, spool, size)
	if err != nil {
		return nil, err
	}
	storedSize := w.Size()

	if err := ctx.Err(); err != nil {
		w.Discard()
		return nil, err
	}
	if _, err := s.charge(ctx, owner, storedSize, s.limitFor(req.Scope)); err != nil {
		w.Discard()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		w.Discard()
		s.refund(ctx, owner, storedSize)
		return nil, err
	}

	if err := w.Publish(ctx, name); err != nil {
		w.Discard()
		s.refund(ctx, owner, storedSize)
		if errors.Is(err, ErrObjectExists) {
			log.InfoContext(ctx, "object published concurrently, using existing copy")
			return s.deduplicated(ctx, owner, category, name, digest.String())
		}
		log.ErrorContext(ctx, "publish failed", "error", err)
		return nil, &StorageError{Op: "publish", Err: err}
	}

	obj := &StoredObject{
		OwnerID:     owner,
		StoredName:  name,
		ContentHash: digest.String(),
		Category:    category,
		StoredSize:  storedSize,
		Format:      format,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repository.PutObject(ctx, obj); err != nil {
		// The next deduplicated save re-creates the index row.
		log.WarnContext(ctx, "failed to index stored object", "error", err)
	}
	if err := s.eventSink.ObjectStored(ctx, obj); err != nil {
		log.WarnContext(ctx, "event sink failed", "event", "object_stored", "error", err)
	}
	log.DebugContext(ctx, "object stored",
		"bytes_added", storedSize, "source_size", size, "original_name", req.OriginalName)

	return &SaveResult{
		StoredName:  name,
		BytesAdded:  storedSize,
		StoredSize:  storedSize,
		Format:      format,
		ContentHash: digest.String(),
	}, nil
}

// sniffHead reads the leading bytes of the spooled upload.
func sniffHead(spool *os.File, size int64) ([]byte, error) {
	head := make([]byte, min(size, objectkey.SniffLength))
	if _, err := spool.ReadAt(head, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return head, nil
}

// stage writes the transformed upload into a new BlobWriter. When the
// transform fails the original bytes are staged instead and no metadata is
// reported.
func (s *service) stage(ctx context.Context, category Category, spool *os.File, size int64) (*FormatMetadata, BlobWriter, error) {
	if size > 0 {
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return nil, nil, &StorageError{Op: "spool", Err: err}
		}
		w, err := s.blobStore.NewWriter(ctx)
		if err != nil {
			return nil, nil, &StorageError{Op: "write", Err: err}
		}
		format, terr := s.transformer.Transform(ctx, category, spool, w)
		if terr == nil {
			return format, w, nil
		}
		w.Discard()
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		s.logger.WarnContext(ctx, "transform failed, storing original bytes",
			"category", category, "size", size, "error", terr)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, nil, &StorageError{Op: "spool", Err: err}
	}
	w, err := s.blobStore.NewWriter(ctx)
	if err != nil {
		return nil, nil, &StorageError{Op: "write", Err: err}
	}
	if _, err := io.Copy(w, spool); err != nil {
		w.Discard()
		return nil, nil, &StorageError{Op: "write", Err: err}
	}
	return nil, w, nil
}

// deduplicated builds the result for content that is already stored. The
// index row is repaired from the stored bytes when it is missing.
func (s *service) deduplicated(ctx context.Context, owner uuid.UUID, category Category, name, hash string) (*SaveResult, error) {
	obj, err := s.repository.GetObject(ctx, owner, name)
	if errors.Is(err, ErrObjectNotFound) {
		obj, err = s.reindex(ctx, owner, category, name, hash)
	}
	if err != nil {
		return nil, storageErr("lookup", err)
	}

	if err := s.eventSink.ObjectDeduplicated(ctx, obj); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "object_deduplicated", "error", err)
	}
	return &SaveResult{
		StoredName:   obj.StoredName,
		BytesAdded:   0,
		StoredSize:   obj.StoredSize,
		Format:       obj.Format,
		ContentHash:  obj.ContentHash,
		Deduplicated: true,
	}, nil
}

func (s *service) reindex(ctx context.Context, owner uuid.UUID, category Category, name, hash string) (*StoredObject, error) {
	info, err := s.blobStore.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	obj := &StoredObject{
		OwnerID:     owner,
		StoredName:  name,
		ContentHash: hash,
		Category:    category,
		StoredSize:  info.Size,
		CreatedAt:   info.ModTime.UTC(),
	}
	if format, err := s.inspect(ctx, category, name); err != nil {
		s.logger.WarnContext(ctx, "inspect failed, metadata unavailable",
			"owner_id", owner, "stored_name", name, "error", err)
	} else {
		obj.Format = format
	}
	if err := s.repository.PutObject(ctx, obj); err != nil {
		s.logger.WarnContext(ctx, "failed to index stored object",
			"owner_id", owner, "stored_name", name, "error", err)
	}
	return obj, nil
}

func (s *service) inspect(ctx context.Context, category Category, name string) (*FormatMetadata, error) {
	if category == CategoryDocument {
		return nil, nil
	}
	rc, err := s.blobStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if rs, ok := rc.(io.ReadSeeker); ok {
		return s.transformer.Inspect(ctx, category, rs)
	}
	tmp, err := os.CreateTemp(s.spoolDir, "inspect-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()
	if _, err := io.Copy(tmp, rc); err != nil {
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return s.transformer.Inspect(ctx, category, tmp)
}

// OpenObject returns the stored bytes of one of the caller's objects.
func (s *service) OpenObject(ctx context.Context, scope Scope, storedName string) (io.ReadCloser, error) {
	if err := s.checkOwnership(scope, storedName); err != nil {
		return nil, err
	}
	rc, err := s.blobStore.Open(ctx, storedName)
	if err != nil {
		return nil, storageErr("open", err)
	}
	return rc, nil
}

// StatObject returns the index entry of one of the caller's objects.
func (s *service) StatObject(ctx context.Context, scope Scope, storedName string) (*StoredObject, error) {
	if err := s.checkOwnership(scope, storedName); err != nil {
		return nil, err
	}
	obj, err := s.repository.GetObject(ctx, scope.OwnerID, storedName)
	if err != nil {
		return nil, storageErr("stat", err)
	}
	return obj, nil
}

func (s *service) checkOwnership(scope Scope, storedName string) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	parts, err := objectkey.Parse(storedName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if parts.OwnerID != scope.OwnerID || !strings.HasPrefix(storedName, objectkey.OwnerPrefix(scope.OwnerID)) {
		return ErrObjectNotFound
	}
	return nil
}

// WriteAtomic stages r in store and publishes it under name. It returns the
// number of bytes written, or ErrObjectExists when name is already taken.
func WriteAtomic(ctx context.Context, store BlobStore, name string, r io.Reader) (int64, error) {
	w, err := store.NewWriter(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Discard()
		return 0, err
	}
	if err := w.Publish(ctx, name); err != nil {
		w.Discard()
		return 0, err
	}
	return w.Size(), nil
}
