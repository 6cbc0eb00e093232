package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

var _ simpleasset.BlobStore = (*Backend)(nil)

type blob struct {
	data    []byte
	modTime time.Time
}

// Backend is an in-memory implementation of the simpleasset.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]blob
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]blob),
	}
}

// Exists reports whether name has been published
func (b *Backend) Exists(ctx context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[name]
	return ok, nil
}

// NewWriter stages an object in a private buffer
func (b *Backend) NewWriter(ctx context.Context) (simpleasset.BlobWriter, error) {
	return &writer{backend: b}, nil
}

// Open returns a seekable reader over the published bytes
func (b *Backend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[name]
	if !ok {
		return nil, simpleasset.ErrObjectNotFound
	}
	return readSeekCloser{bytes.NewReader(obj.data)}, nil
}

// Stat returns the size of a published object
func (b *Backend) Stat(ctx context.Context, name string) (*simpleasset.BlobInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[name]
	if !ok {
		return nil, simpleasset.ErrObjectNotFound
	}
	return &simpleasset.BlobInfo{Name: name, Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

// Len returns the number of published objects.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

type readSeekCloser struct {
	*bytes.Reader
}

func (readSeekCloser) Close() error { return nil }

type writer struct {
	backend *Backend
	buf     bytes.Buffer
	done    bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("writer already closed")
	}
	return w.buf.Write(p)
}

func (w *writer) Size() int64 {
	return int64(w.buf.Len())
}

func (w *writer) Publish(ctx context.Context, name string) error {
	if w.done {
		return errors.New("writer already closed")
	}
	w.done = true

	b := w.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; ok {
		w.buf.Reset()
		return simpleasset.ErrObjectExists
	}
	data := make([]byte, w.buf.Len())
	copy(data, w.buf.Bytes())
	b.objects[name] = blob{data: data, modTime: time.Now().UTC()}
	w.buf.Reset()
	return nil
}

func (w *writer) Discard() error {
	w.done = true
	w.buf.Reset()
	return nil
}
