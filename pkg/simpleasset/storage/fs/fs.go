package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

const tmpDirName = ".tmp"

var _ simpleasset.BlobStore = (*Backend)(nil)

// ErrClosed is returned when writing to a writer after Publish or Discard.
var ErrClosed = errors.New("writer is closed")

// Backend is a filesystem implementation of the simpleasset.BlobStore interface.
// Staged files live under <BaseDir>/.tmp so that publishing never crosses a
// filesystem boundary.
type Backend struct {
	baseDir string
	tmpDir  string
	noSync  bool
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
	NoSync  bool   // Skip fsync before publishing (tests only)
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	tmpDir := filepath.Join(config.BaseDir, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir: config.BaseDir,
		tmpDir:  tmpDir,
		noSync:  config.NoSync,
	}, nil
}

func (b *Backend) path(name string) (string, error) {
	first, _, _ := strings.Cut(name, "/")
	if !filepath.IsLocal(name) || first == tmpDirName {
		return "", fmt.Errorf("%w: %q", simpleasset.ErrInvalidRequest, name)
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(name)), nil
}

// Exists reports whether name has been published
func (b *Backend) Exists(ctx context.Context, name string) (bool, error) {
	p, err := b.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get file info: %w", err)
	}
	return true, nil
}

// NewWriter creates a staging file
func (b *Backend) NewWriter(ctx context.Context) (simpleasset.BlobWriter, error) {
	f, err := os.CreateTemp(b.tmpDir, "blob-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &writer{backend: b, file: f}, nil
}

// Open returns the published file; the result is an *os.File and can seek.
func (b *Backend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, simpleasset.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Stat returns size information for a published file
func (b *Backend) Stat(ctx context.Context, name string) (*simpleasset.BlobInfo, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, simpleasset.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	return &simpleasset.BlobInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

type writer struct {
	backend *Backend

	mu     sync.Mutex
	file   *os.File
	size   int64
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Publish links the staged file to its final path. Linking fails when the
// target exists, which gives create-if-absent semantics across processes.
// Filesystems without hard links fall back to rename.
func (w *writer) Publish(ctx context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	tmpPath := w.file.Name()
	defer os.Remove(tmpPath)

	if !w.backend.noSync {
		if err := w.file.Sync(); err != nil {
			w.file.Close()
			return fmt.Errorf("failed to sync file: %w", err)
		}
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	target, err := w.backend.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	err = os.Link(tmpPath, target)
	if err == nil {
		return nil
	}
	if errors.Is(err, iofs.ErrExist) {
		return simpleasset.ErrObjectExists
	}

	if _, statErr := os.Stat(target); statErr == nil {
		return simpleasset.ErrObjectExists
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("failed to publish file: %w", err)
	}
	return nil
}

func (w *writer) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	closeErr := w.file.Close()
	removeErr := os.Remove(w.file.Name())
	if errors.Is(removeErr, iofs.ErrNotExist) {
		removeErr = nil
	}
	return errors.Join(closeErr, removeErr)
}
