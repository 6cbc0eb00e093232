// Package transform holds the format-specific rewrites applied to uploads
// before they are stored. Every handler reports failure as a
// *simpleasset.TransformError; callers fall back to the original bytes.
package transform

import (
	"context"
	"io"
	"log/slog"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// DefaultMaxDimension bounds the longest side of a stored image.
const DefaultMaxDimension = 2048

// DefaultMaxPixels rejects images whose decoded form would be unreasonably
// large. They are stored verbatim.
const DefaultMaxPixels = 100_000_000

// handler transforms one category.
type handler interface {
	transform(ctx context.Context, src io.ReadSeeker, dst io.Writer) (*simpleasset.FormatMetadata, error)
	inspect(ctx context.Context, src io.ReadSeeker) (*simpleasset.FormatMetadata, error)
}

var _ simpleasset.Transformer = (*Registry)(nil)

// Registry dispatches to a handler by category. Categories without a
// handler are copied verbatim.
type Registry struct {
	maxDimension int
	maxPixels    int
	logger       *slog.Logger
	handlers     map[simpleasset.Category]handler
}

// Option configures a Registry
type Option func(*Registry)

// WithMaxDimension sets the longest side images are downscaled to
func WithMaxDimension(px int) Option {
	return func(r *Registry) {
		if px > 0 {
			r.maxDimension = px
		}
	}
}

// WithMaxPixels sets the decoded image size above which images are not
// re-encoded
func WithMaxPixels(px int) Option {
	return func(r *Registry) {
		if px > 0 {
			r.maxPixels = px
		}
	}
}

// WithLogger sets the logger used for debug output
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithoutPDF disables PDF rewriting; PDFs are then stored verbatim.
func WithoutPDF() Option {
	return func(r *Registry) {
		delete(r.handlers, simpleasset.CategoryPDF)
	}
}

// NewRegistry creates a registry with the image and PDF handlers.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		maxDimension: DefaultMaxDimension,
		maxPixels:    DefaultMaxPixels,
		logger:       slog.Default(),
		handlers:     make(map[simpleasset.Category]handler),
	}
	r.handlers[simpleasset.CategoryPDF] = pdfHandler{}
	for _, opt := range opts {
		opt(r)
	}
	r.handlers[simpleasset.CategoryImage] = imageHandler{maxDimension: r.maxDimension, maxPixels: r.maxPixels}
	return r
}

func (r *Registry) Transform(ctx context.Context, category simpleasset.Category, src io.ReadSeeker, dst io.Writer) (*simpleasset.FormatMetadata, error) {
	h, ok := r.handlers[category]
	if !ok {
		if _, err := io.Copy(dst, src); err != nil {
			return nil, &simpleasset.TransformError{Category: category, Err: err}
		}
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &simpleasset.TransformError{Category: category, Err: err}
	}

	meta, err := h.transform(ctx, src, dst)
	if err != nil {
		r.logger.DebugContext(ctx, "transform failed", "category", category, "error", err)
		return nil, &simpleasset.TransformError{Category: category, Err: err}
	}
	return meta, nil
}

func (r *Registry) Inspect(ctx context.Context, category simpleasset.Category, src io.ReadSeeker) (*simpleasset.FormatMetadata, error) {
	h, ok := r.handlers[category]
	if !ok {
		return nil, nil
	}
	meta, err := h.inspect(ctx, src)
	if err != nil {
		return nil, &simpleasset.TransformError{Category: category, Err: err}
	}
	return meta, nil
}

// sourceSize returns the length of src and rewinds it.
func sourceSize(src io.ReadSeeker) (int64, error) {
	n, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return n, nil
}

// copyOriginal rewinds src and copies it to dst.
func copyOriginal(src io.ReadSeeker, dst io.Writer) error {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := io.Copy(dst, src)
	return err
}
