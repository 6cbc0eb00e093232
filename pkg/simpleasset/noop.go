package simpleasset

import (
	"context"
	"io"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ObjectStored(ctx context.Context, obj *StoredObject) error { return nil }

func (n *NoopEventSink) ObjectDeduplicated(ctx context.Context, obj *StoredObject) error {
	return nil
}

func (n *NoopEventSink) RecordCommitted(ctx context.Context, rec *Record, delta int64) error {
	return nil
}

func (n *NoopEventSink) QuotaRejected(ctx context.Context, rejection *QuotaExceededError) error {
	return nil
}

// LogEventSink writes every event to a structured logger at info level.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink backed by logger, or slog.Default when nil.
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger.With("component", "events")}
}

func (l *LogEventSink) ObjectStored(ctx context.Context, obj *StoredObject) error {
	l.logger.InfoContext(ctx, "object stored",
		"owner_id", obj.OwnerID, "stored_name", obj.StoredName, "stored_size", obj.StoredSize)
	return nil
}

func (l *LogEventSink) ObjectDeduplicated(ctx context.Context, obj *StoredObject) error {
	l.logger.InfoContext(ctx, "object deduplicated",
		"owner_id", obj.OwnerID, "stored_name", obj.StoredName)
	return nil
}

func (l *LogEventSink) RecordCommitted(ctx context.Context, rec *Record, delta int64) error {
	l.logger.InfoContext(ctx, "record committed",
		"owner_id", rec.OwnerID, "record_id", rec.ID, "status", rec.Status, "version", rec.Version, "delta", delta)
	return nil
}

func (l *LogEventSink) QuotaRejected(ctx context.Context, rejection *QuotaExceededError) error {
	l.logger.InfoContext(ctx, "quota rejected",
		"owner_id", rejection.OwnerID, "total_bytes", rejection.TotalBytes,
		"cap_bytes", rejection.CapBytes, "delta", rejection.Delta)
	return nil
}

// passthroughTransformer stores every upload verbatim.
type passthroughTransformer struct{}

// NewPassthroughTransformer returns a Transformer that copies input unchanged
// and reports no metadata.
func NewPassthroughTransformer() Transformer {
	return passthroughTransformer{}
}

func (passthroughTransformer) Transform(ctx context.Context, category Category, src io.ReadSeeker, dst io.Writer) (*FormatMetadata, error) {
	if _, err := io.Copy(dst, src); err != nil {
		return nil, &TransformError{Category: category, Err: err}
	}
	return nil, nil
}

func (passthroughTransformer) Inspect(ctx context.Context, category Category, src io.ReadSeeker) (*FormatMetadata, error) {
	return nil, nil
}
