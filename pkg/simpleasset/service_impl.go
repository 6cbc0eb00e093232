package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/internal/keylock"
)

// service implements the Service interface
type service struct {
	repository  Repository
	blobStore   BlobStore
	transformer Transformer
	eventSink   EventSink
	logger      *slog.Logger
	defaultCap  int64
	spoolDir    string

	// serializes work on one stored name within this process
	names *keylock.Map
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository, which also serves as the quota ledger
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob storage backend
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithTransformer sets the content transformer
func WithTransformer(t Transformer) Option {
	return func(s *service) {
		s.transformer = t
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithDefaultQuotaCap sets the cap used for capped accounts whose scope does
// not carry one
func WithDefaultQuotaCap(capBytes int64) Option {
	return func(s *service) {
		s.defaultCap = capBytes
	}
}

// WithSpoolDir sets the directory uploads are spooled to while hashing.
// Empty means os.TempDir.
func WithSpoolDir(dir string) Option {
	return func(s *service) {
		s.spoolDir = dir
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		defaultCap: DefaultQuotaCap,
		names:      keylock.New(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.defaultCap <= 0 {
		return nil, fmt.Errorf("default quota cap must be positive")
	}
	if s.transformer == nil {
		s.transformer = NewPassthroughTransformer()
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

func (s *service) limitFor(scope Scope) Limit {
	if scope.Class == AccountUncapped {
		return Unlimited
	}
	capBytes := scope.CapBytes
	if capBytes <= 0 {
		capBytes = s.defaultCap
	}
	return Limit{Class: AccountCapped, CapBytes: capBytes}
}

func validateScope(scope Scope) error {
	if scope.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	switch scope.Class {
	case "", AccountCapped, AccountUncapped:
		return nil
	default:
		return fmt.Errorf("%w: unknown account class %q", ErrInvalidRequest, scope.Class)
	}
}

// charge applies a quota delta and reports rejections and clamping.
func (s *service) charge(ctx context.Context, ownerID uuid.UUID, delta int64, limit Limit) (*QuotaAccount, error) {
	acct, err := s.repository.ApplyDelta(ctx, ownerID, delta, limit)
	if err != nil {
		s.noteRejection(ctx, err)
		return nil, storageErr("charge quota", err)
	}
	s.noteClamp(ctx, acct)
	return acct, nil
}

// refund returns bytes charged for work that did not complete. It is not
// bound to the caller's cancellation.
func (s *service) refund(ctx context.Context, ownerID uuid.UUID, delta int64) {
	if delta <= 0 {
		return
	}
	acct, err := s.repository.ApplyDelta(context.WithoutCancel(ctx), ownerID, -delta, Unlimited)
	if err != nil {
		s.logger.ErrorContext(ctx, "quota refund failed", "owner_id", ownerID, "delta", -delta, "error", err)
		return
	}
	s.noteClamp(ctx, acct)
}

func (s *service) noteRejection(ctx context.Context, err error) {
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		return
	}
	s.logger.InfoContext(ctx, "quota rejected charge",
		"owner_id", qe.OwnerID, "total_bytes", qe.TotalBytes, "cap_bytes", qe.CapBytes, "delta", qe.Delta)
	if err := s.eventSink.QuotaRejected(ctx, qe); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "quota_rejected", "error", err)
	}
}

func (s *service) noteClamp(ctx context.Context, acct *QuotaAccount) {
	if acct != nil && acct.ClampedBytes > 0 {
		s.logger.WarnContext(ctx, "quota total clamped at zero",
			"owner_id", acct.OwnerID, "clamped_bytes", acct.ClampedBytes)
	}
}

// GetUsage reports the caller's current total under its limit.
func (s *service) GetUsage(ctx context.Context, scope Scope) (*QuotaStatus, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	acct, err := s.repository.GetAccount(ctx, scope.OwnerID)
	if err != nil {
		return nil, storageErr("get account", err)
	}
	limit := s.limitFor(scope)
	status := &QuotaStatus{
		OwnerID:    scope.OwnerID,
		Class:      limit.Class,
		TotalBytes: acct.TotalBytes,
		UpdatedAt:  acct.UpdatedAt,
	}
	if limit.Class == AccountCapped {
		status.CapBytes = limit.CapBytes
		status.RemainingBytes = max(limit.CapBytes-acct.TotalBytes, 0)
	}
	return status, nil
}

// ReconcileQuota recomputes an owner's usage from persisted objects and
// records. With apply set the ledger total is overwritten.
func (s *service) ReconcileQuota(ctx context.Context, ownerID uuid.UUID, apply bool) (*Reconciliation, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	usage, err := s.repository.ComputeUsage(ctx, ownerID)
	if err != nil {
		return nil, storageErr("compute usage", err)
	}
	acct, err := s.repository.GetAccount(ctx, ownerID)
	if err != nil {
		return nil, storageErr("get account", err)
	}

	computed := usage.ObjectBytes + usage.RecordContentBytes
	rec := &Reconciliation{
		OwnerID:  ownerID,
		Recorded: acct.TotalBytes,
		Computed: computed,
		Drift:    acct.TotalBytes - computed,
		Usage:    *usage,
	}
	if rec.Drift != 0 {
		s.logger.WarnContext(ctx, "quota drift detected",
			"owner_id", ownerID, "recorded", rec.Recorded, "computed", rec.Computed, "apply", apply)
	}
	if apply && rec.Drift != 0 {
		if _, err := s.repository.SetTotal(ctx, ownerID, computed); err != nil {
			return nil, storageErr("set total", err)
		}
		rec.Applied = true
	}
	return rec, nil
}
