package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

var _ simpleasset.Repository = (*Repository)(nil)

// Repository implements simpleasset.Repository using PostgreSQL. Quota
// changes lock the owner's account row for the length of a transaction.
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if pgErr.TableName == "records" {
				return simpleasset.ErrVersionConflict
			}
			return fmt.Errorf("duplicate entry in %s: %w", operation, err)
		case "23514": // check_violation
			return fmt.Errorf("constraint %s violated in %s: %w", pgErr.ConstraintName, operation, err)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required: %w", err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s): %w", operation, pgErr.Message, pgErr.Code, err)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Quota operations

func (r *Repository) ApplyDelta(ctx context.Context, ownerID uuid.UUID, delta int64, limit simpleasset.Limit) (*simpleasset.QuotaAccount, error) {
	var acct *simpleasset.QuotaAccount
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		acct, err = r.applyDelta(ctx, tx, ownerID, delta, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// applyDelta must run inside a transaction: the account row stays locked
// from the read until commit.
func (r *Repository) applyDelta(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, delta int64, limit simpleasset.Limit) (*simpleasset.QuotaAccount, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO quota_accounts (owner_id, total_bytes, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (owner_id) DO NOTHING`, ownerID)
	if err != nil {
		return nil, r.handlePostgresError("create account", err)
	}

	var total int64
	err = tx.QueryRow(ctx,
		`SELECT total_bytes FROM quota_accounts WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&total)
	if err != nil {
		return nil, r.handlePostgresError("lock account", err)
	}

	if !limit.Allows(total, delta) {
		return nil, simpleasset.NewQuotaExceededError(ownerID, limit, total, delta)
	}

	next, clamped := simpleasset.NextTotal(total, delta)
	acct := &simpleasset.QuotaAccount{OwnerID: ownerID, TotalBytes: next, ClampedBytes: clamped}
	err = tx.QueryRow(ctx, `
		UPDATE quota_accounts SET total_bytes = $2, updated_at = now()
		WHERE owner_id = $1
		RETURNING updated_at`, ownerID, next).Scan(&acct.UpdatedAt)
	if err != nil {
		return nil, r.handlePostgresError("update account", err)
	}
	return acct, nil
}

func (r *Repository) GetAccount(ctx context.Context, ownerID uuid.UUID) (*simpleasset.QuotaAccount, error) {
	acct := &simpleasset.QuotaAccount{OwnerID: ownerID}
	err := r.db.QueryRow(ctx,
		`SELECT total_bytes, updated_at FROM quota_accounts WHERE owner_id = $1`, ownerID).
		Scan(&acct.TotalBytes, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return acct, nil
	}
	if err != nil {
		return nil, r.handlePostgresError("get account", err)
	}
	return acct, nil
}

func (r *Repository) SetTotal(ctx context.Context, ownerID uuid.UUID, total int64) (*simpleasset.QuotaAccount, error) {
	acct := &simpleasset.QuotaAccount{OwnerID: ownerID, TotalBytes: max(total, 0)}
	err := r.db.QueryRow(ctx, `
		INSERT INTO quota_accounts (owner_id, total_bytes, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (owner_id) DO UPDATE SET total_bytes = EXCLUDED.total_bytes, updated_at = EXCLUDED.updated_at
		RETURNING updated_at`, ownerID, acct.TotalBytes).Scan(&acct.UpdatedAt)
	if err != nil {
		return nil, r.handlePostgresError("set total", err)
	}
	return acct, nil
}

// Record operations

const recordColumns = `id, owner_id, folder_id, kind, title, content, content_size,
	stored_name, content_hash, object_size, original_name, format,
	status, version, created_at, updated_at, deleted_at`

func (r *Repository) CommitRecord(ctx context.Context, rec *simpleasset.Record, expectedVersion int, delta int64, limit simpleasset.Limit) (*simpleasset.QuotaAccount, error) {
	content, err := encodeContent(rec.Content)
	if err != nil {
		return nil, err
	}
	format, err := encodeFormat(rec.Format)
	if err != nil {
		return nil, err
	}

	var acct *simpleasset.QuotaAccount
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		acct, err = r.applyDelta(ctx, tx, rec.OwnerID, delta, limit)
		if err != nil {
			return err
		}

		if expectedVersion == 0 {
			_, err = tx.Exec(ctx, `
				INSERT INTO records (`+recordColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
				rec.ID, rec.OwnerID, rec.FolderID, rec.Kind, rec.Title, content, rec.ContentSize,
				rec.StoredName, rec.ContentHash, rec.ObjectSize, rec.OriginalName, format,
				rec.Status, rec.Version, rec.CreatedAt, rec.UpdatedAt, rec.DeletedAt)
			if err != nil {
				return r.handlePostgresError("create record", err)
			}
			return nil
		}

		tag, err := tx.Exec(ctx, `
			UPDATE records SET
				folder_id = $3, kind = $4, title = $5, content = $6, content_size = $7,
				stored_name = $8, content_hash = $9, object_size = $10, original_name = $11,
				format = $12, status = $13, version = $14, updated_at = $15, deleted_at = $16
			WHERE id = $1 AND version = $2`,
			rec.ID, expectedVersion, rec.FolderID, rec.Kind, rec.Title, content, rec.ContentSize,
			rec.StoredName, rec.ContentHash, rec.ObjectSize, rec.OriginalName,
			format, rec.Status, rec.Version, rec.UpdatedAt, rec.DeletedAt)
		if err != nil {
			return r.handlePostgresError("update record", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE id = $1)`, rec.ID).Scan(&exists); err != nil {
				return r.handlePostgresError("check record", err)
			}
			if !exists {
				return simpleasset.ErrRecordNotFound
			}
			return simpleasset.ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*simpleasset.Record, error) {
	row := r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, simpleasset.ErrRecordNotFound
	}
	if err != nil {
		return nil, r.handlePostgresError("get record", err)
	}
	return rec, nil
}

func (r *Repository) ListRecords(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) ([]*simpleasset.Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE owner_id = $1 AND status <> $2 AND ($3::uuid IS NULL OR folder_id = $3)
		ORDER BY created_at, id`,
		ownerID, simpleasset.RecordStatusDeleted, folderID)
	if err != nil {
		return nil, r.handlePostgresError("list records", err)
	}
	defer rows.Close()

	var out []*simpleasset.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list records", err)
	}
	return out, nil
}

// Object index operations

func (r *Repository) PutObject(ctx context.Context, obj *simpleasset.StoredObject) error {
	format, err := encodeFormat(obj.Format)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO stored_objects (owner_id, stored_name, content_hash, category, stored_size, format, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id, stored_name) DO NOTHING`,
		obj.OwnerID, obj.StoredName, obj.ContentHash, obj.Category, obj.StoredSize, format, obj.CreatedAt)
	if err != nil {
		return r.handlePostgresError("put object", err)
	}
	return nil
}

func (r *Repository) GetObject(ctx context.Context, ownerID uuid.UUID, storedName string) (*simpleasset.StoredObject, error) {
	obj := &simpleasset.StoredObject{}
	var format []byte
	err := r.db.QueryRow(ctx, `
		SELECT owner_id, stored_name, content_hash, category, stored_size, format, created_at
		FROM stored_objects WHERE owner_id = $1 AND stored_name = $2`, ownerID, storedName).
		Scan(&obj.OwnerID, &obj.StoredName, &obj.ContentHash, &obj.Category, &obj.StoredSize, &format, &obj.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, simpleasset.ErrObjectNotFound
	}
	if err != nil {
		return nil, r.handlePostgresError("get object", err)
	}
	if obj.Format, err = decodeFormat(format); err != nil {
		return nil, err
	}
	return obj, nil
}

func (r *Repository) ComputeUsage(ctx context.Context, ownerID uuid.UUID) (*simpleasset.Usage, error) {
	usage := &simpleasset.Usage{}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(stored_size), 0)
		FROM stored_objects WHERE owner_id = $1`, ownerID).
		Scan(&usage.ObjectCount, &usage.ObjectBytes)
	if err != nil {
		return nil, r.handlePostgresError("compute object usage", err)
	}
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(content_size), 0)
		FROM records WHERE owner_id = $1 AND status <> $2`, ownerID, simpleasset.RecordStatusDeleted).
		Scan(&usage.RecordCount, &usage.RecordContentBytes)
	if err != nil {
		return nil, r.handlePostgresError("compute record usage", err)
	}
	return usage, nil
}

// encodeContent renders record content as JSON text. The content column is
// TEXT so documents round-trip byte for byte, \u0000 escapes and number
// literals included.
func encodeContent(c simpleasset.Content) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return string(b), nil
}

func scanRecord(row pgx.Row) (*simpleasset.Record, error) {
	var rec simpleasset.Record
	var content string
	var format []byte
	var createdAt, updatedAt time.Time
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.FolderID, &rec.Kind, &rec.Title, &content, &rec.ContentSize,
		&rec.StoredName, &rec.ContentHash, &rec.ObjectSize, &rec.OriginalName, &format,
		&rec.Status, &rec.Version, &createdAt, &updatedAt, &rec.DeletedAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if rec.Format, err = decodeFormat(format); err != nil {
		return nil, err
	}
	return &rec, nil
}

func encodeFormat(f *simpleasset.FormatMetadata) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode format: %w", err)
	}
	return b, nil
}

func decodeFormat(b []byte) (*simpleasset.FormatMetadata, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var f simpleasset.FormatMetadata
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode format: %w", err)
	}
	return &f, nil
}
