package postgres

import "context"

// Schema creates the tables used by Repository. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS quota_accounts (
	owner_id    UUID PRIMARY KEY,
	total_bytes BIGINT NOT NULL DEFAULT 0 CHECK (total_bytes >= 0),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stored_objects (
	owner_id     UUID NOT NULL,
	stored_name  TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	category     VARCHAR(32) NOT NULL,
	stored_size  BIGINT NOT NULL,
	format       JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner_id, stored_name)
);

CREATE TABLE IF NOT EXISTS records (
	id            UUID PRIMARY KEY,
	owner_id      UUID NOT NULL,
	folder_id     UUID,
	kind          VARCHAR(32) NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL,
	content_size  BIGINT NOT NULL DEFAULT 0,
	stored_name   TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL DEFAULT '',
	object_size   BIGINT NOT NULL DEFAULT 0,
	original_name TEXT NOT NULL DEFAULT '',
	format        JSONB,
	status        VARCHAR(32) NOT NULL,
	version       INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	deleted_at    TIMESTAMPTZ
);

ALTER TABLE records ALTER COLUMN content TYPE TEXT USING content::text;

CREATE INDEX IF NOT EXISTS records_owner_folder_idx ON records (owner_id, folder_id) WHERE deleted_at IS NULL;
`

// EnsureSchema applies Schema.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("ensure schema", err)
	}
	return nil
}
