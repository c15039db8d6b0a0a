// Package sqlite stores announcements in a single SQLite file for
// deployments that do not run PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"gleeworld-hub/internal/repository"
)

var ErrNotFound = repository.ErrNotFound

const schema = `
CREATE TABLE IF NOT EXISTS announcements (
	id                      TEXT PRIMARY KEY,
	type                    TEXT    NOT NULL DEFAULT 'general',
	title                   TEXT    NOT NULL,
	content                 TEXT    NOT NULL,
	target_audience         TEXT    NOT NULL DEFAULT 'all',
	is_featured             INTEGER NOT NULL DEFAULT 0,
	publish_at              INTEGER,
	expire_at               INTEGER,
	recurrence_frequency    TEXT,
	recurrence_start        INTEGER,
	recurrence_end          INTEGER,
	recurrence_offset_hours INTEGER,
	created_by              TEXT    NOT NULL,
	created_at              INTEGER NOT NULL,
	updated_at              INTEGER NOT NULL,
	CHECK (recurrence_frequency IS NULL OR recurrence_frequency IN ('daily', 'weekly', 'monthly')),
	CHECK (recurrence_end IS NULL OR recurrence_end >= recurrence_start),
	CHECK (recurrence_offset_hours IS NULL OR recurrence_offset_hours BETWEEN -23 AND 23)
);

CREATE INDEX IF NOT EXISTS idx_announcements_created_at ON announcements (created_at DESC);

CREATE TABLE IF NOT EXISTS delivery_watermarks (
	announcement_id TEXT PRIMARY KEY REFERENCES announcements (id) ON DELETE CASCADE,
	last_fired_at   INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       TEXT,
	action        TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	old_value     TEXT,
	new_value     TEXT,
	ip_address    TEXT,
	created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs (resource_type, resource_id);
`

// Open opens (creating if needed) the database at path and applies the
// schema. The caller should Close the returned handle.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{"foreign_keys(1)", "busy_timeout(5000)"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps compare-and-set updates serialized and makes
	// ":memory:" databases usable.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// Times are stored as UTC unix microseconds.

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func toMicrosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := toMicros(*t)
	return &v
}

func fromMicrosPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func ensureAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
