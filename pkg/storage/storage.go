package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/learnwatch/learnwatch/pkg/snapshot"
)

const timeLayout = time.RFC3339Nano

// DB is a SQLite-backed Store that also keeps the change log.
type DB struct {
	sql *sql.DB
}

var (
	_ Store     = (*DB)(nil)
	_ ChangeLog = (*DB)(nil)
)

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS snapshots (
  id          INTEGER PRIMARY KEY CHECK (id = 1),
  captured_at TEXT NOT NULL,
  document    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS changes (
  id          INTEGER PRIMARY KEY,
  change_id   TEXT NOT NULL UNIQUE,
  occurred_at TEXT NOT NULL,
  course_id   TEXT NOT NULL,
  course_name TEXT NOT NULL,
  kind        TEXT NOT NULL,
  subject     TEXT,
  delivered   INTEGER NOT NULL CHECK (delivered IN (0,1))
);
CREATE INDEX IF NOT EXISTS idx_changes_time ON changes(occurred_at);
CREATE INDEX IF NOT EXISTS idx_changes_course ON changes(course_id, occurred_at);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

func (d *DB) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	var doc string
	err := d.sql.QueryRowContext(ctx, "SELECT document FROM snapshots WHERE id = 1").Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return Decode([]byte(doc))
}

// Save replaces the stored document in a single statement.
func (d *DB) Save(ctx context.Context, s *snapshot.Snapshot) error {
	raw, err := Encode(s)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO snapshots(id, captured_at, document) VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET captured_at = excluded.captured_at, document = excluded.document`,
		s.CapturedAt.UTC().Format(timeLayout), string(raw))
	return err
}

// LogChanges appends records to the change log. Records already logged (same
// change id) are skipped.
func (d *DB) LogChanges(ctx context.Context, records []ChangeRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, r := range records {
		_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO changes(change_id, occurred_at, course_id, course_name, kind, subject, delivered) VALUES(?,?,?,?,?,?,?)`,
			r.ChangeID, r.OccurredAt.UTC().Format(timeLayout), r.CourseID, r.CourseName, r.Kind, nullIfEmpty(r.Subject), boolToInt(r.Delivered))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRecentChanges returns the most recent N changes across all courses.
func (d *DB) ListRecentChanges(ctx context.Context, limit int) ([]ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := "SELECT change_id, occurred_at, course_id, course_name, kind, subject, delivered FROM changes ORDER BY occurred_at DESC, id DESC LIMIT ?"
	rows, err := d.sql.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []ChangeRecord{}
	for rows.Next() {
		var r ChangeRecord
		var occurredAtStr string
		var subject sql.NullString
		var delivered int
		if err := rows.Scan(&r.ChangeID, &occurredAtStr, &r.CourseID, &r.CourseName, &r.Kind, &subject, &delivered); err != nil {
			return nil, err
		}
		r.OccurredAt = parseTime(occurredAtStr)
		r.Subject = subject.String
		r.Delivered = delivered == 1
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (d *DB) GetStats(ctx context.Context) ([]CourseStats, error) {
	query := `
		SELECT
			course_name,
			COUNT(*),
			SUM(CASE WHEN delivered = 0 THEN 1 ELSE 0 END)
		FROM
			changes
		GROUP BY
			course_id, course_name
		ORDER BY
			course_name;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []CourseStats
	for rows.Next() {
		var s CourseStats
		if err := rows.Scan(&s.CourseName, &s.Changes, &s.Undelivered); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// parseTime accepts RFC3339 and SQLite's CURRENT_TIMESTAMP format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
