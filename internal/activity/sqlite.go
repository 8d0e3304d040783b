package activity

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sentinelstack/sentinel-observer/internal/models"
	"github.com/sentinelstack/sentinel-observer/internal/utils"
)

const activitySchema = `
CREATE TABLE IF NOT EXISTS activity_log (
	id         TEXT PRIMARY KEY,
	category   TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	summary    TEXT NOT NULL,
	status     TEXT NOT NULL,
	ref_url    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_log(timestamp);
`

// SQLiteSink persists activity entries to a local SQLite database so the feed
// survives restarts. It implements Sink.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, utils.NewAppError("activity.NewSQLiteSink", "open database", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(activitySchema); err != nil {
		db.Close()
		return nil, utils.NewAppError("activity.NewSQLiteSink", "apply schema", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Save inserts one entry.
func (s *SQLiteSink) Save(entry models.ActivityLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO activity_log (id, category, timestamp, summary, status, ref_url) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Category), entry.Timestamp.Format(time.RFC3339Nano),
		entry.Summary, entry.Status, entry.RefURL,
	)
	if err != nil {
		return utils.NewAppError("activity.Save", "insert entry", err)
	}
	return nil
}

// Load returns up to limit persisted entries, newest first.
func (s *SQLiteSink) Load(limit int) ([]models.ActivityLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, category, timestamp, summary, status, ref_url FROM activity_log ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, utils.NewAppError("activity.Load", "query entries", err)
	}
	defer rows.Close()

	var entries []models.ActivityLogEntry
	for rows.Next() {
		var entry models.ActivityLogEntry
		var category, timestamp string
		if err := rows.Scan(&entry.ID, &category, &timestamp, &entry.Summary, &entry.Status, &entry.RefURL); err != nil {
			return nil, utils.NewAppError("activity.Load", "scan entry", err)
		}
		entry.Category = models.ActivityCategory(category)
		if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			entry.Timestamp = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
