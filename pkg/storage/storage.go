package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a pack or detail entry does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	sql *sql.DB
}

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
CREATE TABLE IF NOT EXISTS packs (
  id                TEXT PRIMARY KEY,
  name              TEXT NOT NULL,
  adaccount_id      TEXT NOT NULL,
  date_start        TEXT NOT NULL,
  date_stop         TEXT NOT NULL,
  filters           TEXT NOT NULL DEFAULT '[]',
  auto_refresh      INTEGER NOT NULL DEFAULT 0 CHECK (auto_refresh IN (0,1)),
  stats             TEXT NOT NULL DEFAULT '{}',
  detail_ref        TEXT,
  refresh_status    TEXT NOT NULL DEFAULT 'ready',
  job_id            TEXT,
  created_at        TEXT NOT NULL,
  updated_at        TEXT NOT NULL,
  last_refreshed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_packs_account ON packs(adaccount_id);
CREATE TABLE IF NOT EXISTS pack_details (
  id         TEXT PRIMARY KEY,
  items      TEXT NOT NULL,
  item_count INTEGER NOT NULL,
  stored_at  TEXT NOT NULL,
  expires_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_details_expiry ON pack_details(expires_at);
CREATE TABLE IF NOT EXISTS pack_changes (
  id          INTEGER PRIMARY KEY,
  occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  pack_id     TEXT NOT NULL,
  name        TEXT NOT NULL,
  change_type TEXT NOT NULL CHECK (change_type IN ('added','updated','removed'))
);
CREATE INDEX IF NOT EXISTS idx_changes_time ON pack_changes(occurred_at);
    `); err != nil {
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

// LogChanges records pack changes for `packsync changes`.
func (d *DB) LogChanges(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, c := range changes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO pack_changes(occurred_at, pack_id, name, change_type) VALUES(CURRENT_TIMESTAMP, ?, ?, ?)`, c.PackID, c.Name, c.ChangeType); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListRecentChanges returns the most recent N pack changes.
func (d *DB) ListRecentChanges(ctx context.Context, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx, "SELECT occurred_at, pack_id, name, change_type FROM pack_changes ORDER BY occurred_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var occurredAtStr string
		if err := rows.Scan(&occurredAtStr, &c.PackID, &c.Name, &c.ChangeType); err != nil {
			return nil, err
		}
		// Parse SQLite CURRENT_TIMESTAMP format
		// Try "2006-01-02 15:04:05" then RFC3339
		if t, perr := time.Parse("2006-01-02 15:04:05", occurredAtStr); perr == nil {
			c.OccurredAt = t
		} else if t2, perr2 := time.Parse(time.RFC3339, occurredAtStr); perr2 == nil {
			c.OccurredAt = t2
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}

// DBStats summarizes both local tiers.
type DBStats struct {
	Packs          int `json:"packs"`
	PendingPacks   int `json:"pending_packs"`
	TotalAds       int `json:"total_ads"`
	CachedDetails  int `json:"cached_details"`
	ExpiredDetails int `json:"expired_details"`
}

func (d *DB) GetStats(ctx context.Context) (DBStats, error) {
	var s DBStats
	now := formatTime(time.Now())
	err := d.sql.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM packs),
			(SELECT COUNT(*) FROM packs WHERE refresh_status = 'pending'),
			(SELECT COALESCE(SUM(json_extract(stats, '$.total_ads')), 0) FROM packs),
			(SELECT COUNT(*) FROM pack_details),
			(SELECT COUNT(*) FROM pack_details WHERE expires_at <= ?)
	`, now).Scan(&s.Packs, &s.PendingPacks, &s.TotalAds, &s.CachedDetails, &s.ExpiredDetails)
	if err != nil {
		return DBStats{}, err
	}
	return s, nil
}
