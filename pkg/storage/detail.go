package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/packsync/packsync/pkg/pack"
)

// PutDetail stores the full ad list of a pack until expiresAt.
func (d *DB) PutDetail(ctx context.Context, id string, ads []pack.Ad, expiresAt time.Time) error {
	if ads == nil {
		ads = []pack.Ad{}
	}
	items, err := json.Marshal(ads)
	if err != nil {
		return fmt.Errorf("encode ads of pack %s: %w", id, err)
	}
	_, err = d.sql.ExecContext(ctx, `
INSERT INTO pack_details(id, items, item_count, stored_at, expires_at) VALUES(?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  items = excluded.items,
  item_count = excluded.item_count,
  stored_at = excluded.stored_at,
  expires_at = excluded.expires_at`,
		id, string(items), len(ads), formatTime(time.Now()), formatTime(expiresAt))
	return err
}

// GetDetail returns the cached ad list of a pack. Entries past their expiry
// are reported as ErrNotFound even before the sweeper removes them.
func (d *DB) GetDetail(ctx context.Context, id string, now time.Time) ([]pack.Ad, error) {
	var items string
	err := d.sql.QueryRowContext(ctx, "SELECT items FROM pack_details WHERE id = ? AND expires_at > ?", id, formatTime(now)).Scan(&items)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("details of pack %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var ads []pack.Ad
	if err := json.Unmarshal([]byte(items), &ads); err != nil {
		return nil, fmt.Errorf("decode ads of pack %s: %w", id, err)
	}
	return ads, nil
}

// DeleteDetail removes a detail entry. Missing entries are ignored.
func (d *DB) DeleteDetail(ctx context.Context, id string) error {
	_, err := d.sql.ExecContext(ctx, "DELETE FROM pack_details WHERE id = ?", id)
	return err
}

// DeleteExpiredDetails removes every detail entry that expired at or before
// now and returns how many were removed.
func (d *DB) DeleteExpiredDetails(ctx context.Context, now time.Time) (int, error) {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM pack_details WHERE expires_at <= ?", formatTime(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
