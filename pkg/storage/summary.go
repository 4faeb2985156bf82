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

const packColumns = "id, name, adaccount_id, date_start, date_stop, filters, auto_refresh, stats, detail_ref, refresh_status, job_id, created_at, updated_at, last_refreshed_at"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// UpsertPack writes p to the summary store, replacing any existing row with
// the same id. The returned Change says whether the pack was added or updated.
func (d *DB) UpsertPack(ctx context.Context, p pack.Pack) (Change, error) {
	return upsertPack(ctx, d.sql, p)
}

func upsertPack(ctx context.Context, q querier, p pack.Pack) (Change, error) {
	if p.ID == "" {
		return Change{}, errors.New("pack has no id")
	}
	filters, err := json.Marshal(p.Filters)
	if err != nil {
		return Change{}, fmt.Errorf("encode filters: %w", err)
	}
	stats, err := json.Marshal(p.Stats)
	if err != nil {
		return Change{}, fmt.Errorf("encode stats: %w", err)
	}
	status := p.RefreshStatus
	if status == "" {
		status = pack.StatusReady
	}
	created, updated := p.CreatedAt, p.UpdatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if updated.IsZero() {
		updated = created
	}

	var exists int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM packs WHERE id = ?", p.ID).Scan(&exists); err != nil {
		return Change{}, err
	}

	_, err = q.ExecContext(ctx, `
INSERT INTO packs(`+packColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  adaccount_id = excluded.adaccount_id,
  date_start = excluded.date_start,
  date_stop = excluded.date_stop,
  filters = excluded.filters,
  auto_refresh = excluded.auto_refresh,
  stats = excluded.stats,
  detail_ref = excluded.detail_ref,
  refresh_status = excluded.refresh_status,
  job_id = excluded.job_id,
  created_at = excluded.created_at,
  updated_at = excluded.updated_at,
  last_refreshed_at = excluded.last_refreshed_at`,
		p.ID, p.Name, p.AdAccountID, p.DateStart, p.DateStop, string(filters), boolToInt(p.AutoRefresh), string(stats),
		nullIfEmpty(p.DetailRef), string(status), nullIfEmpty(p.JobID), formatTime(created), formatTime(updated), nullTime(p.LastRefreshedAt))
	if err != nil {
		return Change{}, err
	}

	change := Change{OccurredAt: time.Now().UTC(), PackID: p.ID, Name: p.Name, ChangeType: "added"}
	if exists > 0 {
		change.ChangeType = "updated"
	}
	return change, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPack(row rowScanner) (pack.Pack, error) {
	var (
		p                          pack.Pack
		filters, stats             string
		autoRefresh                int
		detailRef, jobID           sql.NullString
		status                     string
		created, updated, refreshd sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.AdAccountID, &p.DateStart, &p.DateStop, &filters, &autoRefresh, &stats,
		&detailRef, &status, &jobID, &created, &updated, &refreshd); err != nil {
		return pack.Pack{}, err
	}
	if err := json.Unmarshal([]byte(filters), &p.Filters); err != nil {
		return pack.Pack{}, fmt.Errorf("decode filters of pack %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(stats), &p.Stats); err != nil {
		return pack.Pack{}, fmt.Errorf("decode stats of pack %s: %w", p.ID, err)
	}
	p.AutoRefresh = autoRefresh == 1
	p.DetailRef = detailRef.String
	p.JobID = jobID.String
	p.RefreshStatus = pack.RefreshStatus(status)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	p.LastRefreshedAt = parseTime(refreshd)
	return p, nil
}

// GetPack returns one pack from the summary store.
func (d *DB) GetPack(ctx context.Context, id string) (pack.Pack, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+packColumns+" FROM packs WHERE id = ?", id)
	p, err := scanPack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pack.Pack{}, fmt.Errorf("pack %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListOptions controls selection when listing packs.
type ListOptions struct {
	AdAccountID string
	Status      pack.RefreshStatus
	Since       time.Time // updated at or after
}

// ListPacks returns packs matching opts, most recently updated first.
func (d *DB) ListPacks(ctx context.Context, opts ListOptions) ([]pack.Pack, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if opts.AdAccountID != "" {
		where += " AND adaccount_id = ?"
		args = append(args, opts.AdAccountID)
	}
	if opts.Status != "" {
		where += " AND refresh_status = ?"
		args = append(args, string(opts.Status))
	}
	if !opts.Since.IsZero() {
		where += " AND updated_at >= ?"
		args = append(args, formatTime(opts.Since))
	}

	rows, err := d.sql.QueryContext(ctx, "SELECT "+packColumns+" FROM packs "+where+" ORDER BY updated_at DESC, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pack.Pack
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePack removes a pack from the summary store. It reports whether a row
// was removed; deleting a missing pack is not an error.
func (d *DB) DeletePack(ctx context.Context, id string) (bool, error) {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM packs WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SyncPacks makes the summary store match the remote listing: every remote
// pack is upserted and local packs missing upstream are removed unless keep
// returns true for them.
func (d *DB) SyncPacks(ctx context.Context, remote []pack.Pack, keep func(pack.Pack) bool) (changes []Change, err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, "SELECT "+packColumns+" FROM packs")
	if err != nil {
		return nil, err
	}
	local := make(map[string]pack.Pack)
	for rows.Next() {
		var p pack.Pack
		if p, err = scanPack(rows); err != nil {
			rows.Close()
			return nil, err
		}
		local[p.ID] = p
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(remote))
	for _, rp := range remote {
		if rp.ID == "" {
			continue
		}
		seen[rp.ID] = true
		if lp, ok := local[rp.ID]; ok {
			// The remote listing carries no detail handle.
			if rp.DetailRef == "" {
				rp.DetailRef = lp.DetailRef
			}
			if rp.CreatedAt.IsZero() {
				rp.CreatedAt = lp.CreatedAt
			}
		}
		var c Change
		if c, err = upsertPack(ctx, tx, rp); err != nil {
			return nil, err
		}
		if lp, ok := local[rp.ID]; ok && samePack(lp, rp) {
			continue
		}
		changes = append(changes, c)
	}

	for id, lp := range local {
		if seen[id] || (keep != nil && keep(lp)) {
			continue
		}
		if _, err = tx.ExecContext(ctx, "DELETE FROM packs WHERE id = ?", id); err != nil {
			return nil, err
		}
		changes = append(changes, Change{OccurredAt: time.Now().UTC(), PackID: id, Name: lp.Name, ChangeType: "removed"})
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

func samePack(a, b pack.Pack) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}
