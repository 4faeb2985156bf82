package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/packsync/packsync/pkg/pack"
)

// DefaultDetailTTL is how long a pack's ad list stays in the detail cache.
const DefaultDetailTTL = 24 * time.Hour

// DetailSource fetches a pack's full ad list from the authoritative backend.
type DetailSource interface {
	FetchPackAds(ctx context.Context, packID string) ([]pack.Ad, error)
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	DetailTTL time.Duration    // 0 = DefaultDetailTTL
	Source    DetailSource     // optional; nil = detail misses are not refetched
	Log       Logger           // optional; nil = no logging
	Now       func() time.Time // optional; tests pin the clock
}

// Cache keeps the summary store and the detail cache consistent with each
// other. Summary writes are synchronous and decide whether a pack exists;
// detail writes are asynchronous and best-effort.
type Cache struct {
	db  *DB
	src DetailSource
	ttl time.Duration
	log Logger
	now func() time.Time

	// gen holds the sequence number of the latest queued write per pack. A
	// queued write is dropped if a newer write or an invalidation happened
	// after it was queued. Entries only live while a write is pending.
	mu      sync.Mutex
	seq     uint64
	gen     map[string]uint64
	pending sync.WaitGroup

	stopOnce    sync.Once
	stopCleanup chan struct{}
}

// NewCache wraps db.
func NewCache(db *DB, cfg CacheConfig) *Cache {
	c := &Cache{
		db:          db,
		src:         cfg.Source,
		ttl:         cfg.DetailTTL,
		log:         cfg.Log,
		now:         cfg.Now,
		gen:         make(map[string]uint64),
		stopCleanup: make(chan struct{}),
	}
	if c.ttl <= 0 {
		c.ttl = DefaultDetailTTL
	}
	if c.log == nil {
		c.log = nopLogger{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// DetailTTL returns the default time-to-live of detail entries.
func (c *Cache) DetailTTL() time.Duration { return c.ttl }

// UpsertSummary writes p to the summary store.
func (c *Cache) UpsertSummary(ctx context.Context, p pack.Pack) error {
	change, err := c.db.UpsertPack(ctx, p)
	if err != nil {
		return err
	}
	// Speculative entries are not interesting history.
	if p.IsSpeculative() {
		return nil
	}
	if err := c.db.LogChanges(ctx, []Change{change}); err != nil {
		c.log.Warnf("Could not log change for pack %s: %v", p.ID, err)
	}
	return nil
}

// UpsertDetail queues a write of ads to the detail cache and returns at once.
// A ttl <= 0 uses the cache default. Failures are logged, never returned.
func (c *Cache) UpsertDetail(ctx context.Context, id string, ads []pack.Ad, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	items := make([]pack.Ad, len(ads))
	copy(items, ads)
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	c.seq++
	g := c.seq
	c.gen[id] = g
	c.pending.Add(1)
	c.mu.Unlock()

	// The caller's context may end with its request; the write should not.
	wctx := context.WithoutCancel(ctx)
	go func() {
		defer c.pending.Done()

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen[id] != g {
			c.log.Debugf("Skipping superseded detail write for pack %s", id)
			return
		}
		delete(c.gen, id)
		if err := c.db.PutDetail(wctx, id, items, expiresAt); err != nil {
			c.log.Warnf("Could not cache details of pack %s: %v", id, err)
			return
		}
		c.log.Debugf("Cached %d ads for pack %s until %s", len(items), id, expiresAt.Format(time.RFC3339))
	}()
}

// Flush waits for queued detail writes to finish.
func (c *Cache) Flush() {
	c.pending.Wait()
}

// InvalidateDetail drops the detail entry of id, including any queued write,
// and leaves the summary alone.
func (c *Cache) InvalidateDetail(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.gen, id)
	return c.db.DeleteDetail(ctx, id)
}

// Remove deletes a pack from both local tiers. Removing a missing pack is not
// an error.
func (c *Cache) Remove(ctx context.Context, id string) error {
	if err := c.InvalidateDetail(ctx, id); err != nil {
		return err
	}
	existing, getErr := c.db.GetPack(ctx, id)
	removed, err := c.db.DeletePack(ctx, id)
	if err != nil {
		return err
	}
	if removed && getErr == nil && !existing.IsSpeculative() {
		if err := c.db.LogChanges(ctx, []Change{{OccurredAt: c.now().UTC(), PackID: id, Name: existing.Name, ChangeType: "removed"}}); err != nil {
			c.log.Warnf("Could not log removal of pack %s: %v", id, err)
		}
	}
	return nil
}

// Get returns one pack from the summary store.
func (c *Cache) Get(ctx context.Context, id string) (pack.Pack, error) {
	return c.db.GetPack(ctx, id)
}

// List returns packs from the summary store. The detail cache is never read.
func (c *Cache) List(ctx context.Context, opts ListOptions) ([]pack.Pack, error) {
	return c.db.ListPacks(ctx, opts)
}

// Details returns the full ad list of a pack: from the detail cache when it
// holds a live entry, otherwise from the backend, repopulating the cache.
func (c *Cache) Details(ctx context.Context, id string) ([]pack.Ad, error) {
	p, err := c.db.GetPack(ctx, id)
	if err != nil {
		return nil, err
	}
	key := p.DetailRef
	if key == "" {
		key = p.ID
	}

	ads, err := c.db.GetDetail(ctx, key, c.now())
	if err == nil {
		return ads, nil
	}
	if !errors.Is(err, ErrNotFound) {
		c.log.Warnf("Detail cache read failed for pack %s: %v", id, err)
	}
	if c.src == nil {
		return nil, err
	}

	ads, err = c.src.FetchPackAds(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	c.UpsertDetail(ctx, key, ads, 0)
	return ads, nil
}

// EvictExpired removes detail entries past their TTL.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	n, err := c.db.DeleteExpiredDetails(ctx, c.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Debugf("Evicted %d expired detail entries", n)
	}
	return n, nil
}

// StartEviction runs EvictExpired every interval until ctx is done or Close
// is called.
func (c *Cache) StartEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl / 2
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := c.EvictExpired(ctx); err != nil {
					c.log.Warnf("Detail cache eviction failed: %v", err)
				}
			case <-ctx.Done():
				return
			case <-c.stopCleanup:
				return
			}
		}
	}()
}

// Reconcile overwrites local summaries with the remote listing and drops local
// packs that no longer exist upstream. Speculative entries of jobs still in
// flight survive when keep says so; a nil keep keeps every speculative entry.
func (c *Cache) Reconcile(ctx context.Context, remote []pack.Pack, keep func(pack.Pack) bool) ([]Change, error) {
	if keep == nil {
		keep = pack.Pack.IsSpeculative
	}
	changes, err := c.db.SyncPacks(ctx, remote, keep)
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		if ch.ChangeType != "removed" {
			continue
		}
		if err := c.InvalidateDetail(ctx, ch.PackID); err != nil {
			c.log.Warnf("Could not drop details of removed pack %s: %v", ch.PackID, err)
		}
	}
	if err := c.db.LogChanges(ctx, changes); err != nil {
		c.log.Warnf("Could not log reconcile changes: %v", err)
	}
	return changes, nil
}

// Close stops background eviction and waits for queued detail writes.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
	c.Flush()
}
