// Package hotcache is the process-local Hot Cache: periodically refreshed
// snapshots of available credentials and today's statistics that front the
// durable stores on every hot request path, plus the write-through hooks
// that keep those snapshots consistent between refreshes.
package hotcache

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/portablestew/key-commune/internal/credential"
	"github.com/portablestew/key-commune/internal/stats"
)

// Status reports the cache's health for the status page and health endpoint.
type Status struct {
	Cached     bool
	Age        time.Duration
	Interval   time.Duration
	KeyCount   int
	StatsCount int
}

// Stale reports whether the last refresh is old enough to call the cache
// degraded: at least twice the configured refresh interval.
func (s Status) Stale() bool {
	return s.Cached && s.Age >= 2*s.Interval
}

// Cache serves available-credential and today's-statistics snapshots without
// touching the store on the hot path. It subscribes to the Credential Store
// as a credential.Listener so mutations write through eagerly.
type Cache struct {
	credStore  *credential.Store
	statsStore *stats.Store
	interval   time.Duration

	mu          sync.RWMutex
	snapshot    []credential.Record // shuffled, stable within a refresh cycle
	byID        map[int64]int       // credential id -> index into snapshot, for in-place write-through
	refreshedAt time.Time

	statsMu     sync.RWMutex
	statsSnap   map[int64]stats.Record
	statsDate   string
	statsStamp  time.Time

	sf singleflight.Group
}

// minInterval is the floor applied to the configured refresh interval
// regardless of what config requests (open question: cache minimum interval).
const minInterval = 60 * time.Second

// New constructs a Cache. interval is clamped to at least minInterval.
func New(credStore *credential.Store, statsStore *stats.Store, interval time.Duration) *Cache {
	if interval < minInterval {
		interval = minInterval
	}
	c := &Cache{
		credStore:  credStore,
		statsStore: statsStore,
		interval:   interval,
	}
	credStore.AddListener(c)
	return c
}

// AvailableSnapshot returns a shuffled view of every currently-available
// credential, refreshing synchronously first if the existing snapshot is
// stale or absent.
func (c *Cache) AvailableSnapshot(ctx context.Context) ([]credential.Record, error) {
	c.mu.RLock()
	fresh := c.snapshot != nil && time.Since(c.refreshedAt) < c.interval
	snap := c.snapshot
	c.mu.RUnlock()

	if fresh {
		return snap, nil
	}

	v, err, _ := c.sf.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	_ = v

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, nil
}

func (c *Cache) refresh(ctx context.Context) error {
	recs, err := c.credStore.FindAllAvailable(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if recs == nil {
		// A completed refresh with no available rows is still a snapshot.
		recs = []credential.Record{}
	}

	shuffle(recs)

	byID := make(map[int64]int, len(recs))
	for i, r := range recs {
		byID[r.ID] = i
	}

	c.mu.Lock()
	c.snapshot = recs
	c.byID = byID
	c.refreshedAt = time.Now().UTC()
	c.mu.Unlock()
	return nil
}

// shuffle permutes recs uniformly at random using Fisher-Yates. The result
// is the load balancer's sole source of randomness between refreshes.
func shuffle(recs []credential.Record) {
	for i := len(recs) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		recs[i], recs[j] = recs[j], recs[i]
	}
}

// StatsSnapshot returns today's per-credential statistics, refreshing first
// if stale or if the civil day has rolled over since the last refresh.
func (c *Cache) StatsSnapshot(ctx context.Context) (map[int64]stats.Record, error) {
	today := stats.Today()

	c.statsMu.RLock()
	fresh := c.statsSnap != nil && c.statsDate == today && time.Since(c.statsStamp) < c.interval
	snap := c.statsSnap
	c.statsMu.RUnlock()

	if fresh {
		return snap, nil
	}

	_, err, _ := c.sf.Do("stats-refresh", func() (any, error) {
		return nil, c.refreshStats(ctx, today)
	})
	if err != nil {
		return nil, err
	}

	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.statsSnap, nil
}

func (c *Cache) refreshStats(ctx context.Context, today string) error {
	all, err := c.statsStore.GetAllForToday(ctx)
	if err != nil {
		return err
	}

	c.statsMu.Lock()
	c.statsSnap = all
	c.statsDate = today
	c.statsStamp = time.Now().UTC()
	c.statsMu.Unlock()
	return nil
}

// Status reports the cache's current health for the health endpoint.
func (c *Cache) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	return Status{
		Cached:     c.snapshot != nil,
		Age:        time.Since(c.refreshedAt),
		Interval:   c.interval,
		KeyCount:   len(c.snapshot),
		StatsCount: len(c.statsSnap),
	}
}

// OnCreate adds a newly-persisted credential to the snapshot eagerly,
// satisfying the "newly-created records must be added eagerly" invariant.
func (c *Cache) OnCreate(rec credential.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil {
		return
	}
	if _, exists := c.byID[rec.ID]; exists {
		return
	}
	c.byID[rec.ID] = len(c.snapshot)
	c.snapshot = append(c.snapshot, rec)
}

// OnUpdate applies a counter/deadline mutation to the cache. If the update
// makes rec unavailable (future block deadline) it is removed eagerly; if it
// is present in-snapshot and remains available, it is mutated in place.
// Newly-unblocked records are not added here — per the selection invariant,
// those become visible again only on the next full refresh.
func (c *Cache) OnUpdate(rec credential.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil {
		return
	}

	idx, exists := c.byID[rec.ID]
	if rec.Blocked(time.Now().UTC()) {
		if exists {
			c.removeAt(idx)
		}
		return
	}

	if exists {
		c.snapshot[idx] = rec
	}
}

// OnDelete removes a credential from the snapshot eagerly.
func (c *Cache) OnDelete(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil {
		return
	}
	if idx, exists := c.byID[id]; exists {
		c.removeAt(idx)
	}
}

// removeAt deletes the snapshot entry at idx by swapping with the last
// element, preserving shuffle order for every remaining entry except the
// one relocated. Caller must hold c.mu.
func (c *Cache) removeAt(idx int) {
	last := len(c.snapshot) - 1
	removedID := c.snapshot[idx].ID

	if idx != last {
		c.snapshot[idx] = c.snapshot[last]
		c.byID[c.snapshot[idx].ID] = idx
	}
	c.snapshot = c.snapshot[:last]
	delete(c.byID, removedID)
}
