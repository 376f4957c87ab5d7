package core

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/signalsfoundry/coverage-simulator/kb"
	"github.com/signalsfoundry/coverage-simulator/model"
)

const (
	defaultCoverageCacheTTL = 10 * time.Minute
	defaultCoverageCacheMax = 4096
)

type coverageEntry struct {
	fingerprint uint64
	mask        *CoverageMask
	updated     time.Time
}

// CoverageCache keeps the last computed mask per transmitter. An entry is
// only returned when its fingerprint still matches the caller's, so a
// changed parameter misses even if no invalidation was delivered. Masks are
// immutable and shared between callers. The cache holds a bounded number of
// masks, evicting the least recently used; expired entries are dropped on
// lookup and swept at most once per TTL on insert.
type CoverageCache struct {
	mu        sync.Mutex
	entries   *simplelru.LRU[string, coverageEntry]
	ttl       time.Duration
	lastSweep time.Time
	hits      int64
	misses    int64
	invalids  int64
}

// CacheOption configures a CoverageCache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	maxEntries int
}

// WithMaxEntries bounds the number of cached masks. Non-positive values keep
// the default.
func WithMaxEntries(n int) CacheOption {
	return func(o *cacheOptions) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// NewCoverageCache creates a cache with the provided TTL; zero uses a default.
func NewCoverageCache(ttl time.Duration, opts ...CacheOption) *CoverageCache {
	if ttl <= 0 {
		ttl = defaultCoverageCacheTTL
	}
	o := cacheOptions{maxEntries: defaultCoverageCacheMax}
	for _, opt := range opts {
		opt(&o)
	}
	c := &CoverageCache{ttl: ttl, lastSweep: time.Now()}
	// NewLRU only fails for a non-positive size, which the options rule out.
	c.entries, _ = simplelru.NewLRU[string, coverageEntry](o.maxEntries, nil)
	return c
}

func (c *CoverageCache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Get returns the cached mask for txID when it was computed from the same
// fingerprint and has not expired.
func (c *CoverageCache) Get(txID string, fingerprint uint64) (*CoverageMask, bool) {
	if c == nil || txID == "" {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Get(txID)
	if ok && time.Since(entry.updated) > c.ttl {
		c.entries.Remove(txID)
		ok = false
	}
	if !ok || entry.fingerprint != fingerprint {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.mask, true
}

// Put stores mask for txID under fingerprint, replacing any older entry.
func (c *CoverageCache) Put(txID string, fingerprint uint64, mask *CoverageMask) {
	if c == nil || txID == "" || mask == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) >= c.ttl {
		c.sweepLocked(now)
	}
	c.entries.Add(txID, coverageEntry{fingerprint: fingerprint, mask: mask, updated: now})
}

// sweepLocked drops every expired entry. Entries are visited oldest first.
func (c *CoverageCache) sweepLocked(now time.Time) {
	c.lastSweep = now
	for _, id := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(id); ok && now.Sub(entry.updated) > c.ttl {
			c.entries.Remove(id)
		}
	}
}

func (c *CoverageCache) Invalidate(txID string) {
	if c == nil || txID == "" {
		return
	}
	c.mu.Lock()
	if c.entries.Remove(txID) {
		c.invalids++
	}
	c.mu.Unlock()
}

func (c *CoverageCache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries.Purge()
	c.invalids++
	c.mu.Unlock()
}

// Len returns the number of cached masks. Expired entries count until they
// are looked up or swept.
func (c *CoverageCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *CoverageCache) Stats() (hits, misses, invalids int64) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.Lock()
	hits, misses, invalids = c.hits, c.misses, c.invalids
	c.mu.Unlock()
	return
}

// HitRatio returns hits/(hits+misses), or 0 before any lookup.
func (c *CoverageCache) HitRatio() float64 {
	hits, misses, _ := c.Stats()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Watch drops entries in response to transmitter events from store. The
// returned function stops watching.
func (c *CoverageCache) Watch(store *kb.KnowledgeBase) func() {
	if c == nil || store == nil {
		return func() {}
	}
	return store.Subscribe(func(e kb.Event) {
		switch e.Type {
		case kb.EventTransmitterUpdated, kb.EventTransmitterRemoved:
			c.Invalidate(e.ID)
		case kb.EventCleared:
			c.InvalidateAll()
		}
	})
}

// Fingerprint hashes every input ComputeCoverage reads. Position is left
// out since masks are offset-addressed.
func Fingerprint(tx *model.Transmitter, pattern *RadiationPattern, cfg PropagationConfig) uint64 {
	if pattern == nil {
		pattern = DefaultPattern()
	}
	var buf [8 * 9]byte
	put := func(i int, v float64) {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	put(0, tx.PowerDBm)
	put(1, tx.HeightM)
	put(2, tx.OrientationDeg)
	binary.LittleEndian.PutUint64(buf[3*8:], pattern.Digest())
	put(4, cfg.FrequencyMHz)
	put(5, cfg.SensitivityDBm)
	put(6, cfg.ReceiverHeightM)
	put(7, cfg.CellSize)
	binary.LittleEndian.PutUint64(buf[8*8:], uint64(cfg.HalfExtent))
	return xxhash.Sum64(buf[:])
}
