// Package cache implements the tiered content cache (C3): three
// independent LRU+TTL tiers (DOM snapshots, screenshots, API response
// bodies) so a hot DOM string doesn't evict a cold screenshot and vice
// versa.
package cache

import (
	"bytes"
	"compress/flate"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Config mirrors the fields of session.CacheStrategy that the cache
// actually needs; callers copy those fields across rather than passing
// the strategy type itself, keeping this package free of a dependency on
// the session package.
type Config struct {
	DOMCapacity        int
	DOMTTL             time.Duration
	ScreenshotCapacity int
	ScreenshotTTL      time.Duration
	APICapacity        int
	APITTL             time.Duration

	CompressionEnabled   bool
	CompressionThreshold int
}

// Tier names the three independent cache tiers.
type Tier string

const (
	TierDOM        Tier = "dom"
	TierScreenshot Tier = "screenshot"
	TierAPI        Tier = "api"
)

// Stats reports hit/miss/eviction/size counters for one tier.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	TotalSize int64
}

// HitRate is hits/(hits+misses), 0 when nothing has been queried yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// entry is one cache slot: the payload (compressed or not), when it was
// stored, how many times it has been hit, and its stored byte size — the
// shape spec.md §4.3 requires for statistics and TTL bookkeeping.
type entry struct {
	payload    []byte
	compressed bool
	timestamp  time.Time
	hits       int64
	byteSize   int
}

// TieredCache holds three independent expirable.LRU caches, one per Tier,
// plus the compression policy and per-tier eviction/size counters that the
// underlying LRU implementation doesn't expose on its own.
type TieredCache struct {
	cfg Config

	dom        *lru.LRU[string, *entry]
	screenshot *lru.LRU[string, *entry]
	api        *lru.LRU[string, *entry]

	mu        sync.Mutex
	hits      map[Tier]*atomic.Int64
	misses    map[Tier]*atomic.Int64
	evictions map[Tier]*atomic.Int64
	totalSize map[Tier]*atomic.Int64

	// lastHost is the hostname of the most recently observed navigation
	// target, used to classify the next navigation as same-host,
	// cross-host, or first (§4.3 "Navigation invalidation").
	lastHost string
}

// New builds a TieredCache from a Config.
func New(cfg Config) *TieredCache {
	c := &TieredCache{
		cfg:       cfg,
		hits:      map[Tier]*atomic.Int64{TierDOM: {}, TierScreenshot: {}, TierAPI: {}},
		misses:    map[Tier]*atomic.Int64{TierDOM: {}, TierScreenshot: {}, TierAPI: {}},
		evictions: map[Tier]*atomic.Int64{TierDOM: {}, TierScreenshot: {}, TierAPI: {}},
		totalSize: map[Tier]*atomic.Int64{TierDOM: {}, TierScreenshot: {}, TierAPI: {}},
	}
	c.dom = lru.NewLRU[string, *entry](cfg.DOMCapacity, c.onEvict(TierDOM), cfg.DOMTTL)
	c.screenshot = lru.NewLRU[string, *entry](cfg.ScreenshotCapacity, c.onEvict(TierScreenshot), cfg.ScreenshotTTL)
	c.api = lru.NewLRU[string, *entry](cfg.APICapacity, c.onEvict(TierAPI), cfg.APITTL)
	return c
}

func (c *TieredCache) onEvict(t Tier) func(key string, e *entry) {
	return func(key string, e *entry) {
		c.evictions[t].Add(1)
		c.totalSize[t].Add(-int64(e.byteSize))
	}
}

func (c *TieredCache) tier(t Tier) *lru.LRU[string, *entry] {
	switch t {
	case TierDOM:
		return c.dom
	case TierScreenshot:
		return c.screenshot
	case TierAPI:
		return c.api
	default:
		return c.dom
	}
}

// Key derives a stable cache key from arbitrary content, so callers don't
// need to carry large raw strings as map keys.
func Key(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Get looks up a cached value by key within a tier, transparently
// decompressing it if it was stored compressed. A hit bumps the entry's
// hit counter; a miss (absent or TTL-expired, which the underlying LRU
// treats as absent) is recorded against the tier's stats.
func (c *TieredCache) Get(t Tier, key string) ([]byte, bool) {
	e, ok := c.tier(t).Get(key)
	if !ok {
		c.misses[t].Add(1)
		return nil, false
	}
	c.hits[t].Add(1)
	e.hits++

	if !e.compressed {
		return e.payload, true
	}
	raw, err := decompress(e.payload)
	if err != nil {
		c.misses[t].Add(1)
		return nil, false
	}
	return raw, true
}

// Put stores a value under key within a tier, subject to that tier's
// capacity and TTL. When compression is enabled and the payload exceeds
// CompressionThreshold, the stored payload is the compressed form (§4.3);
// Get transparently reverses the transform.
func (c *TieredCache) Put(t Tier, key string, value []byte) {
	e := &entry{timestamp: time.Now(), byteSize: len(value)}

	if c.cfg.CompressionEnabled && len(value) > c.cfg.CompressionThreshold {
		if compressed, err := compress(value); err == nil {
			e.payload = compressed
			e.compressed = true
			e.byteSize = len(compressed)
		} else {
			e.payload = value
		}
	} else {
		e.payload = value
	}

	if old, ok := c.tier(t).Get(key); ok {
		c.totalSize[t].Add(-int64(old.byteSize))
	}
	c.tier(t).Add(key, e)
	c.totalSize[t].Add(int64(e.byteSize))
}

// compress applies a reversible, deterministic transform to data — a
// standard streaming DEFLATE, per spec.md §9's design note preferring it
// over an ad hoc run-length scheme. §8 only requires round-trip fidelity,
// not a specific wire format.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

// Stats returns the hit/miss/eviction/size counters for a tier.
func (c *TieredCache) Stats(t Tier) Stats {
	return Stats{
		Hits:      c.hits[t].Load(),
		Misses:    c.misses[t].Load(),
		Evictions: c.evictions[t].Load(),
		TotalSize: c.totalSize[t].Load(),
	}
}

// HitRatio returns the tier's hit ratio, or 0 if it has never been
// queried.
func (c *TieredCache) HitRatio(t Tier) float64 {
	return c.Stats(t).HitRate()
}

// Purge clears all tiers, used when a session resets between tasks that
// should not reuse stale DOM/screenshot state.
func (c *TieredCache) Purge() {
	c.dom.Purge()
	c.screenshot.Purge()
	c.api.Purge()
}

// PurgeDOM clears only the dom tier.
func (c *TieredCache) PurgeDOM() {
	c.dom.Purge()
}

// InvalidateOnNavigation applies spec.md §4.3's navigation-invalidation
// rule as the session's URL moves from oldURL to newURL: first navigation
// (oldURL empty) and same-host navigations clear the dom tier only;
// cross-host navigations clear all three tiers.
func (c *TieredCache) InvalidateOnNavigation(oldURL, newURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newHost := hostOf(newURL)
	if oldURL == "" || c.lastHost == "" || c.lastHost == newHost {
		c.PurgeDOM()
	} else {
		c.Purge()
	}
	c.lastHost = newHost
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
