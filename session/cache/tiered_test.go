package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testStrategy() Config {
	return Config{
		DOMCapacity: 2, DOMTTL: 50 * time.Millisecond,
		ScreenshotCapacity: 2, ScreenshotTTL: 50 * time.Millisecond,
		APICapacity: 2, APITTL: 50 * time.Millisecond,
	}
}

func TestTieredCache_PutGet(t *testing.T) {
	c := New(testStrategy())
	key := Key("some dom content")
	c.Put(TierDOM, key, []byte("some dom content"))

	v, ok := c.Get(TierDOM, key)
	assert.True(t, ok)
	assert.Equal(t, "some dom content", string(v))

	_, ok = c.Get(TierScreenshot, key)
	assert.False(t, ok, "tiers must not share state")
}

func TestTieredCache_TTLExpires(t *testing.T) {
	c := New(testStrategy())
	key := Key("x")
	c.Put(TierAPI, key, []byte("x"))
	time.Sleep(100 * time.Millisecond)
	_, ok := c.Get(TierAPI, key)
	assert.False(t, ok)
}

func TestTieredCache_HitRatio(t *testing.T) {
	c := New(testStrategy())
	key := Key("y")
	c.Put(TierDOM, key, []byte("y"))
	c.Get(TierDOM, key)
	c.Get(TierDOM, "missing")
	assert.InDelta(t, 0.5, c.HitRatio(TierDOM), 0.001)
}

func TestTieredCache_EvictsLRU(t *testing.T) {
	c := New(testStrategy())
	c.Put(TierAPI, "a", []byte("a"))
	c.Put(TierAPI, "b", []byte("b"))
	c.Put(TierAPI, "cc", []byte("c")) // exceeds capacity 2, evicts "a"
	_, ok := c.Get(TierAPI, "a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats(TierAPI).Evictions)
}

func TestTieredCache_CompressionRoundTrip(t *testing.T) {
	cfg := testStrategy()
	cfg.CompressionEnabled = true
	cfg.CompressionThreshold = 4
	c := New(cfg)

	large := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	c.Put(TierDOM, "big", large)
	got, ok := c.Get(TierDOM, "big")
	assert.True(t, ok)
	assert.Equal(t, large, got)

	small := []byte("hi")
	c.Put(TierDOM, "small", small)
	got, ok = c.Get(TierDOM, "small")
	assert.True(t, ok)
	assert.Equal(t, small, got)
}

func TestTieredCache_NavigationInvalidation(t *testing.T) {
	c := New(testStrategy())
	c.Put(TierDOM, Key("a.com/page1"), []byte("dom"))
	c.Put(TierAPI, Key("a.com/feed"), []byte("feed"))

	// First navigation: dom only.
	c.InvalidateOnNavigation("", "https://a.com/page1")
	_, domOK := c.Get(TierDOM, Key("a.com/page1"))
	_, apiOK := c.Get(TierAPI, Key("a.com/feed"))
	assert.False(t, domOK)
	assert.True(t, apiOK)

	c.Put(TierDOM, Key("a.com/page1"), []byte("dom"))

	// Cross-host navigation clears every tier.
	c.InvalidateOnNavigation("https://a.com/page1", "https://b.com/home")
	_, domOK = c.Get(TierDOM, Key("a.com/page1"))
	_, apiOK = c.Get(TierAPI, Key("a.com/feed"))
	assert.False(t, domOK)
	assert.False(t, apiOK)

	c.Put(TierDOM, Key("b.com/page1"), []byte("dom"))
	c.Put(TierAPI, Key("b.com/feed"), []byte("feed"))

	// Same-host navigation clears dom only.
	c.InvalidateOnNavigation("https://b.com/home", "https://b.com/page2")
	_, domOK = c.Get(TierDOM, Key("b.com/page1"))
	_, apiOK = c.Get(TierAPI, Key("b.com/feed"))
	assert.False(t, domOK)
	assert.True(t, apiOK)
}
