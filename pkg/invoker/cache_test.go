package invoker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_StableAcrossArgumentKeyOrder(t *testing.T) {
	a := cacheKey("add", "srv", map[string]any{"a": 1, "b": 2})
	b := cacheKey("add", "srv", map[string]any{"b": 2, "a": 1})
	assert.Equal(t, a, b)
}

func TestCacheKey_DiffersByTool(t *testing.T) {
	a := cacheKey("add", "srv", map[string]any{"a": 1})
	b := cacheKey("sub", "srv", map[string]any{"a": 1})
	assert.NotEqual(t, a, b)
}

func TestResultCache_ExpiresEntriesOnRead(t *testing.T) {
	c := newResultCache()
	c.put("k", "v", "srv", 10*time.Millisecond)

	_, ok := c.get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.get("k")
	assert.False(t, ok)
}

func TestResultCache_EvictsExpiredPastCap(t *testing.T) {
	c := newResultCache()
	for i := 0; i < cacheEvictionCap+5; i++ {
		ttl := time.Hour
		if i < 10 {
			ttl = time.Nanosecond
		}
		c.put(string(rune('a'+i%26))+string(rune(i)), i, "srv", ttl)
	}
	time.Sleep(time.Millisecond)
	c.mu.Lock()
	count := len(c.entries)
	c.mu.Unlock()
	// The put that crosses the cap drops the 10 already-expired
	// entries; the remaining puts stay under the cap.
	assert.Equal(t, cacheEvictionCap+5-10, count)
}
