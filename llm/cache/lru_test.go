package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
	"pgregory.net/rapid"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestLRU(t *testing.T, maxSize int, ttl time.Duration) (*LRU[string], *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(epoch)
	return NewLRU[string](Config{MaxSize: maxSize, TTL: ttl}, clk), clk
}

func TestLRU_Basic(t *testing.T) {
	c, _ := newTestLRU(t, 3, time.Minute)

	c.Set("key1", "v1")

	got, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 3, stats.MaxSize)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestLRU_DefaultsOnZeroConfig(t *testing.T) {
	c := NewLRU[int](Config{}, nil)
	assert.Equal(t, 1000, c.Stats().MaxSize)
	assert.Equal(t, time.Hour, c.ttl)
}

func TestLRU_EvictsLeastRecentlyAccessed(t *testing.T) {
	c, _ := newTestLRU(t, 2, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	_, ok := c.Get("a") // a 成为最近访问
	require.True(t, ok)
	c.Set("c", "3") // 淘汰 b

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_EvictsOldestInsertWithoutAccess(t *testing.T) {
	c, _ := newTestLRU(t, 2, time.Minute)

	c.Set("key1", "1")
	c.Set("key2", "2")
	c.Set("key3", "3") // 淘汰 key1

	_, ok := c.Get("key1")
	assert.False(t, ok)
	assert.Equal(t, []string{"key3", "key2"}, c.Keys())
}

func TestLRU_OverwriteRefreshesWithoutEviction(t *testing.T) {
	c, clk := newTestLRU(t, 2, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	clk.Step(50 * time.Second)
	c.Set("a", "1b") // 覆盖不触发淘汰，并刷新创建时间

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions)
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	clk.Step(20 * time.Second)
	got, ok := c.Get("a")
	require.True(t, ok, "overwritten entry keeps a fresh TTL")
	assert.Equal(t, "1b", got)

	_, ok = c.Get("b")
	assert.False(t, ok, "b is older than the TTL")
}

func TestLRU_TTLExpiry(t *testing.T) {
	c, clk := newTestLRU(t, 10, 100*time.Millisecond)

	c.Set("k", "v")
	clk.Step(100 * time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok, "age equal to TTL is still fresh")

	clk.Step(time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, 0, stats.Size, "expired entry is removed on read")
}

func TestLRU_GetDoesNotExtendTTL(t *testing.T) {
	c, clk := newTestLRU(t, 10, time.Second)

	c.Set("k", "v")
	for i := 0; i < 3; i++ {
		clk.Step(400 * time.Millisecond)
		c.Get("k")
	}
	_, ok := c.Get("k")
	assert.False(t, ok, "reads refresh recency, not age")
}

func TestLRU_SetWithTTL(t *testing.T) {
	c, clk := newTestLRU(t, 10, time.Hour)

	c.SetWithTTL("short", "v", time.Second)
	c.Set("long", "v")

	entry, ok := c.Peek("short")
	require.True(t, ok)
	assert.Equal(t, time.Second, entry.TTL)
	assert.Equal(t, epoch, entry.CreatedAt)

	clk.Step(2 * time.Second)
	_, ok = c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestLRU_PurgeExpired(t *testing.T) {
	c, clk := newTestLRU(t, 10, time.Minute)

	c.Set("old1", "v")
	c.Set("old2", "v")
	clk.Step(30 * time.Second)
	c.Set("new", "v")
	clk.Step(31 * time.Second)

	assert.Equal(t, 2, c.PurgeExpired())
	assert.Equal(t, []string{"new"}, c.Keys())
	assert.Equal(t, int64(2), c.Stats().Expirations)
	assert.Equal(t, 0, c.PurgeExpired())
}

func TestLRU_DeleteAndClear(t *testing.T) {
	c, _ := newTestLRU(t, 10, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Get("zzz")

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, float64(0), stats.HitRate)
	assert.Empty(t, c.Keys())

	c.Set("c", "3")
	got, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, "3", got)
}

func TestLRU_PeekDoesNotTouch(t *testing.T) {
	c, _ := newTestLRU(t, 2, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	_, ok := c.Peek("a")
	require.True(t, ok)
	c.Set("c", "3") // Peek 不改变顺序，仍淘汰 a

	_, ok = c.Peek("a")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().Hits)
}

// TestProperty_LRU_MatchesModel 将 LRU 与一个朴素切片模型对比：
// 容量从不超过上限，读写顺序与模型一致。
func TestProperty_LRU_MatchesModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 5).Draw(rt, "capacity")
		c := NewLRU[int](Config{MaxSize: capacity, TTL: time.Hour}, clocktesting.NewFakeClock(epoch))

		// 模型：order[0] 为最近访问
		var order []string
		values := map[string]int{}
		touch := func(k string) {
			for i, o := range order {
				if o == k {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
			order = append([]string{k}, order...)
		}

		ops := rapid.IntRange(1, 60).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			key := fmt.Sprintf("k%d", rapid.IntRange(0, 7).Draw(rt, "key"))
			if rapid.Bool().Draw(rt, "write") {
				v := rapid.Int().Draw(rt, "value")
				c.Set(key, v)
				if _, ok := values[key]; !ok && len(order) >= capacity {
					victim := order[len(order)-1]
					order = order[:len(order)-1]
					delete(values, victim)
				}
				values[key] = v
				touch(key)
			} else {
				got, ok := c.Get(key)
				want, wantOK := values[key]
				if ok != wantOK {
					rt.Fatalf("Get(%s) hit=%v, model hit=%v", key, ok, wantOK)
				}
				if ok {
					if got != want {
						rt.Fatalf("Get(%s)=%d, want %d", key, got, want)
					}
					touch(key)
				}
			}

			if c.Len() > capacity {
				rt.Fatalf("size %d exceeds capacity %d", c.Len(), capacity)
			}
		}

		keys := c.Keys()
		if len(keys) != len(order) {
			rt.Fatalf("keys=%v model=%v", keys, order)
		}
		for i := range keys {
			if keys[i] != order[i] {
				rt.Fatalf("keys=%v model=%v", keys, order)
			}
		}
	})
}
