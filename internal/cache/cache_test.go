package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/redis/go-redis/v9"
)

func testSeries() domain.PeriodSeries {
	return domain.PeriodSeries{
		{PeriodKey: "2025-06-01", PeriodLabel: "Jun 2025", TotalSpend: 1000, CouponsRedeemed: 40, ActiveSubscribers: 500},
		{PeriodKey: "2025-07-01", PeriodLabel: "Jul 2025", TotalSpend: 420.5, CouponsRedeemed: 12, ActiveSubscribers: 480},
	}
}

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' is the least recently used.
		_, _ = smallCache.Get(ctx, "a")
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := smallCache.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := smallCache.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("SeriesRoundTrip", func(t *testing.T) {
		if err := cache.SetSeries(ctx, "acct-1:month", testSeries(), time.Minute); err != nil {
			t.Fatalf("SetSeries failed: %v", err)
		}
		got, err := cache.GetSeries(ctx, "acct-1:month")
		if err != nil {
			t.Fatalf("GetSeries failed: %v", err)
		}
		if len(got) != 2 || got[1].TotalSpend != 420.5 {
			t.Errorf("unexpected series: %+v", got)
		}

		if err := DeleteSeries(ctx, cache, "acct-1:month"); err != nil {
			t.Fatalf("DeleteSeries failed: %v", err)
		}
		if got, _ := cache.GetSeries(ctx, "acct-1:month"); got != nil {
			t.Errorf("expected miss after delete, got %+v", got)
		}
	})

	t.Run("EmptySeriesIsAHit", func(t *testing.T) {
		_ = cache.SetSeries(ctx, "acct-empty:month", nil, time.Minute)
		got, err := cache.GetSeries(ctx, "acct-empty:month")
		if err != nil {
			t.Fatalf("GetSeries failed: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil series, got %#v", got)
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, "login:10.0.0.1", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, "login:10.0.0.1", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, "login:10.0.0.1", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := testCache.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheWithClient(client)
	defer cache.Close()

	ctx := context.Background()

	t.Run("SetAndGetPrefixed", func(t *testing.T) {
		if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if !mr.Exists("churnguard:k") {
			t.Error("expected key to be namespaced")
		}
		val, err := cache.Get(ctx, "k")
		if err != nil || string(val) != "v" {
			t.Errorf("unexpected get: %q, %v", val, err)
		}
	})

	t.Run("Miss", func(t *testing.T) {
		val, err := cache.Get(ctx, "absent")
		if err != nil || val != nil {
			t.Errorf("expected nil, nil on miss; got %q, %v", val, err)
		}
	})

	t.Run("TTL", func(t *testing.T) {
		_ = cache.Set(ctx, "short", []byte("v"), time.Second)
		mr.FastForward(2 * time.Second)
		if val, _ := cache.Get(ctx, "short"); val != nil {
			t.Error("expected key to expire")
		}
	})

	t.Run("Series", func(t *testing.T) {
		if err := cache.SetSeries(ctx, "acct-1:week", testSeries(), time.Minute); err != nil {
			t.Fatalf("SetSeries failed: %v", err)
		}
		got, err := cache.GetSeries(ctx, "acct-1:week")
		if err != nil {
			t.Fatalf("GetSeries failed: %v", err)
		}
		if len(got) != 2 || got[0].PeriodKey != "2025-06-01" {
			t.Errorf("unexpected series: %+v", got)
		}
	})

	t.Run("IncrementCounterWindow", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			n, err := cache.IncrementCounter(ctx, "login:x", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if n != i {
				t.Errorf("expected %d, got %d", i, n)
			}
		}
		if ttl := mr.TTL("churnguard:counter:login:x"); ttl <= 0 || ttl > time.Minute {
			t.Errorf("expected window TTL, got %v", ttl)
		}

		mr.FastForward(2 * time.Minute)
		n, _ := cache.IncrementCounter(ctx, "login:x", time.Minute)
		if n != 1 {
			t.Errorf("expected counter reset after window, got %d", n)
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	mr := miniredis.RunT(t)
	remote := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	local := NewLRUCache(10)
	cache := newTwoPhase(local, remote, time.Minute)
	defer cache.Close()

	ctx := context.Background()

	t.Run("WritesBothLevels", func(t *testing.T) {
		_ = cache.Set(ctx, "k", []byte("v"), time.Hour)
		if val, _ := local.Get(ctx, "k"); string(val) != "v" {
			t.Error("expected L1 write")
		}
		if val, _ := remote.Get(ctx, "k"); string(val) != "v" {
			t.Error("expected L2 write")
		}
	})

	t.Run("PopulatesL1OnL2Hit", func(t *testing.T) {
		_ = remote.SetSeries(ctx, "acct-2:month", testSeries(), time.Hour)

		got, err := cache.GetSeries(ctx, "acct-2:month")
		if err != nil || len(got) != 2 {
			t.Fatalf("expected L2 hit, got %+v, %v", got, err)
		}
		if cached, _ := local.GetSeries(ctx, "acct-2:month"); cached == nil {
			t.Error("expected L1 to be populated")
		}
	})

	t.Run("DeleteBothLevels", func(t *testing.T) {
		_ = cache.Delete(ctx, "k")
		if val, _ := cache.Get(ctx, "k"); val != nil {
			t.Error("expected miss after delete")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("RedisTwoPhase", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr(), EnableTwoPhase: true})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*TwoPhaseCache); !ok {
			t.Error("expected TwoPhaseCache")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
