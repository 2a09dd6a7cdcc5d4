package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
)

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemory(0)
	ctx := context.Background()

	c.Set(ctx, "quotes:600000", []byte("payload"), 50*time.Millisecond)

	val, found := c.Get(ctx, "quotes:600000")
	if !found {
		t.Fatal("expected cache hit before expiry")
	}
	if string(val) != "payload" {
		t.Errorf("unexpected value %q", val)
	}

	time.Sleep(80 * time.Millisecond)
	if _, found := c.Get(ctx, "quotes:600000"); found {
		t.Error("expected expiry after TTL")
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemory(0)
	if _, found := c.Get(context.Background(), "missing"); found {
		t.Error("expected miss for absent key")
	}
}

func TestMemoryCacheBounded(t *testing.T) {
	c := NewMemory(2)
	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	c.Set(ctx, "c", []byte("3"), time.Minute)

	mc := c.(*memoryCache)
	mc.mu.RLock()
	size := len(mc.entries)
	mc.mu.RUnlock()
	if size > 2 {
		t.Errorf("cache should stay within max size, got %d entries", size)
	}
}

func TestRedisCacheGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisWithClient(db, "quotes:")
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("quotes:600000").SetVal("body")
		val, found := c.Get(ctx, "600000")
		if !found {
			t.Fatal("expected hit")
		}
		if string(val) != "body" {
			t.Errorf("unexpected value %q", val)
		}
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("quotes:000001").RedisNil()
		if _, found := c.Get(ctx, "000001"); found {
			t.Error("expected miss")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations not met: %v", err)
	}
}

func TestRedisCacheSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisWithClient(db, "quotes:")

	mock.ExpectSet("quotes:600000", []byte("body"), time.Minute).SetVal("OK")
	c.Set(context.Background(), "600000", []byte("body"), time.Minute)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations not met: %v", err)
	}
}
