package backup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url", time.Hour); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestSetGetClear(t *testing.T) {
	store, s := setupTestRedis(t, time.Hour)
	ctx := context.Background()

	if err := store.Set(ctx, "a@x.com", []byte(`{"title":"Survey"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !s.Exists("draft:a@x.com") {
		t.Fatal("expected key draft:a@x.com in redis")
	}

	value, ok, err := store.Get(ctx, "a@x.com")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if string(value) != `{"title":"Survey"}` {
		t.Errorf("unexpected value %s", value)
	}

	if err := store.Clear(ctx, "a@x.com"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, err := store.Get(ctx, "a@x.com"); ok || err != nil {
		t.Fatalf("Get after clear = ok %v, err %v", ok, err)
	}
}

func TestGetMissingKey(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	value, ok, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok || value != nil {
		t.Fatalf("expected no value, got %q", value)
	}
}

func TestBackupExpires(t *testing.T) {
	store, s := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte(`{}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected backup to expire")
	}
}

func TestClearMissingKey(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	if err := store.Clear(context.Background(), "missing"); err != nil {
		t.Errorf("Clear for missing key failed: %v", err)
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), 0)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Set(context.Background(), "k", []byte(`{}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := s.TTL("draft:k"); ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultTTL)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	src := []byte(`{"a":1}`)
	if err := store.Set(ctx, "k", src); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	src[0] = 'X'

	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if string(value) != `{"a":1}` {
		t.Errorf("stored value aliased caller slice: %s", value)
	}

	if err := store.Clear(ctx, "k"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected cleared key to be gone")
	}
}
