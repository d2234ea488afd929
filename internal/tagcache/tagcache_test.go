package tagcache

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/alicebob/miniredis/v2"
)

var (
	_ archive.TagCache = (*Memory)(nil)
	_ archive.TagCache = (*Redis)(nil)
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	cache, err := NewRedis("redis://" + server.Addr())
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, server
}

func TestCachesStayUnwarmedUntilReplace(t *testing.T) {
	redisCache, _ := setupTestRedis(t)
	caches := map[string]archive.TagCache{
		"memory": NewMemory(),
		"redis":  redisCache,
	}

	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := cache.Add(ctx, "tax"); err != nil {
				t.Fatalf("add: %v", err)
			}
			_, warmed, err := cache.Names(ctx)
			if err != nil {
				t.Fatalf("names: %v", err)
			}
			if warmed {
				t.Fatalf("expected cache to stay unwarmed after Add")
			}

			if err := cache.Replace(ctx, []string{"receipts", "bank"}); err != nil {
				t.Fatalf("replace: %v", err)
			}
			if err := cache.Add(ctx, "archive"); err != nil {
				t.Fatalf("add after replace: %v", err)
			}
			names, warmed, err := cache.Names(ctx)
			if err != nil {
				t.Fatalf("names after replace: %v", err)
			}
			if !warmed {
				t.Fatalf("expected cache to be warmed")
			}
			expected := []string{"archive", "bank", "receipts"}
			if len(names) != len(expected) {
				t.Fatalf("expected %v, got %v", expected, names)
			}
			for index := range expected {
				if names[index] != expected[index] {
					t.Fatalf("expected %v, got %v", expected, names)
				}
			}
		})
	}
}

func TestRedisReplaceWithEmptyCatalog(t *testing.T) {
	cache, server := setupTestRedis(t)
	ctx := context.Background()

	if err := cache.Add(ctx, "stale"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := cache.Replace(ctx, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	names, warmed, err := cache.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if !warmed || len(names) != 0 {
		t.Fatalf("expected warmed empty catalog, got %v warmed=%v", names, warmed)
	}
	if server.Exists("folio:tags:names") {
		t.Fatalf("expected the names set to be removed")
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	if _, err := NewRedis("not-a-url"); err == nil {
		t.Fatalf("expected parse error")
	}
}
