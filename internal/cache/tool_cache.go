package cache

import (
	"context"
	"fmt"
	"time"
)

// ToolCache caches product tool listings per user and published tools by
// slug.
type ToolCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewToolCache creates a tool cache. ttl <= 0 uses 30s.
func NewToolCache(cache *RedisCache, ttl time.Duration) *ToolCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ToolCache{cache: cache, ttl: ttl}
}

// ToolListCacheKey returns the cache key for one page of a user's tools.
func ToolListCacheKey(userID, status string, page, limit int) string {
	if status == "" {
		status = "all"
	}
	return fmt.Sprintf("keyvex:tools:user:%s:status:%s:page:%d:limit:%d", userID, status, page, limit)
}

// UserToolsPattern matches every cached listing of a user.
func UserToolsPattern(userID string) string {
	return fmt.Sprintf("keyvex:tools:user:%s:*", userID)
}

// ToolSlugCacheKey returns the cache key of a published tool.
func ToolSlugCacheKey(slug string) string {
	return "keyvex:tools:slug:" + slug
}

// GetOrLoadList returns the cached page, or loads and caches it on a miss.
// Cache write errors are ignored.
func GetOrLoadList[T any](ctx context.Context, tc *ToolCache, userID, status string, page, limit int, load func() (T, error)) (T, error) {
	key := ToolListCacheKey(userID, status, page, limit)

	var cached T
	if err := tc.cache.GetJSON(ctx, key, &cached); err == nil {
		return cached, nil
	}

	value, err := load()
	if err != nil {
		return value, err
	}
	_ = tc.cache.SetJSON(ctx, key, value, tc.ttl)
	return value, nil
}

// GetBySlug reads a cached published tool into dest.
func (tc *ToolCache) GetBySlug(ctx context.Context, slug string, dest any) error {
	return tc.cache.GetJSON(ctx, ToolSlugCacheKey(slug), dest)
}

// SetBySlug caches a published tool.
func (tc *ToolCache) SetBySlug(ctx context.Context, slug string, value any) error {
	return tc.cache.SetJSON(ctx, ToolSlugCacheKey(slug), value, tc.ttl)
}

// InvalidateUser drops every cached listing of a user.
func (tc *ToolCache) InvalidateUser(ctx context.Context, userID string) error {
	return tc.cache.DeletePattern(ctx, UserToolsPattern(userID))
}

// InvalidateSlug drops a cached published tool.
func (tc *ToolCache) InvalidateSlug(ctx context.Context, slug string) error {
	if slug == "" {
		return nil
	}
	return tc.cache.Delete(ctx, ToolSlugCacheKey(slug))
}
