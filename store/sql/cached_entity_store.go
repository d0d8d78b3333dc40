package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/projectpulse/ingest/core"
)

const entityCacheKeyPrefix = "ingest::tracked_entity::v1"
const categoryViewCacheKeyPrefix = "ingest::category_view::v1"

// CachedEntityStore layers a read cache over the entity projection.
// Writes go to the base store and drop both the per-entity key and the
// category view key, so dashboard reads rebuild from fresh rows.
// LastSourceUpdate always hits the base store: the ordering check must
// never act on a stale timestamp.
type CachedEntityStore struct {
	base  core.EntityStore
	cache repositorycache.CacheService
}

func NewCachedEntityStore(base core.EntityStore, cacheService repositorycache.CacheService) (*CachedEntityStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base entity store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: entity cache service is required")
	}
	return &CachedEntityStore{base: base, cache: cacheService}, nil
}

// EntityCacheKey is the deterministic cache key for one entity read:
// ingest::tracked_entity::v1::<entity_key> with the segment escaped.
func EntityCacheKey(entityKey string) (string, error) {
	entityKey = strings.TrimSpace(entityKey)
	if entityKey == "" {
		return "", fmt.Errorf("sqlstore: entity key is required")
	}
	return entityCacheKeyPrefix + "::" + url.PathEscape(entityKey), nil
}

// CategoryViewCacheKey tags the dashboard's per-category read views.
func CategoryViewCacheKey(category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", fmt.Errorf("sqlstore: entity category is required")
	}
	return categoryViewCacheKeyPrefix + "::" + url.PathEscape(category), nil
}

func (s *CachedEntityStore) Get(ctx context.Context, entityKey string) (core.Entity, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Entity{}, fmt.Errorf("sqlstore: cached entity store is not configured")
	}
	cacheKey, err := EntityCacheKey(entityKey)
	if err != nil {
		return core.Entity{}, err
	}
	entity, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Entity, error) {
		return s.base.Get(ctx, entityKey)
	})
	if err != nil {
		return core.Entity{}, err
	}
	return entity, nil
}

func (s *CachedEntityStore) Upsert(ctx context.Context, in core.UpsertEntityInput) (core.Entity, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Entity{}, fmt.Errorf("sqlstore: cached entity store is not configured")
	}
	entity, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.Entity{}, err
	}
	if cacheKey, keyErr := EntityCacheKey(in.EntityKey); keyErr == nil {
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			return core.Entity{}, err
		}
	}
	if viewKey, keyErr := CategoryViewCacheKey(in.Category); keyErr == nil {
		if err := s.cache.Delete(ctx, viewKey); err != nil {
			return core.Entity{}, err
		}
	}
	return entity, nil
}

func (s *CachedEntityStore) LastSourceUpdate(ctx context.Context, entityKey string) (time.Time, bool, error) {
	if s == nil || s.base == nil {
		return time.Time{}, false, fmt.Errorf("sqlstore: cached entity store is not configured")
	}
	return s.base.LastSourceUpdate(ctx, entityKey)
}

func (s *CachedEntityStore) InvalidateCategory(ctx context.Context, category string) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached entity store is not configured")
	}
	viewKey, err := CategoryViewCacheKey(category)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, viewKey)
}

var (
	_ core.EntityStore      = (*CachedEntityStore)(nil)
	_ core.CacheInvalidator = (*CachedEntityStore)(nil)
)
