// Package redis 订单簿深度快照的 Redis 存储
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/spotexchange/internal/matchingengine/domain"
	"github.com/wyfcoding/spotexchange/pkg/cache"
)

// DepthRepository 每个市场一个 key，随撮合命令覆盖写入
type DepthRepository struct {
	cache  *cache.RedisCache
	prefix string
	ttl    time.Duration
}

// NewDepthRepository ttl 为 0 时快照不过期
func NewDepthRepository(c *cache.RedisCache, ttl time.Duration) *DepthRepository {
	return &DepthRepository{
		cache:  c,
		prefix: "matching:depth:",
		ttl:    ttl,
	}
}

func (r *DepthRepository) Save(ctx context.Context, depth *domain.Depth) error {
	if depth == nil {
		return nil
	}
	if err := r.cache.SetJSON(ctx, r.key(depth.Market), depth, r.ttl); err != nil {
		return fmt.Errorf("failed to save depth snapshot: %w", err)
	}
	return nil
}

func (r *DepthRepository) Get(ctx context.Context, market string) (*domain.Depth, error) {
	var depth domain.Depth
	if err := r.cache.GetJSON(ctx, r.key(market), &depth); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, domain.ErrDepthNotFound
		}
		return nil, fmt.Errorf("failed to get depth snapshot from redis: %w", err)
	}
	return &depth, nil
}

func (r *DepthRepository) key(market string) string {
	return r.prefix + market
}
