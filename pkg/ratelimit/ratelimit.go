// Package ratelimit 基于 Redis GCRA 的分布式限流
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimiter 限流器
type RateLimiter interface {
	// Allow 判断 key 当前是否还有配额
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 每个 Period 平均 Rate 次，允许瞬时突发 Burst 次
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Result 限流结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter redis_rate 实现
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

func NewRedisRateLimiter(client redis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(client)}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, limit.gcra())
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}

// gcra Burst 为 0 时 GCRA 会拒绝所有请求，此时按 Rate 放行突发
func (l Limit) gcra() redis_rate.Limit {
	burst := l.Burst
	if burst <= 0 {
		burst = l.Rate
	}
	period := l.Period
	if period <= 0 {
		period = time.Second
	}
	return redis_rate.Limit{Rate: l.Rate, Period: period, Burst: burst}
}
