package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimit_GCRA(t *testing.T) {
	tests := []struct {
		name   string
		limit  Limit
		burst  int
		period time.Duration
	}{
		{"explicit burst", Limit{Rate: 20, Period: time.Second, Burst: 40}, 40, time.Second},
		{"burst defaults to rate", Limit{Rate: 20, Period: time.Second}, 20, time.Second},
		{"period defaults to second", Limit{Rate: 5, Burst: 1}, 1, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.limit.gcra()
			assert.Equal(t, tt.limit.Rate, got.Rate)
			assert.Equal(t, tt.burst, got.Burst)
			assert.Equal(t, tt.period, got.Period)
		})
	}
}

func TestRedisRateLimiter_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	res, err := NewRedisRateLimiter(client).Allow(context.Background(), "10.0.0.1", Limit{Rate: 1, Period: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit check failed")
	assert.Nil(t, res)
}
