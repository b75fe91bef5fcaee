package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	client *redis.Client
	prefix string
	limits []RateLimit
	logger *Logger
}

type RateLimit struct {
	Requests int
	Window   time.Duration
}

// startGGRateLimits keeps one client well below start.gg's 80 requests per
// minute; a single event fetch costs up to maxPages+1 upstream calls.
func startGGRateLimits(cfg *Config) []RateLimit {
	return []RateLimit{
		{Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow},
	}
}

func NewRateLimiter(cache *CacheManager, cfg *Config, logger *Logger) *RateLimiter {
	return &RateLimiter{
		client: cache.Client(),
		prefix: cfg.RateLimitRedisPrefix,
		limits: startGGRateLimits(cfg),
		logger: logger,
	}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	for _, limit := range rl.limits {
		allowed, err := rl.checkLimit(ctx, key, limit)
		if err != nil {
			rl.logger.Error("rate_limit_check_failed").
				Component("rate_limiter").
				Operation("check_limit").
				Err(err).
				Meta("key", key).
				Log()
			return false, err
		}
		if !allowed {
			rl.logger.Debug("rate_limit_blocked").
				Component("rate_limiter").
				Operation("check_limit").
				Meta("key", key).
				Meta("limit_requests", limit.Requests).
				Meta("limit_window", limit.Window.String()).
				Log()
			return false, nil
		}
	}
	return true, nil
}

func (rl *RateLimiter) checkLimit(ctx context.Context, key string, limit RateLimit) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, int(limit.Window.Seconds()))

	count, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := rl.client.Expire(ctx, redisKey, limit.Window).Err(); err != nil {
			return false, err
		}
	}

	return int(count) <= limit.Requests, nil
}
