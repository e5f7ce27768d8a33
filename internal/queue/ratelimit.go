package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter counts events per scope in fixed hourly windows.
// A limit <= 0 disables it.
type RateLimiter struct {
	redis *redis.Client
	limit int64
}

func NewRateLimiter(rdb *redis.Client, limit int64) *RateLimiter {
	return &RateLimiter{redis: rdb, limit: limit}
}

func (r *RateLimiter) Allow(ctx context.Context, scope string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	if r == nil || r.limit <= 0 {
		return true, 0, windowEnd, nil
	}
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("autoblog:ratelimit:%s:%s", scope, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// Claimer lets exactly one worker take ownership of a job id.
type Claimer struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewClaimer(rdb *redis.Client, ttl time.Duration) *Claimer {
	return &Claimer{redis: rdb, ttl: ttl}
}

func (c *Claimer) Claim(ctx context.Context, jobID string) (bool, error) {
	key := "autoblog:claim:" + jobID
	ok, err := c.redis.SetNX(ctx, key, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim setnx: %w", err)
	}
	return ok, nil
}

// Release drops a claim so a retried task can be claimed again.
func (c *Claimer) Release(ctx context.Context, jobID string) error {
	if err := c.redis.Del(ctx, "autoblog:claim:"+jobID).Err(); err != nil {
		return fmt.Errorf("claim release: %w", err)
	}
	return nil
}
