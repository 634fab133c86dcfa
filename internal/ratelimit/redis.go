package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

// slidingWindow runs the same prune/count/record sequence as Memory.Allow,
// atomically on the Redis server.
//
// KEYS[1] sorted set of request times (score = unix ms)
// ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] max requests, ARGV[4] member
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tonumber(ARGV[1]) - tonumber(ARGV[2]))
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// Redis is a sliding-window limiter whose state lives in Redis, so every
// server replica shares one window per key.
type Redis struct {
	client redis.Cmdable
	policy Policy
	prefix string
}

// NewRedis builds a limiter on an existing client. prefix namespaces the
// keys of this policy (e.g. "ratelimit:api:").
func NewRedis(client redis.Cmdable, policy Policy, prefix string) (*Redis, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &Redis{client: client, policy: policy, prefix: prefix}, nil
}

func (r *Redis) Policy() Policy { return r.policy }

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	now, err := r.client.Time(ctx).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: reading redis time: %w", err)
	}

	allowed, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + key},
		now.UnixMilli(),
		r.policy.Window.Milliseconds(),
		r.policy.MaxRequests,
		xid.New().String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: running sliding window for %q: %w", key, err)
	}
	return allowed == 1, nil
}
