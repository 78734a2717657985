package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// allowScript checks and increments in one step so concurrent instances cannot
// both take the last slot. Returns {allowed, count, pttl}.
var allowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call("PTTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, current, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter shares fixed windows across instances through Redis keys with a TTL.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisLimiterFromClient creates a limiter on a shared client. The caller owns the client.
func NewRedisLimiterFromClient(client *redis.Client, prefix string, cfg Config, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		cfg:    cfg.withDefaults(),
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// buildKey scopes a client identifier under the limiter namespace
func (l *RedisLimiter) buildKey(clientID string) string {
	cleanID := strings.ReplaceAll(clientID, " ", "_")
	return fmt.Sprintf("%sratelimit:%s", l.prefix, cleanID)
}

// Allow applies the fixed-window rule for clientID atomically in Redis.
func (l *RedisLimiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	key := l.buildKey(clientID)

	res, err := allowScript.Run(ctx, l.client, []string{key},
		l.cfg.MaxRequests, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		l.logger.Warn("Rate limit check failed", zap.String("key", key), zap.Error(err))
		return Decision{}, fmt.Errorf("failed to evaluate rate limit for %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply for %s: %v", key, res)
	}

	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		ttl = 0
	}

	return Decision{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
		Limit:   l.cfg.MaxRequests,
		ResetAt: l.now().Add(ttl),
	}, nil
}
