/**
 * @description
 * Redis-backed guards for the public webhook endpoints: a fixed-window rate
 * limiter and the fast-path payment dedupe. Both degrade to open when Redis
 * is unreachable; the durable idempotency guard lives in the database.
 */
package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisWebhookGuard implements distributed webhook rate limiting and payment
// dedupe using Redis.
type RedisWebhookGuard struct {
	client    redis.UniversalClient
	prefix    string
	dedupeTTL time.Duration
}

// NewRedisWebhookGuard creates a guard with the given key prefix and dedupe
// key lifetime.
func NewRedisWebhookGuard(client redis.UniversalClient, prefix string, dedupeTTL time.Duration) *RedisWebhookGuard {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "suncare:guard"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}

	return &RedisWebhookGuard{
		client:    client,
		prefix:    trimmedPrefix,
		dedupeTTL: dedupeTTL,
	}
}

// ConsumeRateLimit counts one hit for (scope, subject) in a fixed window and
// returns the running count plus a retry-after hint. A zero count means the
// limiter was skipped (unconfigured or blank inputs).
func (g *RedisWebhookGuard) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error) {
	if g == nil || g.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	key := fmt.Sprintf("%s:%s:%s", g.prefix, scope, subject)
	result, err := rateLimitScript.Run(ctx, g.client, []string{key}, window.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(result) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script reply of length %d", len(result))
	}

	current, _ := result[0].(int64)
	ttlMillis, _ := result[1].(int64)
	retryAfter := int(math.Ceil(float64(ttlMillis) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(current), retryAfter, nil
}

// MarkProcessed implements PaymentDeduper. It returns false when the
// transaction id was already marked within the dedupe TTL.
func (g *RedisWebhookGuard) MarkProcessed(ctx context.Context, transactionID string) (bool, error) {
	if g == nil || g.client == nil {
		return true, nil
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return true, nil
	}

	key := fmt.Sprintf("%s:payment_dedupe:%s", g.prefix, transactionID)
	return g.client.SetNX(ctx, key, 1, g.dedupeTTL).Result()
}

// Unmark releases a dedupe marker so a gateway retry is not dropped after a
// failed durable write. Called only when the marking request did not commit
// its transaction row.
func (g *RedisWebhookGuard) Unmark(ctx context.Context, transactionID string) error {
	if g == nil || g.client == nil {
		return nil
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil
	}

	key := fmt.Sprintf("%s:payment_dedupe:%s", g.prefix, transactionID)
	return g.client.Del(ctx, key).Err()
}
