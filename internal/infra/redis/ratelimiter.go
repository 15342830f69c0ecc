package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"github.com/campaignforge/bulkmailer/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

// windowSeconds is the lifetime of an hourly counter key. Keys expire on
// their own so a quiet account leaves nothing behind.
const windowSeconds = 3600

var incrementScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter enforces each account's hourly cap with a shared counter,
// so multiple dispatcher processes see the same window.
type RedisRateLimiter struct {
	client *goredis.Client
	now    func() time.Time
	script *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, time.Now)
}

func newRedisRateLimiter(client *goredis.Client, nowFn func() time.Time) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &RedisRateLimiter{
		client: client,
		now:    nowFn,
		script: incrementScript,
	}, nil
}

func (r *RedisRateLimiter) CheckRateLimit(ctx context.Context, account *domain.Account) (ratelimit.Decision, error) {
	if account == nil {
		return ratelimit.Decision{}, fmt.Errorf("%w: account is required", domain.ErrValidation)
	}
	if account.MaxPerHour <= 0 {
		return ratelimit.Decision{CanSend: true}, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	count, err := r.client.Get(ctx, r.hourKey(account.ID)).Int()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ratelimit.Decision{CanSend: true}, nil
		}
		return ratelimit.Decision{}, fmt.Errorf("failed to read rate limit counter: %w", err)
	}

	if count >= account.MaxPerHour {
		return ratelimit.Decision{
			CanSend: false,
			Reason:  fmt.Sprintf("hourly limit reached (%d/%d)", count, account.MaxPerHour),
		}, nil
	}

	return ratelimit.Decision{CanSend: true}, nil
}

func (r *RedisRateLimiter) IncrementSentCount(ctx context.Context, accountID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.script.Run(ctx, r.client, []string{r.hourKey(accountID)}, windowSeconds).Err(); err != nil {
		return fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	return nil
}

func (r *RedisRateLimiter) hourKey(accountID string) string {
	return fmt.Sprintf("ratelimit:account:%s:%s", accountID, r.now().UTC().Format("2006010215"))
}
