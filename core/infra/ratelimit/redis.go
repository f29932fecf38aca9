package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// Redis is a fixed-window counter shared by every gateway replica.
type Redis struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedis admits limit requests per window for each key.
func NewRedis(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if window <= 0 {
		window = time.Second
	}
	if prefix == "" {
		prefix = "inactu:ratelimit:"
	}
	return &Redis{client: client, prefix: prefix, limit: limit, window: window, now: time.Now}, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	if r.limit <= 0 {
		return Decision{Allowed: true, Limit: r.limit, Remaining: r.limit}, nil
	}
	result, err := allowScript.Run(ctx, r.client, []string{r.prefix + key}, r.window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, err
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return Decision{}, errors.New("unexpected redis rate limit response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return Decision{}, errors.New("invalid redis counter response")
	}
	ttl, _ := values[1].(int64)
	resetAt := r.now()
	if ttl > 0 {
		resetAt = resetAt.Add(time.Duration(ttl) * time.Millisecond)
	}
	remaining := r.limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   current <= int64(r.limit),
		Limit:     r.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Fallback consults primary and falls back to secondary when primary errors.
type Fallback struct {
	Primary   Limiter
	Secondary Limiter
	OnError   func(error)
}

func (f Fallback) Allow(ctx context.Context, key string) (Decision, error) {
	if f.Primary != nil {
		d, err := f.Primary.Allow(ctx, key)
		if err == nil {
			return d, nil
		}
		if f.OnError != nil {
			f.OnError(err)
		}
	}
	if f.Secondary == nil {
		return Decision{Allowed: true}, nil
	}
	return f.Secondary.Allow(ctx, key)
}
