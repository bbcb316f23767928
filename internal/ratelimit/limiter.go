// Package ratelimit throttles task creation per owner with a token bucket
// kept in Redis, so every API replica shares the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Take call.
type Decision struct {
	Allowed   bool
	Remaining float64
}

// OwnerLimiter hands out creation tokens per task owner.
type OwnerLimiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewOwnerLimiter builds a limiter; idle buckets expire after ttl.
func NewOwnerLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *OwnerLimiter {
	return &OwnerLimiter{
		client:   client,
		prefix:   "rl:owner:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Take consumes one token from owner's bucket if available.
func (l *OwnerLimiter) Take(ctx context.Context, owner string) (Decision, error) {
	res, err := bucketScript.Run(ctx, l.client, []string{l.prefix + owner},
		l.capacity, l.refill, l.now().UnixMilli(), l.ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket for %s: %w", owner, err)
	}
	d, err := parseReply(res)
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket for %s: %w", owner, err)
	}
	return d, nil
}

// parseReply decodes {allowed, tokens}; Lua numbers come back as integers,
// so the script sends the fractional token count as a string.
func parseReply(res []interface{}) (Decision, error) {
	if len(res) < 2 {
		return Decision{}, fmt.Errorf("short reply %v", res)
	}
	allowed, ok := res[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected allowed flag %T", res[0])
	}

	var remaining float64
	switch v := res[1].(type) {
	case int64:
		remaining = float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Decision{}, fmt.Errorf("parse remaining tokens: %w", err)
		}
		remaining = f
	default:
		return Decision{}, fmt.Errorf("unexpected remaining tokens %T", res[1])
	}
	return Decision{Allowed: allowed == 1, Remaining: remaining}, nil
}

var bucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', KEYS[1], 'tokens', 'last_ms')
local tokens = tonumber(data[1]) or capacity
local last = tonumber(data[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - last) / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', KEYS[1], ttl) end
return {allowed, tostring(tokens)}
`)
