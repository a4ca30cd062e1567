package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limits are the send caps per window. A cap of zero or less is unlimited.
type Limits struct {
	PerSecond int
	PerMinute int
	PerDay    int
}

// Scale returns the limits multiplied by f, keeping every finite cap at least 1.
func (l Limits) Scale(f float64) Limits {
	scale := func(n int) int {
		if n <= 0 {
			return n
		}
		v := int(math.Floor(float64(n) * f))
		if v < 1 {
			v = 1
		}
		return v
	}
	return Limits{PerSecond: scale(l.PerSecond), PerMinute: scale(l.PerMinute), PerDay: scale(l.PerDay)}
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterMs is RetryAfter in whole milliseconds, rounded up.
func (d Decision) RetryAfterMs() int64 {
	ms := d.RetryAfter.Milliseconds()
	if d.RetryAfter > time.Duration(ms)*time.Millisecond {
		ms++
	}
	return ms
}

// RateLimiter reserves one send against the shared budget.
type RateLimiter interface {
	CheckAndReserve(ctx context.Context) (Decision, error)
}

var windowLengths = [3]time.Duration{time.Second, time.Minute, 24 * time.Hour}

func (l Limits) caps() [3]int { return [3]int{l.PerSecond, l.PerMinute, l.PerDay} }

type window struct {
	count   int
	resetAt time.Time
}

// LocalRateLimiter keeps the three windows in process memory. Each window
// starts on its first use after the previous one expired.
type LocalRateLimiter struct {
	mu      sync.Mutex
	caps    [3]int
	windows [3]window
	now     func() time.Time
}

// NewLocalRateLimiter builds an in-process limiter. now may be nil.
func NewLocalRateLimiter(limits Limits, now func() time.Time) *LocalRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &LocalRateLimiter{caps: limits.caps(), now: now}
}

// CheckAndReserve denies with the time left on the first exhausted window,
// checked second, minute, day. Otherwise it counts one send in every window.
func (r *LocalRateLimiter) CheckAndReserve(_ context.Context) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for i := range r.windows {
		if !now.Before(r.windows[i].resetAt) {
			r.windows[i] = window{resetAt: now.Add(windowLengths[i])}
		}
	}
	for i, w := range r.windows {
		if r.caps[i] > 0 && w.count >= r.caps[i] {
			return Decision{Allowed: false, RetryAfter: w.resetAt.Sub(now)}, nil
		}
	}
	for i := range r.windows {
		r.windows[i].count++
	}
	return Decision{Allowed: true}, nil
}

// Lua script for atomic multi-window check-and-increment. A key's TTL is the
// window's remaining time; an expired key is a reset window.
const reserveLuaScript = `
for i = 1, 3 do
    local cap = tonumber(ARGV[i])
    if cap > 0 then
        local current = tonumber(redis.call("GET", KEYS[i]) or "0")
        if current >= cap then
            local ttl = redis.call("PTTL", KEYS[i])
            if ttl < 0 then
                ttl = tonumber(ARGV[i + 3])
            end
            return {0, i, ttl}
        end
    end
end

for i = 1, 3 do
    local n = redis.call("INCR", KEYS[i])
    if n == 1 then
        redis.call("PEXPIRE", KEYS[i], ARGV[i + 3])
    end
end

return {1, 0, 0}
`

var reserveScript = redis.NewScript(reserveLuaScript)

// RedisRateLimiter shares one budget across every worker process.
type RedisRateLimiter struct {
	client redis.Cmdable
	keys   []string
	caps   [3]int
}

// NewRedisRateLimiter builds a limiter whose counters live under prefix.
func NewRedisRateLimiter(client redis.Cmdable, prefix string, limits Limits) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		keys: []string{
			fmt.Sprintf("ratelimit:%s:sec", prefix),
			fmt.Sprintf("ratelimit:%s:min", prefix),
			fmt.Sprintf("ratelimit:%s:day", prefix),
		},
		caps: limits.caps(),
	}
}

// CheckAndReserve implements RateLimiter.
func (r *RedisRateLimiter) CheckAndReserve(ctx context.Context) (Decision, error) {
	result, err := reserveScript.Run(ctx, r.client, r.keys,
		r.caps[0], r.caps[1], r.caps[2],
		windowLengths[0].Milliseconds(), windowLengths[1].Milliseconds(), windowLengths[2].Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("rate limit check: unexpected reply %v", result)
	}
	if result[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(result[2]) * time.Millisecond}, nil
}

// Usage returns the current count of each window, keyed sec/min/day.
func (r *RedisRateLimiter) Usage(ctx context.Context) (map[string]int64, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(r.keys))
	for i, k := range r.keys {
		cmds[i] = pipe.Get(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("rate limit usage: %w", err)
	}
	out := make(map[string]int64, 3)
	for i, name := range []string{"sec", "min", "day"} {
		n, _ := cmds[i].Int64()
		out[name] = n
	}
	return out, nil
}
