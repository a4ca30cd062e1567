package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ownerScript runs a command on KEYS[1] only while it still holds ARGV[1].
// ARGV[2] is "del" or a PEXPIRE value in milliseconds.
var ownerScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if ARGV[2] == "del" then
	return redis.call("DEL", KEYS[1])
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])
`)

// ErrNotOwner is returned when extending a lock that expired or was taken
// over by another holder.
var ErrNotOwner = errors.New("distlock: lock no longer owned")

// RedisLock is a SET NX PX lease. Each instance carries a random token so
// one holder can never release or extend another's lease.
type RedisLock struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLock creates a lease on "lock:<key>".
func NewRedisLock(client redis.Cmdable, key string, ttl time.Duration) *RedisLock {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return &RedisLock{client: client, key: "lock:" + key, token: hex.EncodeToString(b[:]), ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	return ownerScript.Run(ctx, l.client, []string{l.key}, l.token, "del").Err()
}

// Extend resets the lease to ttl from now.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := ownerScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", l.key, ErrNotOwner)
	}
	return nil
}

// Refresh extends the lease by its original ttl.
func (l *RedisLock) Refresh(ctx context.Context) error { return l.Extend(ctx, l.ttl) }

// TTL is the lease length.
func (l *RedisLock) TTL() time.Duration { return l.ttl }
