package inbound

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pollLockKey = "helpdesk:inbound:poll-lock"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Lock makes one replica at a time drain the mailbox.
type Lock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLock builds a lock whose hold expires after ttl.
func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lock{client: client, ttl: ttl}
}

// Acquire takes the lock. The returned token is needed to release it.
func (l *Lock) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, pollLockKey, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release drops the lock if token still owns it.
func (l *Lock) Release(ctx context.Context, token string) error {
	return releaseScript.Run(ctx, l.client, []string{pollLockKey}, token).Err()
}
