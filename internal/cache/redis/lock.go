package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// lockPrefix namespaces purchase-lock keys so they never collide with cache
// entries in a shared database.
const lockPrefix = "escrowd:lock:"

// releaseTimeout bounds the background unlock call after the holder's own
// context is gone.
const releaseTimeout = 5 * time.Second

// releaseScript deletes a lock key only when its value still matches the
// holder's token, so an expired holder cannot free a lock someone else has
// since acquired.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager with SETNX plus a token-checked
// Lua release. The TTL is the only liveness mechanism; a crashed holder's
// lock simply expires.
type LockManager struct {
	rdb *redis.Client
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

// Acquire takes the distributed lock for key, or reports domain.ErrLockHeld
// when another holder has it. The returned release function is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	name := lockPrefix + key

	ok, err := lm.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The caller's context may already be cancelled by the time the
			// lock is released.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(rctx, lm.rdb, []string{name}, token).Err()
		})
	}
	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
