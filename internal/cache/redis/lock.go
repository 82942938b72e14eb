package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// releaseLua deletes a lease only if it still carries the caller's token, so
// an expired holder cannot release a lease taken over by another instance.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LeaseManager implements domain.Leaser with SET NX PX and a
// token-checked release. Keys are used verbatim.
type LeaseManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLeaseManager creates a LeaseManager backed by the given Client.
func NewLeaseManager(c *Client) *LeaseManager {
	return &LeaseManager{
		rdb:     c.Redis(),
		release: redis.NewScript(releaseLua),
	}
}

// Acquire takes the lease for key for ttl. It returns domain.ErrLeaseHeld if
// another holder owns it. The returned release function is idempotent.
func (lm *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLeaseHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{key}, token).Err()
		})
	}, nil
}

// Compile-time interface check.
var _ domain.Leaser = (*LeaseManager)(nil)
