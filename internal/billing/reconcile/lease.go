package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease enforces that at most one reconciliation pass per (provider, loop)
// runs at a time (§5). A crashed holder's lease simply expires; there is no
// explicit release-on-crash handling needed beyond the TTL.
type Lease interface {
	// Acquire returns true if the lease was obtained, false if another
	// holder already owns it.
	Acquire(ctx context.Context, provider, loop string, ttl time.Duration) (bool, error)
	// Release gives up a held lease early, once the pass completes.
	Release(ctx context.Context, provider, loop string) error
}

// RedisLease implements Lease with SETNX-style locking over a Redis client,
// following pkg/store's Redis connection wrapper.
type RedisLease struct {
	client *redis.Client
}

// NewRedisLease wraps an existing Redis client.
func NewRedisLease(client *redis.Client) *RedisLease {
	return &RedisLease{client: client}
}

func leaseKey(provider, loop string) string {
	return fmt.Sprintf("billing:reconcile-lease:%s:%s", provider, loop)
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context, provider, loop string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKey(provider, loop), 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release implements Lease.
func (l *RedisLease) Release(ctx context.Context, provider, loop string) error {
	return l.client.Del(ctx, leaseKey(provider, loop)).Err()
}

// InProcessLease is an in-memory Lease for tests and single-process
// deployments. A mutex guards the map, so concurrent reconciliation loops
// in one process can share a single instance.
type InProcessLease struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewInProcessLease returns an empty InProcessLease.
func NewInProcessLease() *InProcessLease {
	return &InProcessLease{held: make(map[string]time.Time)}
}

// Acquire implements Lease.
func (l *InProcessLease) Acquire(_ context.Context, provider, loop string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := leaseKey(provider, loop)
	if expiry, ok := l.held[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	l.held[key] = time.Now().Add(ttl)
	return true, nil
}

// Release implements Lease.
func (l *InProcessLease) Release(_ context.Context, provider, loop string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, leaseKey(provider, loop))
	return nil
}
