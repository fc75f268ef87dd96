package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger remembers consumed token ids so each token authorizes one run.
type Ledger interface {
	// Consume marks id as used until the given time. It returns false when
	// id was already consumed.
	Consume(ctx context.Context, id string, until time.Time) (bool, error)
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu    sync.Mutex
	used  map[string]time.Time
	clock func() time.Time
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{used: make(map[string]time.Time), clock: time.Now}
}

// Consume implements Ledger. Expired ids are swept on each call.
func (l *MemoryLedger) Consume(_ context.Context, id string, until time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	for k, exp := range l.used {
		if now.After(exp) {
			delete(l.used, k)
		}
	}
	if _, seen := l.used[id]; seen {
		return false, nil
	}
	l.used[id] = until
	return true, nil
}

// RedisLedger shares consumed ids between replicas with SET NX.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLedger stores consumed ids under the "abby:approval:used:" prefix.
func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client, prefix: "abby:approval:used:"}
}

// Consume implements Ledger. Keys expire with the token.
func (l *RedisLedger) Consume(ctx context.Context, id string, until time.Time) (bool, error) {
	ttl := time.Until(until)
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := l.client.SetNX(ctx, l.prefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis ledger error: %w", err)
	}
	return ok, nil
}
