// Package lock provides the process-wide mutual exclusion that keeps at most
// one control-loop pass in flight, backed by redis SET NX with a TTL so a
// crashed holder cannot wedge the loop.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when the caller still owns it.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
else
  return 0
end
`

type Mutex struct {
	rdb  *redis.Client
	key  string
	ttl  time.Duration
	poll time.Duration

	mu    sync.Mutex
	token string
}

func New(rdb *redis.Client, key string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Mutex{rdb: rdb, key: key, ttl: ttl, poll: 250 * time.Millisecond}
}

// TryAcquire attempts to take the lock, retrying until wait elapses. It
// returns (false, nil) when another holder keeps the lock for the whole
// window; contention is expected behavior, not an error.
func (m *Mutex) TryAcquire(ctx context.Context, wait time.Duration) (bool, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := m.rdb.SetNX(ctx, m.key, token, m.ttl).Result()
		if err != nil {
			return false, err
		}
		if ok {
			m.mu.Lock()
			m.token = token
			m.mu.Unlock()
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

// Release gives the lock back. Only the current owner's token releases; a
// lock that expired and was re-acquired elsewhere is left alone.
func (m *Mutex) Release(ctx context.Context) error {
	m.mu.Lock()
	token := m.token
	m.token = ""
	m.mu.Unlock()
	if token == "" {
		return nil
	}
	return m.rdb.Eval(ctx, releaseScript, []string{m.key}, token).Err()
}
