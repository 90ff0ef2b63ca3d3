package devserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var errCallLimit = errors.New("maximum calls reached")

// registry tracks open loopback calls, mirrored to Redis when available.
type registry struct {
	calls map[string]*loopback
	mu    sync.RWMutex
	redis *redis.Client
	max   int
	ttl   time.Duration
}

func newRegistry(rdb *redis.Client, max int, ttl time.Duration) *registry {
	return &registry{
		calls: make(map[string]*loopback),
		redis: rdb,
		max:   max,
		ttl:   ttl,
	}
}

// add registers a call under a fresh id
func (r *registry) add(ctx context.Context, personaID string, lb *loopback) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.calls) >= r.max {
		return "", errCallLimit
	}

	id := uuid.New().String()
	r.calls[id] = lb

	if r.redis != nil {
		r.redis.HSet(ctx, "call:"+id, map[string]interface{}{
			"persona":    personaID,
			"created_at": time.Now().Format(time.RFC3339),
			"status":     "active",
		})
		r.redis.SAdd(ctx, "active_calls", id)
		r.redis.Expire(ctx, "call:"+id, r.ttl)
	}
	return id, nil
}

func (r *registry) remove(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[id]; !ok {
		return
	}
	delete(r.calls, id)

	if r.redis != nil {
		r.redis.Del(ctx, "call:"+id)
		r.redis.SRem(ctx, "active_calls", id)
	}
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// closeAll hangs up every call
func (r *registry) closeAll() {
	r.mu.Lock()
	calls := make([]*loopback, 0, len(r.calls))
	for id, lb := range r.calls {
		calls = append(calls, lb)
		delete(r.calls, id)
	}
	r.mu.Unlock()

	for _, lb := range calls {
		lb.close()
	}
}
