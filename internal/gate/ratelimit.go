package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateCounter counts calls per caller address and minute bucket. The
// in-memory implementation is only valid for a single instance; deploying
// more than one bridge behind a balancer needs the Redis-backed counter.
type RateCounter interface {
	Incr(ctx context.Context, addr string, minute int64) (int64, error)
}

type bucket struct {
	addr   string
	minute int64
}

// MemoryCounter is a process-local counter. Buckets older than five
// minutes are purged opportunistically on each increment.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[bucket]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[bucket]int64)}
}

func (c *MemoryCounter) Incr(_ context.Context, addr string, minute int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := bucket{addr: addr, minute: minute}
	c.buckets[b]++
	count := c.buckets[b]

	for k := range c.buckets {
		if k.minute < minute-5 {
			delete(c.buckets, k)
		}
	}
	return count, nil
}

// RedisCounter shares rate buckets across bridge instances. Key expiry
// replaces explicit purging.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(addr string, db int) (*RedisCounter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisCounter{client: client}, nil
}

func (c *RedisCounter) Incr(ctx context.Context, addr string, minute int64) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%d", addr, minute)
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	c.client.Expire(ctx, key, 5*time.Minute)
	return count, nil
}

// MinuteBucket returns the rate bucket for a wall-clock time.
func MinuteBucket(t time.Time) int64 {
	return t.Unix() / 60
}
