package signals

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper помнит обработанные события в течение TTL.
type Deduper interface {
	// Claim возвращает true, если событие встретилось впервые.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release снимает отметку, чтобы событие можно было обработать повторно.
	Release(ctx context.Context, eventID string) error
}

const dedupeKeyPrefix = "clinic-scheduling:signal:"

type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

// NewRedisDeduperFromURL разбирает REDIS_URL и проверяет соединение.
func NewRedisDeduperFromURL(ctx context.Context, rawURL string, ttl time.Duration) (*RedisDeduper, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewRedisDeduper(rdb, ttl), nil
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, dedupeKeyPrefix+eventID, 1, d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, dedupeKeyPrefix+eventID).Err()
}

func (d *RedisDeduper) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}

func (d *RedisDeduper) Close() error {
	return d.rdb.Close()
}

// MemoryDeduper — замена Redis для одного процесса.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[eventID]; ok {
		return false, nil
	}
	d.seen[eventID] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, eventID string) error {
	d.mu.Lock()
	delete(d.seen, eventID)
	d.mu.Unlock()
	return nil
}
