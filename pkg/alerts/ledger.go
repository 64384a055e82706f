package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const ledgerPrefix = "bundle-alert"

func ledgerKey(episodeID, elementID string) string {
	return fmt.Sprintf("%s:%s:%s", ledgerPrefix, episodeID, elementID)
}

// RedisLedger keeps open alerts as SETNX keys with a TTL so abandoned
// alerts eventually expire.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Reserve(ctx context.Context, episodeID, elementID, alertID string) (bool, error) {
	return l.client.SetNX(ctx, ledgerKey(episodeID, elementID), alertID, l.ttl).Result()
}

func (l *RedisLedger) Release(ctx context.Context, episodeID, elementID string) error {
	return l.client.Del(ctx, ledgerKey(episodeID, elementID)).Err()
}

type MemoryLedger struct {
	mu   sync.Mutex
	open map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{open: make(map[string]string)}
}

func (l *MemoryLedger) Reserve(ctx context.Context, episodeID, elementID, alertID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey(episodeID, elementID)
	if _, ok := l.open[k]; ok {
		return false, nil
	}
	l.open[k] = alertID
	return true, nil
}

func (l *MemoryLedger) Release(ctx context.Context, episodeID, elementID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.open, ledgerKey(episodeID, elementID))
	return nil
}
