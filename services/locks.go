package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrovale/bbhook/cache"
	"github.com/agrovale/bbhook/utils"
)

// BatchLocker serializes reconciliation runs that touch the same payment
// batch. Two deliveries for sibling items would otherwise both read a stale
// item count and race on the batch conclusion.
type BatchLocker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is the in-process locker, used standalone in single-instance
// deployments and as the fallback when Redis is unreachable.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*lockEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}, nil
}

// RedisBatchLocker serializes across instances with a SETNX lock. The TTL
// bounds how long a crashed holder can block siblings; reconciliation is
// idempotent, so a lost lock costs a redundant update at worst.
type RedisBatchLocker struct {
	cache    *cache.RedisCache
	fallback *KeyedMutex
	ttl      time.Duration
	retry    time.Duration
	logger   *utils.Logger
}

func NewRedisBatchLocker(c *cache.RedisCache) *RedisBatchLocker {
	return &RedisBatchLocker{
		cache:    c,
		fallback: NewKeyedMutex(),
		ttl:      30 * time.Second,
		retry:    50 * time.Millisecond,
		logger:   utils.NewLogger("batch-locker"),
	}
}

func (l *RedisBatchLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "bbhook:batch-lock:" + key
	owner := uuid.NewString()

	for {
		acquired, err := l.cache.AcquireLock(ctx, lockKey, owner, l.ttl)
		if err != nil {
			l.logger.Warn(ctx, "redis lock unavailable, using in-process lock", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			return l.fallback.Lock(ctx, key)
		}
		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		if err := l.cache.ReleaseLock(context.Background(), lockKey, owner); err != nil {
			l.logger.Warn(context.Background(), "failed to release batch lock, TTL will expire it", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}, nil
}
