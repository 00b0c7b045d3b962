package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CancelRegistry is the cancellation side channel. Job handlers consult it at
// entry and before each content-generator call; a set flag means abort
// cleanly at the next checkpoint. It never interrupts in-flight work.
type CancelRegistry interface {
	RequestCancel(ctx context.Context, deckID uuid.UUID) error
	IsCancelRequested(ctx context.Context, deckID uuid.UUID) (bool, error)
	Clear(ctx context.Context, deckID uuid.UUID) error
}

type redisCancelRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCancelRegistry(addr string) (CancelRegistry, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &redisCancelRegistry{rdb: rdb, ttl: 24 * time.Hour}, nil
}

func cancelKey(deckID uuid.UUID) string { return "deck:cancel:" + deckID.String() }

func (r *redisCancelRegistry) RequestCancel(ctx context.Context, deckID uuid.UUID) error {
	return r.rdb.Set(ctx, cancelKey(deckID), "1", r.ttl).Err()
}

func (r *redisCancelRegistry) IsCancelRequested(ctx context.Context, deckID uuid.UUID) (bool, error) {
	n, err := r.rdb.Exists(ctx, cancelKey(deckID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisCancelRegistry) Clear(ctx context.Context, deckID uuid.UUID) error {
	return r.rdb.Del(ctx, cancelKey(deckID)).Err()
}

// MemoryCancelRegistry backs single-instance deployments and tests.
type MemoryCancelRegistry struct {
	mu    sync.RWMutex
	flags map[uuid.UUID]bool
}

func NewMemoryCancelRegistry() *MemoryCancelRegistry {
	return &MemoryCancelRegistry{flags: make(map[uuid.UUID]bool)}
}

func (r *MemoryCancelRegistry) RequestCancel(ctx context.Context, deckID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[deckID] = true
	return nil
}

func (r *MemoryCancelRegistry) IsCancelRequested(ctx context.Context, deckID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags[deckID], nil
}

func (r *MemoryCancelRegistry) Clear(ctx context.Context, deckID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, deckID)
	return nil
}
