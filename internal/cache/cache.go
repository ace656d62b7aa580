package cache

import (
	"context"
	"time"
)

// BytesCache — минимальный контракт кэша "байты по ключу".
// Реализация — rediscache; в тестах подменяется моком.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
