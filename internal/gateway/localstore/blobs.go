package localstore

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgredis "github.com/angelmondragon/cartsync/pkg/redis"
)

// Blobs persists the serialized cart of each session.
type Blobs interface {
	Load(ctx context.Context, sessionID string) ([]byte, bool, error)
	Save(ctx context.Context, sessionID string, data []byte) error
}

// MemoryBlobs keeps carts in process memory.
type MemoryBlobs struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{data: make(map[string][]byte)}
}

func (m *MemoryBlobs) Load(ctx context.Context, sessionID string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[sessionID]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (m *MemoryBlobs) Save(ctx context.Context, sessionID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[sessionID] = stored
	return nil
}

type redisKV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	CartKey(sessionID string) string
}

// RedisBlobs keeps carts in Redis, one key per session.
type RedisBlobs struct {
	client redisKV
	ttl    time.Duration
}

func NewRedisBlobs(client redisKV, ttl time.Duration) *RedisBlobs {
	return &RedisBlobs{client: client, ttl: ttl}
}

func (r *RedisBlobs) Load(ctx context.Context, sessionID string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.client.CartKey(sessionID))
	if errors.Is(err, pkgredis.ErrMissing) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (r *RedisBlobs) Save(ctx context.Context, sessionID string, data []byte) error {
	return r.client.Set(ctx, r.client.CartKey(sessionID), string(data), r.ttl)
}
