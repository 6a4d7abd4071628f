// Package recovery keeps the in-flight checkout snapshot written before the
// payment UI takes over, so a redirect or reload can rehydrate the order
// being assembled.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-checkout/internal/model"
)

// DefaultTTL is the session-scoped lifetime of a snapshot.
const DefaultTTL = 2 * time.Hour

// Store persists at most one snapshot per checkout session.
// Load returns (nil, nil) when nothing is stored.
type Store interface {
	Save(ctx context.Context, sessionID string, snap *model.RecoverySnapshot) error
	Load(ctx context.Context, sessionID string) (*model.RecoverySnapshot, error)
	Clear(ctx context.Context, sessionID string) error
}

// RedisStore keeps snapshots in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store. ttl <= 0 uses DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Save overwrites any previous snapshot for the session.
func (r *RedisStore) Save(ctx context.Context, sessionID string, snap *model.RecoverySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot failed: %w", err)
	}
	if err := r.client.Set(ctx, snapshotKey(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*model.RecoverySnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var snap model.RecoverySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot failed: %w", err)
	}
	return &snap, nil
}

func (r *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, snapshotKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func snapshotKey(sessionID string) string {
	return fmt.Sprintf("checkout:recovery:%s", sessionID)
}

// MemoryStore keeps snapshots in process memory. Used for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

// Save stores a serialized copy so later mutation of snap has no effect.
func (m *MemoryStore) Save(ctx context.Context, sessionID string, snap *model.RecoverySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot failed: %w", err)
	}
	m.mu.Lock()
	m.snaps[sessionID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*model.RecoverySnapshot, error) {
	m.mu.Lock()
	data, ok := m.snaps[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	var snap model.RecoverySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot failed: %w", err)
	}
	return &snap, nil
}

func (m *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.snaps, sessionID)
	m.mu.Unlock()
	return nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
