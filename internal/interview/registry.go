package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoActiveSession = errors.New("no active session")

// Registry holds the live session of each user. Put creates or replaces it.
type Registry interface {
	Get(ctx context.Context, userID int64) (*State, error)
	Put(ctx context.Context, st *State) error
	Discard(ctx context.Context, userID int64) error
}

type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[int64][]byte
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[int64][]byte)}
}

// Snapshots are stored encoded so callers never share a State value.
func (m *MemoryRegistry) Get(_ context.Context, userID int64) (*State, error) {
	m.mu.RLock()
	raw, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return UnmarshalState(raw)
}

func (m *MemoryRegistry) Put(_ context.Context, st *State) error {
	raw, err := st.Marshal()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[st.UserID] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) Discard(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	return nil
}

// RedisRegistry shares live sessions between server instances. Entries expire after
// ttl of inactivity; the response store still has the state.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) key(userID int64) string {
	return fmt.Sprintf("jobgrade:session:%d", userID)
}

func (r *RedisRegistry) Get(ctx context.Context, userID int64) (*State, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("get live session: %w", err)
	}
	return UnmarshalState(raw)
}

func (r *RedisRegistry) Put(ctx context.Context, st *State) error {
	raw, err := st.Marshal()
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(st.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("put live session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Discard(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("discard live session: %w", err)
	}
	return nil
}
