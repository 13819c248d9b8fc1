package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements StorageBackend using Redis.
// It provides distributed session storage suitable for multi-node deployments.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all session keys (default: "docmind:session:").
	Prefix string
	// SessionTTL is the session expiry duration (0 = never expire).
	SessionTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend creates a new Redis storage backend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "docmind:session:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    cfg.SessionTTL,
	}, nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "docmind:session:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Key helpers
func (b *RedisBackend) metaKey(sessionID string) string {
	return b.prefix + "meta:" + sessionID
}

func (b *RedisBackend) stateKey(sessionID string) string {
	return b.prefix + "state:" + sessionID
}

func (b *RedisBackend) projectIndexKey(project string) string {
	return b.prefix + "project:" + project
}

func (b *RedisBackend) allIndexKey() string {
	return b.prefix + "all"
}

// transientErr wraps a Redis failure as a retryable persistence error.
func transientErr(op string, err error) error {
	return &PersistenceError{Op: op, Transient: true, Err: err}
}

// SaveMeta creates or updates session metadata and its indexes.
func (b *RedisBackend) SaveMeta(ctx context.Context, meta *SessionMeta) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStorageClosed
	}
	b.mu.RUnlock()

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.metaKey(meta.ID), data, b.ttl)
	pipe.SAdd(ctx, b.projectIndexKey(meta.Project), meta.ID)
	pipe.SAdd(ctx, b.allIndexKey(), meta.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return transientErr("save meta", err)
	}
	return nil
}

// LoadMeta retrieves session metadata by ID.
func (b *RedisBackend) LoadMeta(ctx context.Context, sessionID string) (*SessionMeta, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	b.mu.RUnlock()

	data, err := b.client.Get(ctx, b.metaKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, transientErr("load meta", err)
	}

	var meta SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &meta, nil
}

// ListMetas returns session metadata matching the filter options, most
// recently used first. An empty project matches all projects.
func (b *RedisBackend) ListMetas(ctx context.Context, project string, opts ListOptions) ([]*SessionMeta, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	b.mu.RUnlock()

	indexKey := b.allIndexKey()
	if project != "" {
		indexKey = b.projectIndexKey(project)
	}

	sessionIDs, err := b.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, transientErr("list sessions", err)
	}

	metas := make([]*SessionMeta, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		meta, err := b.LoadMeta(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Session expired or was deleted, clean up index
				b.client.SRem(ctx, indexKey, id)
				continue
			}
			return nil, err
		}
		if opts.Status != "" && meta.Status != opts.Status {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastUsedAt.After(metas[j].LastUsedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(metas) {
			return []*SessionMeta{}, nil
		}
		metas = metas[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(metas) {
		metas = metas[:opts.Limit]
	}

	return metas, nil
}

// SaveState writes the full session state document.
func (b *RedisBackend) SaveState(ctx context.Context, sessionID string, state *SessionState) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStorageClosed
	}
	b.mu.RUnlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	if err := b.client.Set(ctx, b.stateKey(sessionID), data, b.ttl).Err(); err != nil {
		return transientErr("save state", err)
	}
	return nil
}

// LoadState retrieves the full session state document.
func (b *RedisBackend) LoadState(ctx context.Context, sessionID string) (*SessionState, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	b.mu.RUnlock()

	data, err := b.client.Get(ctx, b.stateKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, transientErr("load state", err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &state, nil
}

// DeleteSession removes a session and all its data.
func (b *RedisBackend) DeleteSession(ctx context.Context, sessionID string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStorageClosed
	}
	b.mu.RUnlock()

	// Load metadata to find the project index entry
	meta, err := b.LoadMeta(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.metaKey(sessionID))
	pipe.Del(ctx, b.stateKey(sessionID))
	pipe.SRem(ctx, b.allIndexKey(), sessionID)
	if meta != nil {
		pipe.SRem(ctx, b.projectIndexKey(meta.Project), sessionID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return transientErr("delete session", err)
	}
	return nil
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStorageClosed
	}
	b.mu.RUnlock()

	return b.client.Ping(ctx).Err()
}
