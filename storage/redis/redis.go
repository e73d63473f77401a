// Package redis provides a Redis-based implementation of the storage.Storage
// interface, for clients that keep their session configuration on a shared
// Redis instance rather than on local disk.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/nodesession-go/storage"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis storage
type Config struct {
	// Client is the Redis client instance. When nil, one is created from Addr.
	Client *redis.Client

	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`

	// DB selects the logical database. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`

	// KeyPrefix is the prefix for all Redis keys. ENV: NODESESSION_KEY_PREFIX
	// Default: "nodesession:"
	KeyPrefix string `env:"NODESESSION_KEY_PREFIX,default=nodesession:"`
}

// Storage implements the storage.Storage interface using Redis
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem represents the structure stored in Redis
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	client := config.Client
	if client == nil {
		addr := config.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr, DB: config.DB})
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "nodesession:"
	}

	return &Storage{
		client:    client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// NewFromEnv builds a Storage using envdecode to populate Config and pings
// the server so callers learn about an unreachable Redis up front.
func NewFromEnv(ctx context.Context) (*Storage, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return s, nil
}

// Get retrieves data for a specific key within the given scope
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	redisKey := s.buildKey(options.Scope, key)

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, s.wrapErr(fmt.Errorf("failed to get key %s: %w", redisKey, err))
	}

	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("%w: unmarshal stored data: %v", storage.ErrCorrupt, err)
	}

	storageItem := &storage.StorageItem{
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}

	// Redis expires keys lazily; guard against reading one in the window.
	if storageItem.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}

	return storageItem, nil
}

// Set stores data for a specific key within the given scope
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	redisKey := s.buildKey(options.Scope, key)

	now := time.Now()
	item := storedItem{
		Data:      data,
		CreatedAt: now,
	}

	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	itemData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	if err := s.client.Set(ctx, redisKey, itemData, redisTTL).Err(); err != nil {
		return s.wrapErr(fmt.Errorf("failed to set key %s: %w", redisKey, err))
	}

	return nil
}

// Delete removes data within the given scope
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	if options.Key != nil {
		redisKey := s.buildKey(options.Scope, *options.Key)
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return s.wrapErr(fmt.Errorf("failed to delete key %s: %w", redisKey, err))
		}
		return nil
	}

	pattern := globEscape(s.scopePrefix(options.Scope)) + "*"
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return s.wrapErr(fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err))
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return s.wrapErr(fmt.Errorf("failed to delete keys: %w", err))
		}
	}

	return nil
}

// Close closes the storage backend and releases resources
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) buildKey(scope, key string) string {
	return s.scopePrefix(scope) + key
}

// scopePrefix carries the scope's length so no scope's prefix is a prefix of
// another's ("a" vs "a:b").
func (s *Storage) scopePrefix(scope string) string {
	if scope == "" {
		return s.keyPrefix + "global:"
	}
	return s.keyPrefix + "scope:" + strconv.Itoa(len(scope)) + ":" + scope + ":"
}

// globEscape quotes the characters SCAN MATCH treats as pattern syntax.
func globEscape(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// wrapErr marks client-closed failures with storage.ErrClosed.
func (s *Storage) wrapErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %v", storage.ErrClosed, err)
	}
	return err
}

// scanKeys uses Redis SCAN to find all keys matching a pattern
func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

var _ storage.Storage = (*Storage)(nil)
