// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for bounded caching with TTL support.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/nodesession-go/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems bounds the cache when New is given a non-positive size.
const DefaultMaxItems = 1024

// Storage implements the storage.Storage interface using in-memory storage
type Storage struct {
	mu     sync.RWMutex
	cache  *lru.Cache[string, *storage.StorageItem]
	closed bool
	stop   chan struct{}
}

// New creates a new in-memory storage implementation
func New(maxItems int) (*Storage, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}

	// Start background cleanup of expired items
	go s.cleanupExpired(5 * time.Minute)

	return s, nil
}

// Get retrieves data for a specific key within the given scope
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Scope, key)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrClosed
	}
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if item.IsExpired() {
		s.removeExpired(storageKey, item)
		return nil, nil
	}

	// Hand out a copy so callers can't mutate what we hold.
	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

// removeExpired drops storageKey only while it still holds item; a Set that
// landed after the read lock was released keeps its value.
func (s *Storage) removeExpired(storageKey string, item *storage.StorageItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cache.Peek(storageKey); ok && cur == item {
		s.cache.Remove(storageKey)
	}
}

// Set stores data for a specific key within the given scope
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Scope, key)

	now := time.Now()
	item := &storage.StorageItem{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.cache.Add(storageKey, item)
	return nil
}

// Delete removes data within the given scope
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Scope, *options.Key))
		return nil
	}

	prefix := scopePrefix(options.Scope)
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return nil
}

// Close closes the storage backend and releases resources
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	s.cache.Purge()
	return nil
}

func buildKey(scope, key string) string {
	return scopePrefix(scope) + "key:" + key
}

// scopePrefix carries the scope's length so no scope's prefix is a prefix of
// another's ("a" vs "a:b").
func scopePrefix(scope string) string {
	if scope == "" {
		return "global:"
	}
	return fmt.Sprintf("scope:%d:%s:", len(scope), scope)
}

// cleanupExpired periodically drops expired items until Close.
func (s *Storage) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, exists := s.cache.Peek(key); exists {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
