// Package storage provides the key/value persistence contract that session
// configuration and credential accessors are built on.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the interface every persistence backend implements.
type Storage interface {
	// Get retrieves data for a specific key within the given scope
	// Returns nil StorageItem if key doesn't exist or has expired
	// Returns error only for legitimate storage system failures
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data for a specific key within the given scope
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the given scope
	// If no key specified via WithKey, removes the entire scope
	Delete(ctx context.Context, opts ...Option) error

	// Close closes the storage backend and releases resources
	Close() error
}

// Watcher is implemented by backends that can observe changes made outside
// the current process. fn receives the unscoped key that changed. Watch
// blocks until ctx is done or the backend is closed.
type Watcher interface {
	Watch(ctx context.Context, fn func(key string), opts ...Option) error
}

// StorageItem represents a stored piece of data with metadata
type StorageItem struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired
func (si *StorageItem) IsExpired() bool {
	return si.ExpiresAt != nil && time.Now().After(*si.ExpiresAt)
}

// Option configures storage operations
type Option func(*Options)

// Options contains configuration for storage operations
type Options struct {
	Scope string         // Optional: named region of the backend ("" = default scope)
	Key   *string        // Optional: specific key (for Delete operations)
	TTL   *time.Duration // Optional: time-to-live for the data
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithScope selects a named region of the backend. Two scopes never observe
// each other's keys.
func WithScope(scope string) Option {
	return func(opts *Options) {
		opts.Scope = scope
	}
}

// WithKey specifies a specific key for Delete operations
// If not provided, Delete removes the entire scope
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// Error types
var (
	// ErrUnavailable is returned when no persistence backend exists in the
	// current execution context.
	ErrUnavailable = errors.New("storage: backend unavailable")

	// ErrClosed is returned by operations on a backend after Close.
	ErrClosed = errors.New("storage: backend closed")

	// ErrCorrupt is returned when persisted data exists but cannot be decoded.
	ErrCorrupt = errors.New("storage: corrupt data")
)

// Unavailable is a Storage with nothing behind it. Every operation returns
// ErrUnavailable. It stands in for hosts without any persistence.
type Unavailable struct{}

func (Unavailable) Get(context.Context, string, ...Option) (*StorageItem, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Set(context.Context, string, []byte, ...Option) error { return ErrUnavailable }

func (Unavailable) Delete(context.Context, ...Option) error { return ErrUnavailable }

func (Unavailable) Close() error { return nil }

var _ Storage = Unavailable{}
