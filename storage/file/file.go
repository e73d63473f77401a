// Package file provides a storage.Storage backed by a single JSON document on
// local disk. It is the durable backend for command line and desktop clients:
// values survive process restarts the way browser local storage survives page
// reloads.
//
// Characteristics
//
//	Durability        : fsync'd temp file + atomic rename per write
//	Horizontal scale  : no (one host, many processes)
//	Change feed       : Watch via fsnotify, including writes from other processes
//	Concurrency       : safe within a process (mutex); last write wins across processes
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/nodesession-go/storage"
)

// Storage implements storage.Storage and storage.Watcher on a JSON file.
type Storage struct {
	path string
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Option customizes a Storage.
type Option func(*Storage)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Storage) {
		if l != nil {
			s.log = l
		}
	}
}

type document struct {
	Version int                               `json:"version"`
	Scopes  map[string]map[string]*storedItem `json:"scopes"`
}

type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New returns a Storage persisting to path. The parent directory is created
// if needed; the file itself is created on first write.
func New(path string, opts ...Option) (*Storage, error) {
	if path == "" {
		return nil, errors.New("file storage: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("file storage: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("file storage: create directory: %w", err)
	}
	s := &Storage{path: abs, log: slog.Default(), done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the absolute path of the backing file.
func (s *Storage) Path() string { return s.path }

// Get retrieves data for a specific key within the given scope
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	item, ok := doc.Scopes[options.Scope][key]
	if !ok || item == nil {
		return nil, nil
	}
	out := &storage.StorageItem{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}
	if out.IsExpired() {
		return nil, nil
	}
	return out, nil
}

// Set stores data for a specific key within the given scope
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	now := time.Now()
	item := &storedItem{Data: append([]byte(nil), data...), CreatedAt: now}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	return s.mutate(func(doc *document) {
		scope := doc.Scopes[options.Scope]
		if scope == nil {
			scope = make(map[string]*storedItem)
			doc.Scopes[options.Scope] = scope
		}
		scope[key] = item
	})
}

// Delete removes data within the given scope
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	return s.mutate(func(doc *document) {
		if options.Key == nil {
			delete(doc.Scopes, options.Scope)
			return
		}
		if scope := doc.Scopes[options.Scope]; scope != nil {
			delete(scope, *options.Key)
			if len(scope) == 0 {
				delete(doc.Scopes, options.Scope)
			}
		}
	})
}

// Close stops any running watchers. The file is left in place.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Watch invokes fn with each key in the selected scope whose value changes on
// disk, whichever process made the change. It returns nil when the Storage is
// closed and ctx.Err() when ctx ends.
func (s *Storage) Watch(ctx context.Context, fn func(key string), opts ...storage.Option) error {
	options := storage.Apply(opts...)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file storage: watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	// Watch the directory: atomic renames replace the file's inode.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("file storage: watch %s: %w", filepath.Dir(s.path), err)
	}

	last := s.snapshotScope(options.Scope)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filepath.Base(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			cur := s.snapshotScope(options.Scope)
			for _, key := range changedKeys(last, cur) {
				fn(key)
			}
			last = cur
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.DebugContext(ctx, "file.watch.error", slog.String("err", err.Error()))
		}
	}
}

// snapshotScope returns the raw bytes of every live key in scope. A file that
// can't be read yields an empty snapshot.
func (s *Storage) snapshotScope(scope string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	doc, err := s.load()
	if err != nil {
		return out
	}
	for k, item := range doc.Scopes[scope] {
		if item == nil {
			continue
		}
		if item.ExpiresAt != nil && time.Now().After(*item.ExpiresAt) {
			continue
		}
		out[k] = string(item.Data)
	}
	return out
}

func changedKeys(before, after map[string]string) []string {
	var keys []string
	for k, v := range after {
		if old, ok := before[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// mutate runs fn against the current document and writes the result back.
// A corrupt document is replaced rather than blocking every future write.
func (s *Storage) mutate(fn func(doc *document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	doc, err := s.load()
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return err
		}
		s.log.Warn("file.document.replaced", slog.String("path", s.path), slog.String("err", err.Error()))
		doc = newDocument()
	}
	s.pruneExpired(doc)
	fn(doc)
	return s.write(doc)
}

func newDocument() *document {
	return &document{Version: 1, Scopes: make(map[string]map[string]*storedItem)}
}

// load reads the document; callers hold s.mu.
func (s *Storage) load() (*document, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newDocument(), nil
		}
		return nil, fmt.Errorf("file storage: read %s: %w", s.path, err)
	}
	if len(b) == 0 {
		return newDocument(), nil
	}
	doc := newDocument()
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	if doc.Scopes == nil {
		doc.Scopes = make(map[string]map[string]*storedItem)
	}
	return doc, nil
}

func (s *Storage) pruneExpired(doc *document) {
	now := time.Now()
	for name, scope := range doc.Scopes {
		for k, item := range scope {
			if item == nil || (item.ExpiresAt != nil && now.After(*item.ExpiresAt)) {
				delete(scope, k)
			}
		}
		if len(scope) == 0 {
			delete(doc.Scopes, name)
		}
	}
}

// write replaces the file atomically; callers hold s.mu.
func (s *Storage) write(doc *document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("file storage: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("file storage: temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file storage: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file storage: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("file storage: close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("file storage: chmod: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("file storage: rename: %w", err)
	}
	return nil
}

var (
	_ storage.Storage = (*Storage)(nil)
	_ storage.Watcher = (*Storage)(nil)
)
