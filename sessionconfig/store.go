package sessionconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/nodesession-go/internal/logctx"
	"github.com/ggoodman/nodesession-go/storage"
)

var (
	// ErrStorageUnavailable means no persistence backend could be reached.
	// Reads degrade to absent; Set returns it.
	ErrStorageUnavailable = errors.New("sessionconfig: storage unavailable")

	// ErrStorageCorrupt means the stored bytes, or the backend document holding
	// them, could not be decoded. Reads degrade to absent.
	ErrStorageCorrupt = errors.New("sessionconfig: stored value corrupt")

	// ErrUnknownSlot is returned for slot names outside the known four.
	ErrUnknownSlot = errors.New("sessionconfig: unknown slot")

	// ErrWatchUnsupported is returned by Watch when the backend can't observe
	// external changes.
	ErrWatchUnsupported = errors.New("sessionconfig: backend does not support watch")
)

// Store reads and writes the four session configuration slots on top of a
// storage.Storage. The read path never fails: a missing backend, a backend
// error, or undecodable bytes all come back as absent.
//
// A Store is safe for concurrent use when its backend is. There is no
// atomicity across slots.
type Store struct {
	backend  storage.Storage
	defaults Defaults
	scope    string
	log      *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithDefaults sets the values Resolve falls back to.
func WithDefaults(d Defaults) Option {
	return func(s *Store) {
		s.defaults = d
	}
}

// WithScope selects the backend scope the slots live in.
func WithScope(scope string) Option {
	return func(s *Store) {
		s.scope = scope
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns a Store over backend. A nil backend is allowed and behaves as a
// host without persistence.
func New(backend storage.Storage, opts ...Option) *Store {
	s := &Store{backend: backend, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup is the outcome of reading one slot. Reason is nil for a clean hit or
// a clean miss; otherwise it records why the read degraded to absent and
// wraps ErrStorageUnavailable, ErrStorageCorrupt or ErrUnknownSlot.
type Lookup struct {
	Slot   Slot
	Value  string
	Found  bool
	Reason error
}

// Lookup reads slot and reports how the read went.
func (s *Store) Lookup(ctx context.Context, slot Slot) Lookup {
	res := Lookup{Slot: slot}
	ctx = s.opContext(ctx, "get", slot)

	if !slot.Valid() {
		res.Reason = fmt.Errorf("%w: %q", ErrUnknownSlot, string(slot))
		s.log.DebugContext(ctx, "slot.read.unknown")
		return res
	}
	if s.backend == nil {
		res.Reason = ErrStorageUnavailable
		s.log.DebugContext(ctx, "slot.read.unavailable")
		return res
	}

	item, err := s.backend.Get(ctx, slot.Key(), storage.WithScope(s.scope))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUnavailable):
			res.Reason = ErrStorageUnavailable
			s.log.DebugContext(ctx, "slot.read.unavailable")
		case errors.Is(err, storage.ErrCorrupt):
			res.Reason = fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
			s.log.WarnContext(ctx, "slot.read.corrupt", slog.String("err", err.Error()))
		default:
			res.Reason = fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
			s.log.WarnContext(ctx, "slot.read.fail", slog.String("err", err.Error()))
		}
		return res
	}
	if item == nil {
		return res
	}

	var v string
	if err := json.Unmarshal(item.Data, &v); err != nil {
		res.Reason = fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
		s.log.WarnContext(ctx, "slot.read.corrupt", slog.String("err", err.Error()))
		return res
	}
	if v == "" {
		return res
	}

	res.Value = v
	res.Found = true
	return res
}

// Get returns the persisted value of slot. ok is false when nothing usable is
// persisted.
func (s *Store) Get(ctx context.Context, slot Slot) (string, bool) {
	l := s.Lookup(ctx, slot)
	return l.Value, l.Found
}

// Set persists value under slot, replacing any earlier value. The value is not
// validated; an empty string is written as-is and reads back as absent.
func (s *Store) Set(ctx context.Context, slot Slot, value string) error {
	ctx = s.opContext(ctx, "set", slot)
	if !slot.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, string(slot))
	}
	if s.backend == nil {
		s.log.WarnContext(ctx, "slot.write.unavailable")
		return ErrStorageUnavailable
	}

	data, err := encodeString(value)
	if err != nil {
		return fmt.Errorf("sessionconfig: encode %s: %w", slot.Name(), err)
	}
	if err := s.backend.Set(ctx, slot.Key(), data, storage.WithScope(s.scope)); err != nil {
		s.log.WarnContext(ctx, "slot.write.fail", slog.String("err", err.Error()))
		if errors.Is(err, storage.ErrUnavailable) {
			return ErrStorageUnavailable
		}
		return fmt.Errorf("sessionconfig: set %s: %w", slot.Name(), err)
	}
	s.log.DebugContext(ctx, "slot.write.ok")
	return nil
}

// Clear removes slot. Clearing an absent slot, or clearing without a backend,
// is a no-op.
func (s *Store) Clear(ctx context.Context, slot Slot) error {
	ctx = s.opContext(ctx, "clear", slot)
	if !slot.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, string(slot))
	}
	if s.backend == nil {
		s.log.DebugContext(ctx, "slot.clear.unavailable")
		return nil
	}
	err := s.backend.Delete(ctx, storage.WithScope(s.scope), storage.WithKey(slot.Key()))
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			s.log.DebugContext(ctx, "slot.clear.unavailable")
			return nil
		}
		s.log.WarnContext(ctx, "slot.clear.fail", slog.String("err", err.Error()))
		return fmt.Errorf("sessionconfig: clear %s: %w", slot.Name(), err)
	}
	return nil
}

// Resolve returns the persisted value of slot, or its configured default when
// nothing is persisted. Slots without a default resolve to "".
func (s *Store) Resolve(ctx context.Context, slot Slot) string {
	v, _ := s.resolve(ctx, slot)
	return v
}

func (s *Store) resolve(ctx context.Context, slot Slot) (string, Source) {
	if v, ok := s.Get(ctx, slot); ok {
		return v, SourceStored
	}
	ctx = s.opContext(ctx, "resolve", slot)
	def, ok := s.defaults.For(slot)
	if !ok {
		s.log.DebugContext(ctx, "slot.resolve.none")
		return "", SourceNone
	}
	s.log.InfoContext(ctx, "slot.resolve.default")
	return def, SourceDefault
}

// Reset clears the node URL and application id, returning the client to its
// first-run setup state. Context and executor identity are left alone.
func (s *Store) Reset(ctx context.Context) error {
	return errors.Join(
		s.Clear(ctx, NodeURL),
		s.Clear(ctx, ApplicationID),
	)
}

// Watch calls fn whenever a slot's persisted value changes, including changes
// made by other processes sharing the backend. It blocks until ctx ends or the
// backend stops watching.
func (s *Store) Watch(ctx context.Context, fn func(Slot)) error {
	w, ok := s.backend.(storage.Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return w.Watch(ctx, func(key string) {
		slot, err := ParseSlot(key)
		if err != nil {
			return
		}
		fn(slot)
	}, storage.WithScope(s.scope))
}

// Typed accessors.

func (s *Store) NodeURL(ctx context.Context) (string, bool) { return s.Get(ctx, NodeURL) }
func (s *Store) SetNodeURL(ctx context.Context, v string) error {
	return s.Set(ctx, NodeURL, v)
}
func (s *Store) ClearNodeURL(ctx context.Context) error     { return s.Clear(ctx, NodeURL) }
func (s *Store) ResolveNodeURL(ctx context.Context) string { return s.Resolve(ctx, NodeURL) }

func (s *Store) ApplicationID(ctx context.Context) (string, bool) { return s.Get(ctx, ApplicationID) }
func (s *Store) SetApplicationID(ctx context.Context, v string) error {
	return s.Set(ctx, ApplicationID, v)
}
func (s *Store) ClearApplicationID(ctx context.Context) error { return s.Clear(ctx, ApplicationID) }
func (s *Store) ResolveApplicationID(ctx context.Context) string {
	return s.Resolve(ctx, ApplicationID)
}

func (s *Store) ContextID(ctx context.Context) (string, bool) { return s.Get(ctx, ContextID) }
func (s *Store) SetContextID(ctx context.Context, v string) error {
	return s.Set(ctx, ContextID, v)
}
func (s *Store) ClearContextID(ctx context.Context) error     { return s.Clear(ctx, ContextID) }
func (s *Store) ResolveContextID(ctx context.Context) string { return s.Resolve(ctx, ContextID) }

func (s *Store) ExecutorPublicKey(ctx context.Context) (string, bool) {
	return s.Get(ctx, ExecutorPublicKey)
}
func (s *Store) SetExecutorPublicKey(ctx context.Context, v string) error {
	return s.Set(ctx, ExecutorPublicKey, v)
}
func (s *Store) ClearExecutorPublicKey(ctx context.Context) error {
	return s.Clear(ctx, ExecutorPublicKey)
}
func (s *Store) ResolveExecutorPublicKey(ctx context.Context) string {
	return s.Resolve(ctx, ExecutorPublicKey)
}

func (s *Store) opContext(ctx context.Context, op string, slot Slot) context.Context {
	return logctx.WithOpData(ctx, &logctx.OpData{Name: op, Slot: slot.Key(), Scope: s.scope})
}

// encodeString produces a JSON string literal without HTML escaping, matching
// what browser clients write for the same keys.
func encodeString(v string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
