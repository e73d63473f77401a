package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/nodesession-go/storage"
)

// DefaultTokenKey is the storage key browser clients keep the access token under.
const DefaultTokenKey = "access-token"

// Accessor yields the currently active bearer token, if any.
type Accessor interface {
	RawCredential(ctx context.Context) (string, bool)
}

// AccessorFunc adapts a function to Accessor.
type AccessorFunc func(ctx context.Context) (string, bool)

func (f AccessorFunc) RawCredential(ctx context.Context) (string, bool) { return f(ctx) }

// StaticAccessor always yields the same token. The empty string is absent.
type StaticAccessor string

func (s StaticAccessor) RawCredential(context.Context) (string, bool) {
	return string(s), s != ""
}

// StorageAccessor reads a JSON string encoded token from a storage backend,
// with the same degrade-to-absent rules as session configuration slots.
type StorageAccessor struct {
	Storage storage.Storage
	Key     string // DefaultTokenKey when empty
	Scope   string
	Logger  *slog.Logger
}

func (a *StorageAccessor) key() string {
	if a.Key == "" {
		return DefaultTokenKey
	}
	return a.Key
}

func (a *StorageAccessor) log() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// RawCredential implements Accessor.
func (a *StorageAccessor) RawCredential(ctx context.Context) (string, bool) {
	if a.Storage == nil {
		return "", false
	}
	item, err := a.Storage.Get(ctx, a.key(), storage.WithScope(a.Scope))
	if err != nil {
		if !errors.Is(err, storage.ErrUnavailable) {
			a.log().WarnContext(ctx, "credential.read.fail", slog.String("key", a.key()), slog.String("err", err.Error()))
		}
		return "", false
	}
	if item == nil {
		return "", false
	}
	var tok string
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		a.log().WarnContext(ctx, "credential.read.corrupt", slog.String("key", a.key()), slog.String("err", err.Error()))
		return "", false
	}
	return tok, tok != ""
}

// SaveCredential persists token for later RawCredential calls.
func (a *StorageAccessor) SaveCredential(ctx context.Context, token string) error {
	if a.Storage == nil {
		return storage.ErrUnavailable
	}
	b, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("credential: encode token: %w", err)
	}
	return a.Storage.Set(ctx, a.key(), b, storage.WithScope(a.Scope))
}

// ClearCredential removes the stored token. Clearing an absent token is a no-op.
func (a *StorageAccessor) ClearCredential(ctx context.Context) error {
	if a.Storage == nil {
		return nil
	}
	return a.Storage.Delete(ctx, storage.WithScope(a.Scope), storage.WithKey(a.key()))
}

var (
	_ Accessor = AccessorFunc(nil)
	_ Accessor = StaticAccessor("")
	_ Accessor = (*StorageAccessor)(nil)
)
