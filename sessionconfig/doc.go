// Package sessionconfig persists the client-side session configuration: the
// node URL, application id, context id, and context executor public key.
//
// Each value lives in its own slot under a stable key (NODE_URL,
// APPLICATION_ID, CONTEXT_ID, CONTEXT_EXECUTOR_IDENTITY) and is stored as a
// JSON string literal, the same bytes a browser client writes to local
// storage, so both can share a backend.
//
// # Reading
//
// Get never fails. A nil backend, a backend returning storage.ErrUnavailable,
// any other backend error, bytes that are not a JSON string, and an empty
// string all read as absent. Lookup exposes the same read with the reason it
// degraded (ErrStorageUnavailable or ErrStorageCorrupt).
//
// Resolve layers deployment defaults (Defaults, typically DefaultsFromEnv)
// under the persisted values:
//
//	defaults, _ := sessionconfig.DefaultsFromEnv()
//	store := sessionconfig.New(backend, sessionconfig.WithDefaults(defaults))
//	nodeURL := store.ResolveNodeURL(ctx)
//
// # Writing
//
// Set overwrites (last write wins) and performs no validation. Clear removes a
// slot and is idempotent. Reset clears the node URL and application id, the
// "return to setup" action of a client.
package sessionconfig
