package sessionhttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/nodesession-go/credential"
	"github.com/ggoodman/nodesession-go/credential/credentialtest"
	"github.com/ggoodman/nodesession-go/sessionconfig"
	"github.com/ggoodman/nodesession-go/sessionhttp"
	"github.com/ggoodman/nodesession-go/storage"
	"github.com/ggoodman/nodesession-go/storage/memory"
)

type serverOption func(*serverConfig)

type serverConfig struct {
	backend  storage.Storage
	defaults sessionconfig.Defaults
	opts     []sessionhttp.Option
}

func withBackend(b storage.Storage) serverOption {
	return func(c *serverConfig) { c.backend = b }
}

func withDefaults(d sessionconfig.Defaults) serverOption {
	return func(c *serverConfig) { c.defaults = d }
}

func withHandlerOptions(opts ...sessionhttp.Option) serverOption {
	return func(c *serverConfig) { c.opts = append(c.opts, opts...) }
}

func mustServer(t *testing.T, options ...serverOption) (*httptest.Server, *sessionconfig.Store) {
	t.Helper()
	mem, err := memory.New(0)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	cfg := &serverConfig{backend: mem}
	for _, opt := range options {
		opt(cfg)
	}

	logger := slog.New(testLogHandler(t))
	store := sessionconfig.New(cfg.backend, sessionconfig.WithDefaults(cfg.defaults), sessionconfig.WithLogger(logger))
	h, err := sessionhttp.New(store, append([]sessionhttp.Option{sessionhttp.WithLogger(logger)}, cfg.opts...)...)
	if err != nil {
		t.Fatalf("sessionhttp.New: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestConfig(t *testing.T) {
	t.Run("Put then get reports stored values", func(t *testing.T) {
		srv, store := mustServer(t, withDefaults(sessionconfig.Defaults{NodeURL: "http://env-node"}))

		resp := do(t, http.MethodPut, srv.URL+"/config/context-id", `{"value":"ctx1"}`, jsonHeaders)
		if want, got := http.StatusNoContent, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if v, ok := store.ContextID(context.Background()); !ok || v != "ctx1" {
			t.Fatalf("store not updated: %q %v", v, ok)
		}

		resp = do(t, http.MethodGet, srv.URL+"/config", "", map[string]string{"Accept": "application/json"})
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		var snap sessionconfig.Snapshot
		decodeBody(t, resp, &snap)
		if snap.ContextID != (sessionconfig.SlotValue{Value: "ctx1", Source: sessionconfig.SourceStored}) {
			t.Fatalf("context id: %+v", snap.ContextID)
		}
		if snap.NodeURL != (sessionconfig.SlotValue{Value: "http://env-node", Source: sessionconfig.SourceDefault}) {
			t.Fatalf("node url: %+v", snap.NodeURL)
		}
		if snap.ApplicationID.Source != sessionconfig.SourceNone {
			t.Fatalf("application id: %+v", snap.ApplicationID)
		}
	})

	t.Run("Persisted key names are accepted as slots", func(t *testing.T) {
		srv, store := mustServer(t)
		resp := do(t, http.MethodPut, srv.URL+"/config/NODE_URL", `{"value":"http://node"}`, jsonHeaders)
		if want, got := http.StatusNoContent, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if v, _ := store.NodeURL(context.Background()); v != "http://node" {
			t.Fatalf("node url: %q", v)
		}
	})

	t.Run("Put rejects oversized bodies", func(t *testing.T) {
		srv, store := mustServer(t)
		body := `{"value":"` + strings.Repeat("x", 65<<10) + `"}`
		resp := do(t, http.MethodPut, srv.URL+"/config/node-url", body, jsonHeaders)
		if want, got := http.StatusRequestEntityTooLarge, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if _, ok := store.NodeURL(context.Background()); ok {
			t.Fatal("oversized body should not be persisted")
		}
	})

	t.Run("Put rejects non-JSON content", func(t *testing.T) {
		srv, _ := mustServer(t)
		resp := do(t, http.MethodPut, srv.URL+"/config/node-url", `value=x`, map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
		if want, got := http.StatusUnsupportedMediaType, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
	})

	t.Run("Put rejects bodies without a value", func(t *testing.T) {
		srv, _ := mustServer(t)
		for _, body := range []string{`{}`, `{"value":3}`, `not json`} {
			resp := do(t, http.MethodPut, srv.URL+"/config/node-url", body, jsonHeaders)
			if want, got := http.StatusBadRequest, resp.StatusCode; want != got {
				t.Fatalf("body %s: want %d got %d", body, want, got)
			}
		}
	})

	t.Run("Unknown slots are not found", func(t *testing.T) {
		srv, _ := mustServer(t)
		resp := do(t, http.MethodPut, srv.URL+"/config/theme", `{"value":"dark"}`, jsonHeaders)
		if want, got := http.StatusNotFound, resp.StatusCode; want != got {
			t.Fatalf("put: want %d got %d", want, got)
		}
		resp = do(t, http.MethodDelete, srv.URL+"/config/theme", "", nil)
		if want, got := http.StatusNotFound, resp.StatusCode; want != got {
			t.Fatalf("delete: want %d got %d", want, got)
		}
	})

	t.Run("Delete clears and is idempotent", func(t *testing.T) {
		srv, store := mustServer(t)
		ctx := context.Background()
		if err := store.SetApplicationID(ctx, "app1"); err != nil {
			t.Fatalf("SetApplicationID: %v", err)
		}
		for i := 0; i < 2; i++ {
			resp := do(t, http.MethodDelete, srv.URL+"/config/application-id", "", nil)
			if want, got := http.StatusNoContent, resp.StatusCode; want != got {
				t.Fatalf("delete %d: want %d got %d", i, want, got)
			}
		}
		if _, ok := store.ApplicationID(ctx); ok {
			t.Fatal("application id should be cleared")
		}
	})

	t.Run("Reset clears setup slots only", func(t *testing.T) {
		srv, store := mustServer(t)
		ctx := context.Background()
		_ = store.SetNodeURL(ctx, "http://node")
		_ = store.SetApplicationID(ctx, "app1")
		_ = store.SetContextID(ctx, "ctx1")

		resp := do(t, http.MethodPost, srv.URL+"/config/reset", "", nil)
		if want, got := http.StatusNoContent, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if _, ok := store.NodeURL(ctx); ok {
			t.Fatal("node url should be cleared")
		}
		if _, ok := store.ApplicationID(ctx); ok {
			t.Fatal("application id should be cleared")
		}
		if v, _ := store.ContextID(ctx); v != "ctx1" {
			t.Fatalf("context id should survive reset, got %q", v)
		}
	})

	t.Run("Writes without a backend are unavailable", func(t *testing.T) {
		srv, _ := mustServer(t, withBackend(storage.Unavailable{}))
		resp := do(t, http.MethodPut, srv.URL+"/config/node-url", `{"value":"x"}`, jsonHeaders)
		if want, got := http.StatusServiceUnavailable, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		resp = do(t, http.MethodGet, srv.URL+"/config", "", nil)
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("reads should still succeed: want %d got %d", want, got)
		}
	})

	t.Run("Non-JSON Accept is refused", func(t *testing.T) {
		srv, _ := mustServer(t)
		resp := do(t, http.MethodGet, srv.URL+"/config", "", map[string]string{"Accept": "text/html"})
		if want, got := http.StatusNotAcceptable, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		resp = do(t, http.MethodGet, srv.URL+"/config", "", map[string]string{"Accept": "text/html, */*;q=0.1"})
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("wildcard accept: want %d got %d", want, got)
		}
	})
}

func TestConfigIdentityMismatch(t *testing.T) {
	claims := credentialtest.ReferenceClaims()
	tok := credentialtest.UnsignedClaims(t, claims)
	srv, store := mustServer(t, withHandlerOptions(sessionhttp.WithAccessor(credential.StaticAccessor(tok))))
	ctx := context.Background()

	check := func(want bool) {
		t.Helper()
		resp := do(t, http.MethodGet, srv.URL+"/config", "", nil)
		var body struct {
			IdentityMismatch bool `json:"identity_mismatch"`
		}
		decodeBody(t, resp, &body)
		if body.IdentityMismatch != want {
			t.Fatalf("identity_mismatch: want %v got %v", want, body.IdentityMismatch)
		}
	}

	check(false)
	_ = store.SetExecutorPublicKey(ctx, "pubkeyA")
	check(false)
	_ = store.SetExecutorPublicKey(ctx, "pubkeyB")
	check(true)
}

func TestClaims(t *testing.T) {
	t.Run("No credential yields no content", func(t *testing.T) {
		srv, _ := mustServer(t)
		resp := do(t, http.MethodGet, srv.URL+"/claims", "", nil)
		if want, got := http.StatusNoContent, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
	})

	t.Run("Accessor credential is decoded", func(t *testing.T) {
		tok := credentialtest.UnsignedClaims(t, credentialtest.ReferenceClaims())
		srv, _ := mustServer(t, withHandlerOptions(sessionhttp.WithAccessor(credential.StaticAccessor(tok))))

		resp := do(t, http.MethodGet, srv.URL+"/claims", "", nil)
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		var c credential.Claims
		decodeBody(t, resp, &c)
		want := credential.Claims{ContextID: "ctx1", TokenType: "access", Expiry: 1999999999, Subject: "userA", ExecutorPublicKey: "pubkeyA"}
		if c != want {
			t.Fatalf("claims mismatch:\n got %+v\nwant %+v", c, want)
		}
	})

	t.Run("Bearer header wins over accessor", func(t *testing.T) {
		srv, _ := mustServer(t, withHandlerOptions(sessionhttp.WithAccessor(credential.StaticAccessor("a.b"))))
		claims := credentialtest.ReferenceClaims()
		claims["sub"] = "userB"
		tok := credentialtest.UnsignedClaims(t, claims)

		for _, scheme := range []string{"Bearer", "bearer", "BEARER"} {
			resp := do(t, http.MethodGet, srv.URL+"/claims", "", map[string]string{"Authorization": scheme + " " + tok})
			if want, got := http.StatusOK, resp.StatusCode; want != got {
				t.Fatalf("%s: unexpected status: want %d got %d", scheme, want, got)
			}
			var c credential.Claims
			decodeBody(t, resp, &c)
			if c.Subject != "userB" {
				t.Fatalf("%s: subject: %q", scheme, c.Subject)
			}
		}
	})

	t.Run("Malformed credential is unprocessable", func(t *testing.T) {
		srv, _ := mustServer(t)
		for _, tok := range []string{"a.b", "a.b.c.d", "a.b.c"} {
			resp := do(t, http.MethodGet, srv.URL+"/claims", "", map[string]string{"Authorization": "Bearer " + tok})
			if want, got := http.StatusUnprocessableEntity, resp.StatusCode; want != got {
				t.Fatalf("token %q: want %d got %d", tok, want, got)
			}
		}
	})

	t.Run("Verifier rejects untrusted tokens", func(t *testing.T) {
		m := credentialtest.NewMinter(t)
		_, jwksURL := m.ServeJWKS(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		v, err := credential.NewStaticVerifier(ctx, jwksURL)
		if err != nil {
			t.Fatalf("NewStaticVerifier: %v", err)
		}
		srv, _ := mustServer(t, withHandlerOptions(sessionhttp.WithVerifier(v)))

		good := m.Mint(t, credentialtest.ExpiringClaims(time.Hour))
		resp := do(t, http.MethodGet, srv.URL+"/claims", "", map[string]string{"Authorization": "Bearer " + good})
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("signed token: want %d got %d", want, got)
		}

		unsigned := credentialtest.UnsignedClaims(t, credentialtest.ExpiringClaims(time.Hour))
		resp = do(t, http.MethodGet, srv.URL+"/claims", "", map[string]string{"Authorization": "Bearer " + unsigned})
		if want, got := http.StatusUnauthorized, resp.StatusCode; want != got {
			t.Fatalf("unsigned token: want %d got %d", want, got)
		}
	})

	t.Run("Schema describes the claims", func(t *testing.T) {
		srv, _ := mustServer(t)
		resp := do(t, http.MethodGet, srv.URL+"/claims/schema", "", map[string]string{"Accept": "application/json"})
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		var schema struct {
			Type       string                     `json:"type"`
			Properties map[string]json.RawMessage `json:"properties"`
			Required   []string                   `json:"required"`
		}
		decodeBody(t, resp, &schema)
		if schema.Type != "object" || len(schema.Properties) != 5 || len(schema.Required) != 5 {
			t.Fatalf("unexpected schema: %+v", schema)
		}
		if _, ok := schema.Properties["executor_public_key"]; !ok {
			t.Fatal("schema missing executor_public_key")
		}
	})
}

// logBridge is an implementation of slog.Handler that works
// with the stdlib testing pkg.
type logBridge struct {
	slog.Handler
	t   testing.TB
	buf *bytes.Buffer
	mu  *sync.Mutex
}

// Handle implements slog.Handler.
func (b *logBridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}
	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}
	b.t.Log(string(bytes.TrimSuffix(output, []byte("\n"))))
	return nil
}

// WithAttrs implements slog.Handler.
func (b *logBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (b *logBridge) WithGroup(name string) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithGroup(name)}
}

func testLogHandler(t *testing.T) *logBridge {
	b := &logBridge{t: t, buf: &bytes.Buffer{}, mu: &sync.Mutex{}}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return b
}
