// Package credentialtest mints node access tokens for tests.
package credentialtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// ReferenceClaims returns a complete, valid claim set. Each call carries a
// fresh jti so minted tokens differ; decoders ignore it.
func ReferenceClaims() map[string]any {
	return map[string]any{
		"context_id":          "ctx1",
		"token_type":          "access",
		"exp":                 1999999999,
		"sub":                 "userA",
		"executor_public_key": "pubkeyA",
		"jti":                 uuid.NewString(),
	}
}

// ExpiringClaims is ReferenceClaims with exp set to now+ttl.
func ExpiringClaims(ttl time.Duration) map[string]any {
	c := ReferenceClaims()
	c["exp"] = time.Now().Add(ttl).Unix()
	return c
}

// Unsigned assembles header.payload.signature around payload without signing
// it. The header and signature are placeholders.
func Unsigned(payload []byte) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`)) + "." +
		enc.EncodeToString(payload) + "." +
		enc.EncodeToString([]byte("signature"))
}

// UnsignedClaims is Unsigned over the JSON encoding of claims.
func UnsignedClaims(t testing.TB, claims any) string {
	t.Helper()
	b, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return Unsigned(b)
}

// Minter signs tokens with an RS256 key and publishes the matching JWKS.
type Minter struct {
	kid    string
	key    *rsa.PrivateKey
	signer jose.Signer
}

// NewMinter generates a fresh signing key.
func NewMinter(t testing.TB) *Minter {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-" + uuid.NewString()
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: pk}, opts)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return &Minter{kid: kid, key: pk, signer: signer}
}

// KeyID returns the kid placed in every token header.
func (m *Minter) KeyID() string { return m.kid }

// Mint signs the JSON encoding of claims as a compact JWS.
func (m *Minter) Mint(t testing.TB, claims any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	jws, err := m.signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return compact
}

// JWKS returns the public key set as JSON.
func (m *Minter) JWKS(t testing.TB) []byte {
	t.Helper()
	jwk := jose.JSONWebKey{Key: &m.key.PublicKey, KeyID: m.kid, Algorithm: string(jose.RS256), Use: "sig"}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

// ServeJWKS starts an HTTP server publishing the key set at /keys alongside
// OpenID Connect discovery metadata naming the server URL as issuer. It
// returns the issuer URL and the JWKS URL.
func (m *Minter) ServeJWKS(t testing.TB) (srvURL, jwksURL string) {
	t.Helper()
	keys := m.JWKS(t)

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keys)
	})
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   srv.URL,
			"jwks_uri":                 srv.URL + "/keys",
			"authorization_endpoint":   srv.URL + "/oauth2/auth",
			"token_endpoint":           srv.URL + "/oauth2/token",
			"response_types_supported": []string{"code"},
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL, srv.URL + "/keys"
}
