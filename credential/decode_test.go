package credential

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/nodesession-go/credential/credentialtest"
)

const referencePayload = `{"context_id":"ctx1","token_type":"access","exp":1999999999,"sub":"userA","executor_public_key":"pubkeyA"}`

func tokenWithPayload(enc *base64.Encoding, payload string) string {
	return "eyJhbGciOiJFZERTQSJ9." + enc.EncodeToString([]byte(payload)) + ".c2lnbmF0dXJl"
}

func TestDecodeReferenceToken(t *testing.T) {
	c, err := Decode(tokenWithPayload(base64.RawURLEncoding, referencePayload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Claims{
		ContextID:         "ctx1",
		TokenType:         "access",
		Expiry:            1999999999,
		Subject:           "userA",
		ExecutorPublicKey: "pubkeyA",
	}
	if *c != want {
		t.Fatalf("claims mismatch:\n got %+v\nwant %+v", *c, want)
	}
}

func TestDecodeSegmentCount(t *testing.T) {
	for _, tok := range []string{"", "a", "a.b", "a.b.c.d", "a.b.c.d.e"} {
		_, err := Decode(tok)
		if !errors.Is(err, ErrMalformedCredential) {
			t.Fatalf("Decode(%q): want ErrMalformedCredential, got %v", tok, err)
		}
	}
}

func TestDecodeEncodings(t *testing.T) {
	cases := map[string]*base64.Encoding{
		"raw url":    base64.RawURLEncoding,
		"padded url": base64.URLEncoding,
		"standard":   base64.StdEncoding,
		"raw std":    base64.RawStdEncoding,
	}
	// Runs of '?' and '~' encode to '/' and '+' in the standard alphabet.
	payload := `{"context_id":"c???~~~??","token_type":"access","exp":1,"sub":"s~~~???~~","executor_public_key":"k"}`
	for name, enc := range cases {
		c, err := Decode(tokenWithPayload(enc, payload))
		if err != nil {
			t.Fatalf("%s: Decode: %v", name, err)
		}
		if c.ContextID != "c???~~~??" || c.Subject != "s~~~???~~" {
			t.Fatalf("%s: unexpected claims %+v", name, c)
		}
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"not base64":     "eyJ.%%%%.sig",
		"empty payload":  "h..sig",
		"not json":       tokenWithPayload(base64.RawURLEncoding, "hello"),
		"json array":     tokenWithPayload(base64.RawURLEncoding, `["context_id"]`),
		"wrong type":     tokenWithPayload(base64.RawURLEncoding, `{"context_id":1,"token_type":"access","exp":1,"sub":"s","executor_public_key":"k"}`),
		"exp not number": tokenWithPayload(base64.RawURLEncoding, `{"context_id":"c","token_type":"access","exp":"soon","sub":"s","executor_public_key":"k"}`),
		"exp too large":  tokenWithPayload(base64.RawURLEncoding, `{"context_id":"c","token_type":"access","exp":99999999999999999999,"sub":"s","executor_public_key":"k"}`),
		"exp 1e30":       tokenWithPayload(base64.RawURLEncoding, `{"context_id":"c","token_type":"access","exp":1e30,"sub":"s","executor_public_key":"k"}`),
		"exp -1e30":      tokenWithPayload(base64.RawURLEncoding, `{"context_id":"c","token_type":"access","exp":-1e30,"sub":"s","executor_public_key":"k"}`),
	}
	for name, tok := range cases {
		if _, err := Decode(tok); !errors.Is(err, ErrMalformedCredential) {
			t.Fatalf("%s: want ErrMalformedCredential, got %v", name, err)
		}
	}
}

func TestDecodeMissingClaims(t *testing.T) {
	for _, name := range requiredClaims {
		claims := credentialtest.ReferenceClaims()
		delete(claims, name)

		_, err := Decode(credentialtest.UnsignedClaims(t, claims))
		if !errors.Is(err, ErrMalformedCredential) {
			t.Fatalf("without %s: want ErrMalformedCredential, got %v", name, err)
		}
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("without %s: error should name the claim, got %v", name, err)
		}
	}

	claims := credentialtest.ReferenceClaims()
	claims["sub"] = nil
	if _, err := Decode(credentialtest.UnsignedClaims(t, claims)); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("null sub: want ErrMalformedCredential, got %v", err)
	}
}

func TestDecodeIgnoresExtraClaims(t *testing.T) {
	claims := credentialtest.ReferenceClaims()
	claims["iss"] = "https://node.example"
	claims["nested"] = map[string]any{"x": []int{1, 2}}

	c, err := Decode(credentialtest.UnsignedClaims(t, claims))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Subject != "userA" || c.ContextID != "ctx1" {
		t.Fatalf("unexpected claims %+v", c)
	}
}

func TestDecodeFloatExpiry(t *testing.T) {
	payload := `{"context_id":"c","token_type":"access","exp":1999999999.75,"sub":"s","executor_public_key":"k"}`
	c, err := Decode(tokenWithPayload(base64.RawURLEncoding, payload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Expiry != 1999999999 {
		t.Fatalf("Expiry: got %d", c.Expiry)
	}

	payload = `{"context_id":"c","token_type":"access","exp":-1.5e9,"sub":"s","executor_public_key":"k"}`
	c, err = Decode(tokenWithPayload(base64.RawURLEncoding, payload))
	if err != nil {
		t.Fatalf("Decode negative exp: %v", err)
	}
	if c.Expiry != -1500000000 {
		t.Fatalf("Expiry: got %d", c.Expiry)
	}
}

func TestDecodeDoesNotCheckExpiry(t *testing.T) {
	claims := credentialtest.ReferenceClaims()
	claims["exp"] = 1
	c, err := Decode(credentialtest.UnsignedClaims(t, claims))
	if err != nil {
		t.Fatalf("expired token should still decode: %v", err)
	}
	if !c.Expired(time.Now()) {
		t.Fatal("Expired should report true for exp=1")
	}
}

func TestClaimsTimeHelpers(t *testing.T) {
	c := &Claims{Expiry: 1000, Subject: "s"}
	if !c.ExpiresAt().Equal(time.Unix(1000, 0)) {
		t.Fatalf("ExpiresAt: %v", c.ExpiresAt())
	}
	if c.Expired(time.Unix(999, 0)) {
		t.Fatal("not yet expired")
	}
	if !c.Expired(time.Unix(1000, 0)) {
		t.Fatal("expired at exp")
	}
	exp, err := c.GetExpirationTime()
	if err != nil || exp.Unix() != 1000 {
		t.Fatalf("GetExpirationTime: %v %v", exp, err)
	}
	if sub, _ := c.GetSubject(); sub != "s" {
		t.Fatalf("GetSubject: %q", sub)
	}
}
