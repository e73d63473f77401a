package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the typed payload of a node access token. Every field is
// required; Decode rejects payloads missing any of them.
type Claims struct {
	ContextID         string `json:"context_id" jsonschema:"description=Context the token grants access to"`
	TokenType         string `json:"token_type" jsonschema:"description=Token kind such as access or refresh"`
	Expiry            int64  `json:"exp" jsonschema:"description=Expiry in seconds since the Unix epoch"`
	Subject           string `json:"sub" jsonschema:"description=Authenticated subject"`
	ExecutorPublicKey string `json:"executor_public_key" jsonschema:"description=Public key of the context executor identity asserted by the issuer"`
}

// requiredClaims lists the JSON members Decode insists on, in report order.
var requiredClaims = []string{"context_id", "token_type", "exp", "sub", "executor_public_key"}

// ExpiresAt returns Expiry as a time.
func (c *Claims) ExpiresAt() time.Time {
	return time.Unix(c.Expiry, 0)
}

// Expired reports whether the token's expiry is at or before now. Decoding
// never checks this; it is up to the caller.
func (c *Claims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// jwt.Claims, so Claims plugs into jwt.Parser validation.

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(c.ExpiresAt()), nil
}
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *Claims) GetIssuer() (string, error)              { return "", nil }
func (c *Claims) GetSubject() (string, error)             { return c.Subject, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

var _ jwt.Claims = (*Claims)(nil)
