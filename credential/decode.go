package credential

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedCredential indicates the token is not three dot-separated
// segments, or its payload segment does not decode into Claims.
var ErrMalformedCredential = errors.New("credential: malformed credential")

// segmentParser only decodes segments; it never verifies anything.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// wireClaims mirrors Claims but keeps exp loose: issuers write it as an
// integer or a float.
type wireClaims struct {
	ContextID         string      `json:"context_id"`
	TokenType         string      `json:"token_type"`
	Exp               json.Number `json:"exp"`
	Sub               string      `json:"sub"`
	ExecutorPublicKey string      `json:"executor_public_key"`
}

// Decode parses the payload segment of token into Claims. The header and
// signature segments are not interpreted and nothing is verified: do not base
// trust decisions on the result without a Verifier.
func Decode(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: want 3 segments, got %d", ErrMalformedCredential, len(parts))
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding: %v", ErrMalformedCredential, err)
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(payload, &members); err != nil {
		return nil, fmt.Errorf("%w: payload json: %v", ErrMalformedCredential, err)
	}
	var missing []string
	for _, name := range requiredClaims {
		raw, ok := members[name]
		if !ok || string(raw) == "null" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing claims %s", ErrMalformedCredential, strings.Join(missing, ", "))
	}

	var w wireClaims
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: claim types: %v", ErrMalformedCredential, err)
	}
	exp, err := numericSeconds(w.Exp)
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrMalformedCredential, err)
	}

	return &Claims{
		ContextID:         w.ContextID,
		TokenType:         w.TokenType,
		Expiry:            exp,
		Subject:           w.Sub,
		ExecutorPublicKey: w.ExecutorPublicKey,
	}, nil
}

// decodeSegment accepts base64url with or without padding, then falls back to
// standard base64 for tokens assembled by non URL-safe encoders.
func decodeSegment(seg string) ([]byte, error) {
	b, err := segmentParser.DecodeSegment(seg)
	if err == nil {
		return b, nil
	}
	if l := len(seg) % 4; l > 0 {
		seg += strings.Repeat("=", 4-l)
	}
	if b, stdErr := base64.StdEncoding.DecodeString(seg); stdErr == nil {
		return b, nil
	}
	return nil, err
}

func numericSeconds(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
	if math.IsNaN(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%s out of range", n)
	}
	return int64(f), nil
}
