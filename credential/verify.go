package credential

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnverified indicates a structurally valid token failed signature,
// algorithm, expiry, or token type checks.
var ErrUnverified = errors.New("credential: unverified credential")

type verifierConfig struct {
	allowedAlgs []string
	leeway      time.Duration
	tokenType   string
	now         func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*verifierConfig)

// WithAllowedAlgs replaces the accepted signing algorithms (default RS256, ES256, EdDSA).
func WithAllowedAlgs(algs ...string) VerifierOption {
	return func(c *verifierConfig) {
		if len(algs) > 0 {
			c.allowedAlgs = append([]string(nil), algs...)
		}
	}
}

// WithLeeway tolerates clock skew when checking exp (default 60s).
func WithLeeway(d time.Duration) VerifierOption {
	return func(c *verifierConfig) {
		c.leeway = d
	}
}

// WithTokenType requires the token_type claim to equal typ, e.g. "access".
func WithTokenType(typ string) VerifierOption {
	return func(c *verifierConfig) {
		c.tokenType = typ
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(c *verifierConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Verifier checks a token's signature and expiry before decoding it.
type Verifier struct {
	cfg       verifierConfig
	keyfunc   jwt.Keyfunc
	parser    *jwt.Parser
	validator *jwt.Validator
}

// NewVerifier builds a Verifier around an arbitrary key source.
func NewVerifier(kf jwt.Keyfunc, opts ...VerifierOption) (*Verifier, error) {
	if kf == nil {
		return nil, errors.New("credential: keyfunc is required")
	}
	cfg := verifierConfig{
		allowedAlgs: []string{"RS256", "ES256", "EdDSA"},
		leeway:      60 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	allowed := cfg.allowedAlgs
	return &Verifier{
		cfg: cfg,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(allowed, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf(t)
		},
		// Claims are validated separately against the typed Claims.
		parser: jwt.NewParser(
			jwt.WithValidMethods(allowed),
			jwt.WithoutClaimsValidation(),
			jwt.WithPaddingAllowed(),
		),
		validator: jwt.NewValidator(
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.leeway),
			jwt.WithTimeFunc(cfg.now),
		),
	}, nil
}

// NewStaticVerifier verifies against the JWKS served at jwksURI. Keys are
// refreshed in the background until ctx ends.
func NewStaticVerifier(ctx context.Context, jwksURI string, opts ...VerifierOption) (*Verifier, error) {
	if jwksURI == "" {
		return nil, errors.New("credential: jwks uri required")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("credential: jwks init failed: %w", err)
	}
	return NewVerifier(kf.Keyfunc, opts...)
}

// NewVerifierFromDiscovery locates the issuer's JWKS through OpenID Connect
// discovery and verifies against it.
func NewVerifierFromDiscovery(ctx context.Context, issuer string, opts ...VerifierOption) (*Verifier, error) {
	if issuer == "" {
		return nil, errors.New("credential: issuer is required")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("credential: oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("credential: invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("credential: discovery incomplete: missing jwks_uri")
	}
	return NewStaticVerifier(ctx, meta.JwksURI, opts...)
}

// Verify checks token and returns its claims. Structural problems wrap
// ErrMalformedCredential; failed checks wrap ErrUnverified.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := Decode(token)
	if err != nil {
		return nil, err
	}
	if _, err := v.parser.Parse(token, v.keyfunc); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrUnverified, err)
	}
	if err := v.validator.Validate(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnverified, err)
	}
	if v.cfg.tokenType != "" && claims.TokenType != v.cfg.tokenType {
		return nil, fmt.Errorf("%w: token_type %q, want %q", ErrUnverified, claims.TokenType, v.cfg.tokenType)
	}
	return claims, nil
}
