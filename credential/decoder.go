package credential

import (
	"context"
	"errors"
	"log/slog"
)

// Decoder decodes whatever token its Accessor currently yields.
type Decoder struct {
	accessor Accessor
	log      *slog.Logger
}

// Option customizes a Decoder.
type Option func(*Decoder)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDecoder returns a Decoder over accessor. A nil accessor never yields a token.
func NewDecoder(accessor Accessor, opts ...Option) *Decoder {
	d := &Decoder{accessor: accessor, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RawCredential returns the active token, if any.
func (d *Decoder) RawCredential(ctx context.Context) (string, bool) {
	if d.accessor == nil {
		return "", false
	}
	return d.accessor.RawCredential(ctx)
}

// DecodedClaims decodes the active token. ok is false with a nil error when no
// token is active; a token that fails to decode returns an error wrapping
// ErrMalformedCredential.
func (d *Decoder) DecodedClaims(ctx context.Context) (*Claims, bool, error) {
	tok, ok := d.RawCredential(ctx)
	if !ok {
		return nil, false, nil
	}
	c, err := Decode(tok)
	if err != nil {
		if errors.Is(err, ErrMalformedCredential) {
			d.log.WarnContext(ctx, "credential.decode.malformed", slog.String("err", err.Error()))
		}
		return nil, false, err
	}
	return c, true, nil
}
