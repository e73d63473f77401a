// Package credential decodes node access tokens into typed Claims.
//
// A token is three dot-separated segments (header, payload, signature). Decode
// only looks at the payload: it base64url-decodes it, parses the JSON, and
// requires context_id, token_type, exp, sub, and executor_public_key to be
// present. Anything structurally wrong yields an error wrapping
// ErrMalformedCredential. Decode performs no signature or expiry check; the
// claims are presentation data until a Verifier says otherwise.
//
// # Accessors
//
// The token itself comes from an Accessor owned by whatever performed the
// login. StaticAccessor and AccessorFunc adapt values and functions;
// StorageAccessor reads the token the same way sessionconfig reads its slots.
//
//	dec := credential.NewDecoder(&credential.StorageAccessor{Storage: backend})
//	claims, ok, err := dec.DecodedClaims(ctx)
//	if errors.Is(err, credential.ErrMalformedCredential) { /* back to login */ }
//	if !ok { /* logged out */ }
//
// # Verification
//
// Verifier checks the signature against a JWKS (a fixed URI or one found by
// OpenID Connect discovery) and the expiry, then returns the same Claims
// Decode would. Failures wrap ErrUnverified.
package credential
