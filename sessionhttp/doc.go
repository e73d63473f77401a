// Package sessionhttp exposes session configuration and the active node
// credential over a small local HTTP API, for UIs and tooling that cannot
// link the Go packages directly.
//
// All bodies are JSON. Writes require Content-Type application/json; a
// request whose Accept header excludes JSON is answered with 406, and a body
// over 64 KiB with 413.
//
// GET /claims answers 200 with decoded claims, 204 when no credential is
// active, and 422 when the credential is malformed. When a Verifier is
// configured, tokens that fail verification are answered with 401.
package sessionhttp
