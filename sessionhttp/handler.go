package sessionhttp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/nodesession-go/credential"
	"github.com/ggoodman/nodesession-go/internal/logctx"
	"github.com/ggoodman/nodesession-go/sessionconfig"
	"github.com/google/uuid"
)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

const authorizationHeader = "Authorization"

// maxBodyBytes caps PUT bodies; slot values are short strings.
const maxBodyBytes = 64 << 10

// writeJSONError emits {"error":{"code":<status>,"message":"<reason>"}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger   *slog.Logger
	accessor credential.Accessor
	verifier *credential.Verifier
}

// WithLogger sets the logger. Records pick up per-request attributes.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAccessor supplies the token GET /claims decodes when the request
// carries no bearer token of its own.
func WithAccessor(a credential.Accessor) Option {
	return func(c *newConfig) {
		c.accessor = a
	}
}

// WithVerifier makes GET /claims check signature and expiry before answering.
// Without it claims are decoded unverified.
func WithVerifier(v *credential.Verifier) Option {
	return func(c *newConfig) {
		c.verifier = v
	}
}

// Handler serves a Store and the active credential over HTTP:
//
//	GET    /config          resolved snapshot of every slot
//	PUT    /config/{slot}   {"value":"..."}
//	DELETE /config/{slot}
//	POST   /config/reset    clear node URL and application id
//	GET    /claims          decoded claims of the active token
//	GET    /claims/schema   JSON schema of the claims
type Handler struct {
	log      *slog.Logger
	store    *sessionconfig.Store
	decoder  *credential.Decoder
	verifier *credential.Verifier
	schema   []byte
	mux      *http.ServeMux
}

// New builds a Handler over store.
func New(store *sessionconfig.Store, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, errors.New("sessionhttp: store is required")
	}
	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	schema, err := json.Marshal(credential.ClaimsSchema())
	if err != nil {
		return nil, err
	}

	log := logctx.NewLogger(cfg.logger.Handler())
	h := &Handler{
		log:      log,
		store:    store,
		decoder:  credential.NewDecoder(cfg.accessor, credential.WithLogger(log)),
		verifier: cfg.verifier,
		schema:   schema,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", h.handleGetConfig)
	mux.HandleFunc("PUT /config/{slot}", h.handlePutSlot)
	mux.HandleFunc("DELETE /config/{slot}", h.handleDeleteSlot)
	mux.HandleFunc("POST /config/reset", h.handleReset)
	mux.HandleFunc("GET /claims", h.handleGetClaims)
	mux.HandleFunc("GET /claims/schema", h.handleGetSchema)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// acceptsJSON rejects requests whose Accept header rules out JSON. A missing
// header accepts anything.
func (h *Handler) acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	acc := r.Header.Get("Accept")
	if acc == "" {
		return true
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "response is only available as application/json")
		h.log.WarnContext(r.Context(), "accept.unsupported", slog.String("accept", acc))
		return false
	}
	return true
}

func (h *Handler) slotParam(w http.ResponseWriter, r *http.Request) (sessionconfig.Slot, bool) {
	slot, err := sessionconfig.ParseSlot(r.PathValue("slot"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		h.log.InfoContext(r.Context(), "slot.unknown", slog.String("slot", r.PathValue("slot")))
		return "", false
	}
	return slot, true
}

type configResponse struct {
	sessionconfig.Snapshot
	// IdentityMismatch is set when the active credential asserts a different
	// executor key than the one persisted locally.
	IdentityMismatch bool `json:"identity_mismatch"`
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.acceptsJSON(w, r) {
		return
	}

	resp := configResponse{Snapshot: h.store.Snapshot(ctx)}
	if tok, ok := h.token(r); ok {
		if c, err := credential.Decode(tok); err == nil {
			resp.IdentityMismatch = resp.Snapshot.IdentityMismatch(c.ExecutorPublicKey)
		}
	}
	if resp.IdentityMismatch {
		h.log.WarnContext(ctx, "identity.mismatch")
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.log.ErrorContext(ctx, "config.write.fail", slog.String("err", err.Error()))
	}
}

type putSlotRequest struct {
	Value *string `json:"value"`
}

func (h *Handler) handlePutSlot(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	if !h.acceptsJSON(w, r) {
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}
	slot, ok := h.slotParam(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body putSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			h.log.WarnContext(ctx, "json.body.too_large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if body.Value == nil {
		writeJSONError(w, http.StatusBadRequest, `body must carry a string "value"`)
		h.log.WarnContext(ctx, "json.value.missing")
		return
	}

	if err := h.store.Set(ctx, slot, *body.Value); err != nil {
		if errors.Is(err, sessionconfig.ErrStorageUnavailable) {
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to persist value")
		h.log.ErrorContext(ctx, "slot.put.fail", slog.String("err", err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "slot.put.ok", slog.String("slot", slot.Name()), slog.Duration("dur", time.Since(start)))
}

func (h *Handler) handleDeleteSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.acceptsJSON(w, r) {
		return
	}
	slot, ok := h.slotParam(w, r)
	if !ok {
		return
	}
	if err := h.store.Clear(ctx, slot); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to clear value")
		h.log.ErrorContext(ctx, "slot.delete.fail", slog.String("err", err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "slot.delete.ok", slog.String("slot", slot.Name()))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.acceptsJSON(w, r) {
		return
	}
	if err := h.store.Reset(ctx); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to reset configuration")
		h.log.ErrorContext(ctx, "config.reset.fail", slog.String("err", err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "config.reset.ok")
}

// token prefers a bearer token on the request over the configured accessor.
func (h *Handler) token(r *http.Request) (string, bool) {
	// The scheme is case-insensitive (RFC 9110 section 11.1).
	const bearerPrefix = "bearer "
	authHeader := r.Header.Get(authorizationHeader)
	if len(authHeader) > len(bearerPrefix) && strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		if tok := strings.TrimSpace(authHeader[len(bearerPrefix):]); tok != "" {
			return tok, true
		}
	}
	return h.decoder.RawCredential(r.Context())
}

func (h *Handler) handleGetClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.acceptsJSON(w, r) {
		return
	}

	tok, ok := h.token(r)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		h.log.DebugContext(ctx, "claims.absent")
		return
	}

	var (
		claims *credential.Claims
		err    error
	)
	if h.verifier != nil {
		claims, err = h.verifier.Verify(ctx, tok)
	} else {
		claims, err = credential.Decode(tok)
	}
	switch {
	case errors.Is(err, credential.ErrMalformedCredential):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		h.log.InfoContext(ctx, "claims.malformed", slog.String("err", err.Error()))
		return
	case errors.Is(err, credential.ErrUnverified):
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		h.log.InfoContext(ctx, "claims.unverified", slog.String("err", err.Error()))
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, "failed to decode credential")
		h.log.ErrorContext(ctx, "claims.decode.fail", slog.String("err", err.Error()))
		return
	}

	if err := writeJSON(w, http.StatusOK, claims); err != nil {
		h.log.ErrorContext(ctx, "claims.write.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	if !h.acceptsJSON(w, r) {
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	_, _ = w.Write(h.schema)
}
