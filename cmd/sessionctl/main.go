// Command sessionctl inspects and edits the session configuration a node
// client persists, and decodes its access token.
//
// Usage:
//
//	sessionctl [-file path] [-scope name] [-backend file|redis] <command> [args]
//
// Commands:
//
//	get <slot>               print the persisted value; exit 1 when absent
//	set <slot> <value>       persist value
//	clear <slot>             remove the persisted value
//	resolve <slot>           print the persisted value or its default
//	snapshot                 print every slot as JSON
//	reset                    clear the node URL and application id
//	watch                    print slot names as they change
//	login <token>            store the access token
//	logout                   remove the stored access token
//	decode [token]           print the claims of token, SESSION_ACCESS_TOKEN, or the stored token
//	schema                   print the JSON schema of the claims
//	serve [-addr host:port]  serve the HTTP API
//
// Slots are named node-url, application-id, context-id and
// executor-public-key, or by their persisted keys (NODE_URL, ...).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ggoodman/nodesession-go/credential"
	"github.com/ggoodman/nodesession-go/internal/logctx"
	"github.com/ggoodman/nodesession-go/sessionconfig"
	"github.com/ggoodman/nodesession-go/sessionhttp"
	"github.com/ggoodman/nodesession-go/storage"
	"github.com/ggoodman/nodesession-go/storage/file"
	"github.com/ggoodman/nodesession-go/storage/redis"
	"github.com/joeshaw/envdecode"
)

// config is read from the environment; flags override it.
type config struct {
	File     string `env:"SESSIONCTL_FILE"`
	Scope    string `env:"SESSIONCTL_SCOPE"`
	Backend  string `env:"SESSIONCTL_BACKEND,default=file"`
	LogLevel string `env:"SESSIONCTL_LOG_LEVEL,default=warn"`
	Token    string `env:"SESSION_ACCESS_TOKEN"`
	// Verification for serve; at most one is used, JWKS first.
	JWKSURL string `env:"SESSIONCTL_JWKS_URL"`
	Issuer  string `env:"SESSIONCTL_ISSUER"`
}

// errAbsent makes get exit non-zero without printing anything.
var errAbsent = errors.New("absent")

type usageError string

func (e usageError) Error() string { return string(e) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, errAbsent):
		os.Exit(1)
	case errors.As(err, new(usageError)):
		fmt.Fprintln(os.Stderr, "sessionctl:", err)
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "sessionctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("read environment: %w", err)
	}

	fs := flag.NewFlagSet("sessionctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.File, "file", cfg.File, "session file (default: user config dir)")
	fs.StringVar(&cfg.Scope, "scope", cfg.Scope, "storage scope")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: file or redis")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return usageError("missing command")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return usageError(fmt.Sprintf("invalid log level %q", cfg.LogLevel))
	}
	log := logctx.NewLogger(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cmd, rest := fs.Arg(0), fs.Args()[1:]

	// Commands that never touch storage.
	switch cmd {
	case "schema":
		return writeJSON(stdout, credential.ClaimsSchema())
	case "decode":
		if len(rest) > 0 || cfg.Token != "" {
			tok := cfg.Token
			if len(rest) > 0 {
				tok = rest[0]
			}
			return decode(stdout, tok)
		}
	}

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	store := sessionconfig.New(backend,
		sessionconfig.WithScope(cfg.Scope),
		sessionconfig.WithDefaults(envDefaults(log)),
		sessionconfig.WithLogger(log),
	)
	tokens := &credential.StorageAccessor{Storage: backend, Scope: cfg.Scope, Logger: log}

	switch cmd {
	case "get":
		slot, err := slotArg(rest, 1)
		if err != nil {
			return err
		}
		v, ok := store.Get(ctx, slot)
		if !ok {
			return errAbsent
		}
		fmt.Fprintln(stdout, v)
		return nil
	case "set":
		slot, err := slotArg(rest, 2)
		if err != nil {
			return err
		}
		return store.Set(ctx, slot, rest[1])
	case "clear":
		slot, err := slotArg(rest, 1)
		if err != nil {
			return err
		}
		return store.Clear(ctx, slot)
	case "resolve":
		slot, err := slotArg(rest, 1)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, store.Resolve(ctx, slot))
		return nil
	case "snapshot":
		return writeJSON(stdout, store.Snapshot(ctx))
	case "reset":
		return store.Reset(ctx)
	case "watch":
		err := store.Watch(ctx, func(slot sessionconfig.Slot) {
			fmt.Fprintln(stdout, slot.Name())
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case "login":
		if len(rest) != 1 {
			return usageError("usage: login <token>")
		}
		if _, err := credential.Decode(rest[0]); err != nil {
			return err
		}
		return tokens.SaveCredential(ctx, rest[0])
	case "logout":
		return tokens.ClearCredential(ctx)
	case "decode":
		tok, ok := tokens.RawCredential(ctx)
		if !ok {
			return errors.New("no access token: pass one, set SESSION_ACCESS_TOKEN, or login")
		}
		return decode(stdout, tok)
	case "serve":
		return serve(ctx, cfg, rest, store, tokens, log, stderr)
	}
	return usageError(fmt.Sprintf("unknown command %q", cmd))
}

func openBackend(ctx context.Context, cfg config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Backend {
	case "file":
		path := cfg.File
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, fmt.Errorf("locate config dir: %w (pass -file)", err)
			}
			path = filepath.Join(dir, "nodesession", "session.json")
		}
		return file.New(path, file.WithLogger(log))
	case "redis":
		return redis.NewFromEnv(ctx)
	}
	return nil, usageError(fmt.Sprintf("unknown backend %q", cfg.Backend))
}

func envDefaults(log *slog.Logger) sessionconfig.Defaults {
	d, err := sessionconfig.DefaultsFromEnv()
	if err != nil {
		log.Warn("defaults.env.fail", slog.String("err", err.Error()))
	}
	return d
}

func slotArg(args []string, n int) (sessionconfig.Slot, error) {
	if len(args) != n {
		return "", usageError(fmt.Sprintf("want %d argument(s), got %d", n, len(args)))
	}
	slot, err := sessionconfig.ParseSlot(args[0])
	if err != nil {
		names := make([]string, 0, 4)
		for _, s := range sessionconfig.Slots() {
			names = append(names, s.Name())
		}
		return "", usageError(fmt.Sprintf("%v (want one of %s)", err, strings.Join(names, ", ")))
	}
	return slot, nil
}

func decode(w io.Writer, tok string) error {
	c, err := credential.Decode(strings.TrimSpace(tok))
	if err != nil {
		return err
	}
	return writeJSON(w, c)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cfg config, args []string, store *sessionconfig.Store, tokens credential.Accessor, log *slog.Logger, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "127.0.0.1:8080", "listen address")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	opts := []sessionhttp.Option{sessionhttp.WithLogger(log), sessionhttp.WithAccessor(tokens)}
	var (
		v   *credential.Verifier
		err error
	)
	switch {
	case cfg.JWKSURL != "":
		v, err = credential.NewStaticVerifier(ctx, cfg.JWKSURL, credential.WithTokenType("access"))
	case cfg.Issuer != "":
		v, err = credential.NewVerifierFromDiscovery(ctx, cfg.Issuer, credential.WithTokenType("access"))
	}
	if err != nil {
		return err
	}
	if v != nil {
		opts = append(opts, sessionhttp.WithVerifier(v))
	}

	h, err := sessionhttp.New(store, opts...)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: *addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("http.listen", slog.String("addr", *addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("http.shutdown")
	return nil
}
