package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadencehq/cadence-mcp/internal/config"
	"github.com/cadencehq/cadence-mcp/internal/crypto"
	"github.com/cadencehq/cadence-mcp/internal/events"
	"github.com/cadencehq/cadence-mcp/internal/logger"
	"github.com/cadencehq/cadence-mcp/internal/oauth"
	"github.com/cadencehq/cadence-mcp/internal/storage"
	"github.com/cadencehq/cadence-mcp/internal/upstream"

	oauthhttp "github.com/cadencehq/cadence-mcp/cmd/authserver/oauth"
)

func main() {
	logger.Initialize()
	defer logger.Sync()

	config.LoadEnv(".env")

	cfg, err := oauth.LoadConfigFromEnv()
	if err != nil {
		logger.Errorw("invalid configuration", "error", err)
		os.Exit(1)
	}

	keys, err := oauth.NewKeyManager(cfg.PrivateKeyPEM)
	if err != nil {
		logger.Errorw("invalid signing key", "error", err)
		os.Exit(1)
	}

	enc, err := crypto.NewEncryptionService(os.Getenv("STATE_ENCRYPTION_PASSPHRASE"))
	if err != nil {
		logger.Errorw("invalid encryption passphrase", "error", err)
		os.Exit(1)
	}

	clientStore, err := newClientStore(enc)
	if err != nil {
		logger.Errorw("failed to open client store", "error", err)
		os.Exit(1)
	}
	defer clientStore.Close()

	sessions, err := newSessionStore()
	if err != nil {
		logger.Errorw("failed to open session store", "error", err)
		os.Exit(1)
	}

	registry := oauth.NewClientRegistry(clientStore, cfg.AllowedRedirectURIs)

	codeTTL, err := oauth.ParseTTL(cfg.AuthCodeTTL)
	if err != nil {
		logger.Errorw("invalid auth code TTL", "error", err)
		os.Exit(1)
	}
	authCodes := oauth.NewAuthCodeStore(codeTTL)
	defer authCodes.Close()

	tokens, err := oauth.NewTokenService(cfg.Issuer, keys, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		logger.Errorw("invalid token TTLs", "error", err)
		os.Exit(1)
	}

	var publisher *events.Publisher
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		publisher, err = events.NewPublisher(amqpURL)
		if err != nil {
			logger.Warnw("event publisher disabled", "error", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	statePath := envOrDefault("PENDING_AUTH_FILE", "data/pending_auth.enc")
	pending := upstream.NewPendingAuthStore(enc, statePath, 0)
	defer pending.Close()

	tokenStore := storage.NewUpstreamTokenStore(enc, envOrDefault("UPSTREAM_TOKENS_FILE", "data/upstream_tokens.enc"))

	provider := upstream.ProviderConfig{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		AuthURL:      envOrDefault("GOOGLE_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
		TokenURL:     envOrDefault("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
	}
	callback := upstream.NewCallbackHandler(pending, tokenStore, provider, nil)

	server := oauthhttp.NewServer(cfg, keys, registry, authCodes, sessions, tokens, publisher)
	upstreamHandlers := oauthhttp.NewUpstreamHandlers(callback, cfg.Issuer+"/oauth/upstream/callback", publisher)
	bearer := oauthhttp.NewMiddleware(tokens, cfg.Audience)

	mux := http.NewServeMux()
	server.Routes(mux)
	mux.Handle("/oauth/upstream/connect", bearer.Handler(http.HandlerFunc(upstreamHandlers.HandleConnect)))
	mux.HandleFunc("/oauth/upstream/callback", upstreamHandlers.HandleCallback)
	mux.HandleFunc("/oauth/logout", server.Logout)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := envOrDefault("LISTEN_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("authorization server listening", "addr", addr, "issuer", cfg.Issuer)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warnw("shutdown did not complete cleanly", "error", err)
	}
	// Flush pending-auth state so in-flight consents survive the restart.
	if err := pending.Persist(); err != nil {
		logger.Warnw("failed to flush pending authorizations", "error", err)
	}
}

// newClientStore picks the storage strategy: Postgres when DATABASE_URL is
// set, the encrypted file when OAUTH_CLIENTS_FILE is set, memory otherwise.
func newClientStore(enc *crypto.EncryptionService) (oauth.ClientStore, error) {
	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		return oauth.NewPostgresClientStore(connString)
	}
	if path := os.Getenv("OAUTH_CLIENTS_FILE"); path != "" {
		return oauth.NewFileClientStore(enc, path)
	}
	logger.Warnw("using in-memory client store; registrations will not survive a restart")
	return oauth.NewMemoryClientStore(), nil
}

func newSessionStore() (oauth.SessionStore, error) {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		return oauth.NewRedisSessionStore(redisURL)
	}
	return oauth.NewMemorySessionStore(), nil
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
