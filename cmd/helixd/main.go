// Command helixd runs the helix OAuth2/OpenID-Connect provider as a
// standalone HTTP server.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	helix "github.com/helix-auth/helix"
	"github.com/helix-auth/helix/instrumentation"
	"github.com/helix-auth/helix/jwt"
	"github.com/helix-auth/helix/providers/github"
	"github.com/helix-auth/helix/providers/google"
	"github.com/helix-auth/helix/storage"
	"github.com/helix-auth/helix/storage/memory"
	"github.com/helix-auth/helix/storage/sqlstore"
	"github.com/helix-auth/helix/storage/valkey"
)

var version = "dev"

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "helixd",
		Usage:   "OAuth2 / OpenID Connect identity provider",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Value:   ":8080",
				Usage:   "address to listen on",
				EnvVars: []string{"HELIX_LISTEN"},
			},
			&cli.StringFlag{
				Name:    "issuer",
				Value:   "http://localhost:8080",
				Usage:   "external base URL of the provider",
				EnvVars: []string{"HELIX_ISSUER"},
			},
			&cli.StringFlag{
				Name:    "storage",
				Value:   "memory",
				Usage:   "storage backend: memory, sqlite, or valkey",
				EnvVars: []string{"HELIX_STORAGE"},
			},
			&cli.StringFlag{
				Name:    "sqlite-dsn",
				Value:   "helix.db",
				Usage:   "sqlite database file (storage=sqlite)",
				EnvVars: []string{"HELIX_SQLITE_DSN"},
			},
			&cli.StringFlag{
				Name:    "valkey-addr",
				Value:   "localhost:6379",
				Usage:   "valkey server address (storage=valkey)",
				EnvVars: []string{"HELIX_VALKEY_ADDR"},
			},
			&cli.StringFlag{
				Name:    "valkey-password",
				Usage:   "valkey password (storage=valkey)",
				EnvVars: []string{"HELIX_VALKEY_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "signing-key",
				Usage:   "path to the RSA signing key PEM (generated if absent)",
				EnvVars: []string{"HELIX_SIGNING_KEY"},
			},
			&cli.StringFlag{
				Name:    "encryption-key",
				Usage:   "base64 AES-256 key for PKCE challenge encryption at rest",
				EnvVars: []string{"HELIX_ENCRYPTION_KEY"},
			},
			&cli.DurationFlag{
				Name:    "access-token-ttl",
				Usage:   "access token lifetime (default 10m)",
				EnvVars: []string{"HELIX_ACCESS_TOKEN_TTL"},
			},
			&cli.IntFlag{
				Name:    "rate-limit",
				Value:   20,
				Usage:   "requests per second per IP (0 disables)",
				EnvVars: []string{"HELIX_RATE_LIMIT"},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Value:   40,
				Usage:   "rate limit burst per IP",
				EnvVars: []string{"HELIX_RATE_BURST"},
			},
			&cli.BoolFlag{
				Name:    "trust-proxy",
				Usage:   "trust X-Forwarded-For from a fronting proxy",
				EnvVars: []string{"HELIX_TRUST_PROXY"},
			},
			&cli.BoolFlag{
				Name:    "audit-log",
				Value:   true,
				Usage:   "enable security audit logging",
				EnvVars: []string{"HELIX_AUDIT_LOG"},
			},
			&cli.BoolFlag{
				Name:    "telemetry",
				Usage:   "enable OpenTelemetry instrumentation",
				EnvVars: []string{"HELIX_TELEMETRY"},
			},
			&cli.StringFlag{
				Name:    "github-client-id",
				Usage:   "GitHub federation client ID",
				EnvVars: []string{"HELIX_GITHUB_CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:    "github-client-secret",
				Usage:   "GitHub federation client secret",
				EnvVars: []string{"HELIX_GITHUB_CLIENT_SECRET"},
			},
			&cli.StringFlag{
				Name:    "google-client-id",
				Usage:   "Google federation client ID",
				EnvVars: []string{"HELIX_GOOGLE_CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:    "google-client-secret",
				Usage:   "Google federation client secret",
				EnvVars: []string{"HELIX_GOOGLE_CLIENT_SECRET"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	store, closeStore, err := buildStore(c, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	key, err := jwt.LoadOrGenerateKey(c.String("signing-key"))
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	tokens, err := jwt.NewManager(key, c.String("issuer"), logger)
	if err != nil {
		return fmt.Errorf("failed to build token manager: %w", err)
	}

	config := &helix.Config{Logger: logger}
	config.Engine.Issuer = c.String("issuer")
	config.Engine.AccessTokenTTL = c.Duration("access-token-ttl")
	config.RateLimit.Rate = c.Int("rate-limit")
	config.RateLimit.Burst = c.Int("rate-burst")
	config.RateLimit.TrustProxy = c.Bool("trust-proxy")
	config.RateLimit.TrustedProxyCount = 1
	config.Security.EnableAuditLogging = c.Bool("audit-log")

	if encoded := c.String("encryption-key"); encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid encryption key: %w", err)
		}
		config.Security.EncryptionKey = key
	}

	server, err := helix.NewServer(store, tokens, config)
	if err != nil {
		return err
	}

	inst, err := instrumentation.New(c.Context, instrumentation.Config{
		ServiceName:    "helix",
		ServiceVersion: version,
		Enabled:        c.Bool("telemetry"),
	})
	if err != nil {
		return fmt.Errorf("failed to build instrumentation: %w", err)
	}
	server.SetInstrumentation(inst)

	registerProviders(c, server, logger)

	handler := helix.NewHandler(server, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              c.String("listen"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", httpServer.Addr, "issuer", c.String("issuer"))
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	return server.Close(shutdownCtx)
}

func buildStore(c *cli.Context, logger *slog.Logger) (storage.Store, func(), error) {
	switch backend := c.String("storage"); backend {
	case "memory":
		s := memory.New()
		s.SetLogger(logger)
		return s, s.Stop, nil
	case "sqlite":
		s, err := sqlstore.Open(c.String("sqlite-dsn"), logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "valkey":
		s, err := valkey.New(valkey.Config{
			Address:  c.String("valkey-addr"),
			Password: c.String("valkey-password"),
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func registerProviders(c *cli.Context, server *helix.Server, logger *slog.Logger) {
	issuer := c.String("issuer")

	if id := c.String("github-client-id"); id != "" {
		p, err := github.NewProvider(&github.Config{
			ClientID:     id,
			ClientSecret: c.String("github-client-secret"),
			RedirectURL:  issuer + "/federation/github/callback",
		})
		if err != nil {
			logger.Warn("Skipping federation provider", "provider", "github", "error", err)
		} else {
			server.RegisterProvider(p)
			logger.Info("Registered federation provider", "provider", "github")
		}
	}
	if id := c.String("google-client-id"); id != "" {
		p, err := google.NewProvider(&google.Config{
			ClientID:     id,
			ClientSecret: c.String("google-client-secret"),
			RedirectURL:  issuer + "/federation/google/callback",
		})
		if err != nil {
			logger.Warn("Skipping federation provider", "provider", "google", "error", err)
		} else {
			server.RegisterProvider(p)
			logger.Info("Registered federation provider", "provider", "google")
		}
	}
}
