// Package helix implements an OAuth 2.0 / OpenID Connect identity provider.
// The root package is the HTTP adapter: it wires the protocol engine,
// token manager, storage backend, and security layers together and exposes
// them as standard net/http handlers.
package helix

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helix-auth/helix/engine"
	"github.com/helix-auth/helix/instrumentation"
	"github.com/helix-auth/helix/jwt"
	"github.com/helix-auth/helix/providers"
	"github.com/helix-auth/helix/security"
	"github.com/helix-auth/helix/storage"
)

// Server bundles the engine with its collaborators. Construct it with
// NewServer and hand it to NewHandler for the HTTP surface.
type Server struct {
	Engine          *engine.Engine
	Tokens          *jwt.Manager
	Store           storage.Store
	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter
	Instrumentation *instrumentation.Instrumentation
	Config          *Config

	logger *slog.Logger
}

// NewServer creates a fully wired provider on top of the given storage
// backend and token manager.
func NewServer(store storage.Store, tokens *jwt.Manager, config *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eng, err := engine.New(store, tokens, &config.Engine, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	s := &Server{
		Engine: eng,
		Tokens: tokens,
		Store:  store,
		Config: config,
		logger: logger,
	}

	if len(config.Security.EncryptionKey) > 0 {
		enc, err := security.NewEncryptor(config.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to build encryptor: %w", err)
		}
		eng.SetEncryptor(enc)
	}

	if config.Security.EnableAuditLogging {
		s.Auditor = security.NewAuditor(logger, true)
		eng.SetAuditor(s.Auditor)
	}

	if config.RateLimit.Rate > 0 {
		s.RateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
	}

	return s, nil
}

// SetInstrumentation attaches OpenTelemetry instrumentation to the server
// and its engine. Must be called before NewHandler for HTTP spans to work.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	s.Engine.SetInstrumentation(inst)
}

// RegisterProvider makes an upstream federation provider available under
// its name on the federation endpoints.
func (s *Server) RegisterProvider(p providers.Provider) {
	s.Engine.RegisterProvider(p)
}

// Close releases background resources (rate limiter goroutine,
// instrumentation providers). Safe to call once at shutdown.
func (s *Server) Close(ctx context.Context) error {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
	if s.Instrumentation != nil {
		return s.Instrumentation.Shutdown(ctx)
	}
	return nil
}
