package helix

import (
	"log/slog"
	"time"

	"github.com/helix-auth/helix/engine"
)

// Config holds the HTTP-facing configuration of the provider.
// Protocol lifetimes and issuer settings live in Engine (engine.Config);
// this struct covers the outer surface: rate limiting, proxy trust,
// security opt-ins, and logging.
type Config struct {
	// Engine is the protocol engine configuration (issuer, TTLs, PKCE).
	Engine engine.Config

	// RateLimit is the per-IP rate limiting configuration.
	RateLimit RateLimitConfig

	// Security holds the opt-in security settings.
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// CleanupInterval is how often to cleanup inactive rate limiters.
	CleanupInterval time.Duration

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used to pick the right hop out of X-Forwarded-For.
	TrustedProxyCount int
}

// SecurityConfig holds security settings (secure by default)
type SecurityConfig struct {
	// EncryptionKey is the AES-256 key (32 bytes) for encrypting PKCE
	// challenges at rest. Nil disables encryption.
	// Generate with security.GenerateKey().
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging.
	// Sensitive identifiers are hashed before they reach the log.
	EnableAuditLogging bool
}
