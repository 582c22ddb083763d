// Package engine implements the OAuth2 / OpenID-Connect protocol core: the
// authorization response-type dispatcher, the token-issuance grant-type
// dispatcher, PKCE, the device-authorization flow, upstream federation, and
// session termination. The engine is stateless between calls; all durable
// state lives behind the storage interfaces.
package engine

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/helix-auth/helix/instrumentation"
	"github.com/helix-auth/helix/jwt"
	"github.com/helix-auth/helix/providers"
	"github.com/helix-auth/helix/security"
	"github.com/helix-auth/helix/storage"
)

// safeTruncate safely truncates a string to maxLen characters without panicking.
// Used when logging credential material so only a short prefix ever reaches logs.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Engine coordinates the protocol flows. Validation is delegated to the
// injected per-concern validators; persistence goes through the storage
// interfaces; token minting goes through the JWT manager.
type Engine struct {
	store     storage.Store
	tokens    *jwt.Manager
	clients   *ClientValidator
	users     *UserValidator
	scopes    *ScopeResolver
	pkce      *PKCEValidator
	providers map[string]providers.Provider

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	metrics *instrumentation.Metrics

	responseHandlers map[string]responseTypeHandler
	grantHandlers    map[string]grantTypeHandler
}

// New creates a protocol engine. The store, token manager, and issuer are
// required; everything else has safe defaults.
func New(store storage.Store, tokens *jwt.Manager, config *Config, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		config.Issuer = tokens.Issuer()
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	// S256 challenges are encrypted at rest even without an operator key.
	// The process-local key here outlives the challenge TTL; SetEncryptor
	// replaces it when a configured key is available.
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	encryptor, err := security.NewEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	e := &Engine{
		store:     store,
		tokens:    tokens,
		clients:   &ClientValidator{store: store, logger: logger},
		users:     &UserValidator{store: store, logger: logger},
		scopes:    &ScopeResolver{},
		pkce:      &PKCEValidator{store: store, encryptor: encryptor, allowPlain: config.AllowPKCEPlain, logger: logger},
		providers: make(map[string]providers.Provider),
		Logger:    logger,
		Config:    config,
	}

	// Closed dispatch tables. A response type or grant type outside these maps
	// is rejected, never defaulted.
	e.responseHandlers = map[string]responseTypeHandler{
		ResponseTypeCode:         e.handleCodeResponse,
		ResponseTypeToken:        e.handleTokenResponse,
		ResponseTypeIDToken:      e.handleIDTokenResponse,
		ResponseTypeIDTokenToken: e.handleIDTokenTokenResponse,
		ResponseTypeDeviceCode:   e.handleDeviceResponse,
	}
	e.grantHandlers = map[string]grantTypeHandler{
		GrantTypeAuthorizationCode: e.handleAuthorizationCodeGrant,
		GrantTypeRefreshToken:      e.handleRefreshTokenGrant,
		GrantTypeClientCredentials: e.handleClientCredentialsGrant,
		GrantTypeDeviceCode:        e.handleDeviceCodeGrant,
	}

	return e, nil
}

// SetEncryptor sets the encryptor used for PKCE challenges at rest.
func (e *Engine) SetEncryptor(enc *security.Encryptor) {
	e.pkce.encryptor = enc
}

// SetAuditor sets the security auditor.
func (e *Engine) SetAuditor(aud *security.Auditor) {
	e.Auditor = aud
}

// SetInstrumentation wires metric instruments into the engine.
func (e *Engine) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		e.metrics = inst.Metrics()
	}
}

// RegisterProvider registers an upstream federation provider under its name.
func (e *Engine) RegisterProvider(p providers.Provider) {
	e.providers[p.Name()] = p
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for codes, device codes, and state
// nonces.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// appendParams appends query parameters to a base URL, respecting any query
// string the URL already carries.
func appendParams(base string, params url.Values) string {
	if len(params) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
