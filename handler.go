package helix

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/helix-auth/helix/engine"
	"github.com/helix-auth/helix/instrumentation"
	"github.com/helix-auth/helix/jwt"
	"github.com/helix-auth/helix/security"
)

const tokenTypeBearer = "Bearer"

// Endpoint paths served by the handler. The trailing slashes on the
// token-management endpoints are part of the public API.
const (
	PathAuthorize     = "/authorize"
	PathToken         = "/token"
	PathDevice        = "/device/"
	PathDeviceAuth    = "/device/auth"
	PathIntrospection = "/introspection/"
	PathRevocation    = "/revoke/"
	PathUserinfo      = "/userinfo/"
	PathEndSession    = "/endsession/"
	PathDiscovery     = "/.well-known/openid-configuration"
	PathJWKS          = "/.well-known/jwks"
	PathFederation    = "/federation/"
)

// Handler exposes the provider over HTTP.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	if server.Instrumentation != nil {
		h.tracer = server.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes mounts every endpoint on the given mux, wrapped in the
// request-ID middleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	wrap := func(fn http.HandlerFunc) http.Handler {
		return security.RequestIDMiddleware(fn)
	}

	mux.Handle(PathAuthorize, wrap(h.ServeAuthorization))
	mux.Handle(PathToken, wrap(h.ServeToken))
	mux.Handle(PathDevice, wrap(h.ServeDeviceRegistration))
	mux.Handle(PathDeviceAuth, wrap(h.ServeDeviceVerification))
	mux.Handle(PathIntrospection, wrap(h.ServeTokenIntrospection))
	mux.Handle(PathRevocation, wrap(h.ServeTokenRevocation))
	mux.Handle(PathUserinfo, wrap(h.ServeUserinfo))
	mux.Handle(PathEndSession, wrap(h.ServeEndSession))
	mux.Handle(PathDiscovery, wrap(h.ServeOpenIDConfiguration))
	mux.Handle(PathJWKS, wrap(h.ServeJWKS))
	mux.Handle(PathFederation, wrap(h.ServeFederation))
}

// ServeAuthorization handles the authorization endpoint. GET renders the
// request back to the caller; POST carries the resource-owner credentials
// from the login form and completes the flow with a redirect.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "helix.http.authorization")
		defer span.End()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkIPRateLimit(w, r, "authorization") {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	req := &engine.AuthorizeRequest{
		ClientID:            r.Form.Get("client_id"),
		ResponseType:        r.Form.Get("response_type"),
		Scope:               r.Form.Get("scope"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		State:               r.Form.Get("state"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		Username:            r.PostForm.Get("username"),
		Password:            r.PostForm.Get("password"),
	}

	instrumentation.AddRequestAttributes(span, req.ClientID, "", req.ResponseType)

	redirectURL, err := h.server.Engine.GetRedirectURL(ctx, req)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "authorization", r.Method, status, startTime)
		instrumentation.RecordError(span, err)
		return
	}

	h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// ServeToken handles the token endpoint for all four grant types.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "helix.http.token")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkIPRateLimit(w, r, "token") {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	req := &engine.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		Code:         r.PostForm.Get("code"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		DeviceCode:   r.PostForm.Get("device_code"),
		Scope:        r.PostForm.Get("scope"),
	}

	// Confidential clients may authenticate with HTTP Basic instead of
	// form parameters.
	if id, secret, ok := r.BasicAuth(); ok {
		if req.ClientID == "" {
			req.ClientID = id
		}
		if req.ClientSecret == "" {
			req.ClientSecret = secret
		}
	}

	instrumentation.AddRequestAttributes(span, req.ClientID, req.GrantType, "")

	tokens, err := h.server.Engine.GetTokens(ctx, req)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "token", r.Method, status, startTime)
		instrumentation.RecordError(span, err)
		return
	}

	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusOK, &TokenResponse{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		ExpiresIn:    tokens.ExpiresIn,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		Scope:        req.Scope,
	})
}

// ServeDeviceRegistration handles the RFC 8628 device authorization
// endpoint: the polling client trades its client_id for a device/user
// code pair.
func (h *Handler) ServeDeviceRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "device", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkIPRateLimit(w, r, "device") {
		h.recordHTTPMetrics(ctx, "device", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "device", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	device, err := h.server.Engine.RegisterDevice(ctx, r.PostForm.Get("client_id"), r.PostForm.Get("scope"))
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "device", r.Method, status, startTime)
		return
	}

	h.recordHTTPMetrics(ctx, "device", r.Method, http.StatusOK, startTime)

	h.writeJSON(w, http.StatusOK, &DeviceAuthorizationResponse{
		DeviceCode:              device.DeviceCode,
		UserCode:                device.UserCode,
		VerificationURI:         device.VerificationURI,
		VerificationURIComplete: device.VerificationURIComplete,
		ExpiresIn:               device.ExpiresIn,
		Interval:                device.Interval,
	})
}

// ServeDeviceVerification handles the browser side of the device flow:
// the user submits the short code (POST action=verify) to be sent into
// the authorization flow, or cancels the pairing (POST action=cancel).
func (h *Handler) ServeDeviceVerification(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "device_auth", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkIPRateLimit(w, r, "device_auth") {
		h.recordHTTPMetrics(ctx, "device_auth", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "device_auth", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	userCode := strings.ToUpper(strings.TrimSpace(r.PostForm.Get("user_code")))

	var redirectURL string
	var err error
	switch action := r.PostForm.Get("action"); action {
	case "", "verify":
		redirectURL, err = h.server.Engine.VerifyUserCode(ctx, userCode)
	case "cancel":
		redirectURL, err = h.server.Engine.CancelDevice(ctx, userCode)
	default:
		err = ErrInvalidRequest("unknown action " + action)
	}
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "device_auth", r.Method, status, startTime)
		return
	}

	h.recordHTTPMetrics(ctx, "device_auth", r.Method, http.StatusFound, startTime)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// ServeTokenIntrospection handles RFC 7662 introspection. The caller
// authenticates with a bearer token carrying the "introspection" audience.
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "introspection", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bearer, ok := h.extractBearerToken(w, r)
	if !ok {
		h.recordHTTPMetrics(ctx, "introspection", r.Method, http.StatusUnauthorized, startTime)
		return
	}
	if _, err := h.server.Engine.CheckBearer(ctx, bearer, jwt.AudienceIntrospection); err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "introspection", r.Method, status, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "introspection", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		h.recordHTTPMetrics(ctx, "introspection", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'token' missing", http.StatusBadRequest)
		return
	}

	result, err := h.server.Engine.Introspect(ctx, token)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "introspection", r.Method, status, startTime)
		return
	}

	h.recordHTTPMetrics(ctx, "introspection", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, result)
}

// ServeTokenRevocation handles RFC 7009 revocation. Per the RFC, unknown
// tokens still produce 200.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "revocation", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bearer, ok := h.extractBearerToken(w, r)
	if !ok {
		h.recordHTTPMetrics(ctx, "revocation", r.Method, http.StatusUnauthorized, startTime)
		return
	}
	if _, err := h.server.Engine.CheckBearer(ctx, bearer, jwt.AudienceRevoke); err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "revocation", r.Method, status, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "revocation", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		h.recordHTTPMetrics(ctx, "revocation", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'token' missing", http.StatusBadRequest)
		return
	}

	if err := h.server.Engine.Revoke(ctx, token); err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "revocation", r.Method, status, startTime)
		return
	}

	h.recordHTTPMetrics(ctx, "revocation", r.Method, http.StatusOK, startTime)
	security.SetSecurityHeaders(w, h.issuer())
	w.WriteHeader(http.StatusOK)
}

// ServeUserinfo handles the OpenID Connect userinfo endpoint.
func (h *Handler) ServeUserinfo(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "userinfo", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bearer, ok := h.extractBearerToken(w, r)
	if !ok {
		h.recordHTTPMetrics(ctx, "userinfo", r.Method, http.StatusUnauthorized, startTime)
		return
	}

	claims, err := h.server.Engine.Userinfo(ctx, bearer)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "userinfo", r.Method, status, startTime)
		return
	}

	h.recordHTTPMetrics(ctx, "userinfo", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, claims)
}

// ServeEndSession handles RP-initiated logout. With a valid
// post_logout_redirect_uri the browser is sent there, otherwise 204.
func (h *Handler) ServeEndSession(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "endsession", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	idTokenHint := q.Get("id_token_hint")
	if idTokenHint == "" {
		h.recordHTTPMetrics(ctx, "endsession", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'id_token_hint' missing", http.StatusBadRequest)
		return
	}

	redirectURL, err := h.server.Engine.EndSession(ctx, idTokenHint, q.Get("post_logout_redirect_uri"), q.Get("state"))
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "endsession", r.Method, status, startTime)
		return
	}

	if redirectURL == "" {
		h.recordHTTPMetrics(ctx, "endsession", r.Method, http.StatusNoContent, startTime)
		security.SetSecurityHeaders(w, h.issuer())
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.recordHTTPMetrics(ctx, "endsession", r.Method, http.StatusFound, startTime)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// ServeOpenIDConfiguration serves the discovery document.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := h.issuer()
	h.writeJSON(w, http.StatusOK, &OpenIDConfiguration{
		Issuer:                      issuer,
		AuthorizationEndpoint:       issuer + PathAuthorize,
		TokenEndpoint:               issuer + PathToken,
		DeviceAuthorizationEndpoint: issuer + PathDevice,
		UserinfoEndpoint:            issuer + PathUserinfo,
		EndSessionEndpoint:          issuer + PathEndSession,
		JWKSURI:                     issuer + PathJWKS,
		RevocationEndpoint:          issuer + PathRevocation,
		IntrospectionEndpoint:       issuer + PathIntrospection,
		ScopesSupported:             []string{engine.ScopeOpenID, engine.ScopeProfile, engine.ScopeEmail},
		ResponseTypesSupported: []string{
			engine.ResponseTypeCode,
			engine.ResponseTypeToken,
			engine.ResponseTypeIDToken,
			engine.ResponseTypeIDTokenToken,
			engine.ResponseTypeDeviceCode,
		},
		GrantTypesSupported: []string{
			engine.GrantTypeAuthorizationCode,
			engine.GrantTypeRefreshToken,
			engine.GrantTypeClientCredentials,
			engine.GrantTypeDeviceCode,
		},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "client_secret_basic"},
		CodeChallengeMethodsSupported:     h.supportedChallengeMethods(),
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat",
			"username", "name", "given_name", "family_name", "email", "groups", "roles",
		},
	})
}

// ServeJWKS serves the signing key set.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.server.Tokens.JWKS())
}

// ServeFederation dispatches /federation/{provider}/login and
// /federation/{provider}/callback.
func (h *Handler) ServeFederation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "federation", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkIPRateLimit(w, r, "federation") {
		h.recordHTTPMetrics(ctx, "federation", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	providerName, action, ok := splitFederationPath(r.URL.Path)
	if !ok {
		h.recordHTTPMetrics(ctx, "federation", r.Method, http.StatusNotFound, startTime)
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()

	var redirectURL string
	var err error
	switch action {
	case "login":
		redirectURL, err = h.server.Engine.StartFederation(ctx, providerName, q.Get("client_id"), q.Get("redirect_uri"))
	case "callback":
		if upstreamErr := q.Get("error"); upstreamErr != "" {
			h.recordHTTPMetrics(ctx, "federation", r.Method, http.StatusBadRequest, startTime)
			h.writeError(w, upstreamErr, q.Get("error_description"), http.StatusBadRequest)
			return
		}
		redirectURL, err = h.server.Engine.CompleteFederation(ctx, providerName, q.Get("state"), q.Get("code"))
	default:
		h.recordHTTPMetrics(ctx, "federation", r.Method, http.StatusNotFound, startTime)
		http.NotFound(w, r)
		return
	}
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "federation", r.Method, status, startTime)
		return
	}

	h.recordHTTPMetrics(ctx, "federation", r.Method, http.StatusFound, startTime)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// splitFederationPath parses "/federation/{provider}/{action}".
func splitFederationPath(p string) (provider, action string, ok bool) {
	rest := strings.TrimPrefix(p, PathFederation)
	if rest == p {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// extractBearerToken pulls the bearer token from the Authorization header,
// writing a 401 when absent or malformed.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeError(w, ErrorCodeInvalidToken, "Missing Authorization header", http.StatusUnauthorized)
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) {
		h.writeError(w, ErrorCodeInvalidToken, "Authorization header must use the Bearer scheme", http.StatusUnauthorized)
		return "", false
	}

	return parts[1], true
}

// checkIPRateLimit returns true when the request was rejected.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.server.RateLimiter == nil {
		return false
	}

	clientIP := security.GetClientIP(r, h.server.Config.RateLimit.TrustProxy, h.server.Config.RateLimit.TrustedProxyCount)
	if h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "endpoint", endpoint, "ip", clientIP)
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP)
	}
	h.countRateLimited(r.Context(), endpoint)
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// writeOAuthError writes err as an OAuth error response and returns the
// HTTP status used. Unexpected error values become opaque server errors so
// internal details never reach the client.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) int {
	if oauthErr, ok := err.(*OAuthError); ok {
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return oauthErr.Status
	}

	h.logger.Error("Unhandled error on protocol endpoint", "error", err)
	h.writeError(w, ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.issuer())

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.issuer())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) issuer() string {
	return h.server.Config.Engine.Issuer
}

func (h *Handler) supportedChallengeMethods() []string {
	methods := []string{engine.PKCEMethodS256}
	if h.server.Config.Engine.AllowPKCEPlain {
		methods = append(methods, engine.PKCEMethodPlain)
	}
	return methods
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	m := h.server.Instrumentation.Metrics()
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("method", method),
		attribute.Int("status", status),
	)
	if m.HTTPRequestsTotal != nil {
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	}
	if m.HTTPRequestDuration != nil {
		m.HTTPRequestDuration.Record(ctx, time.Since(startTime).Seconds(), attrs)
	}
}

func (h *Handler) countRateLimited(ctx context.Context, endpoint string) {
	if h.server.Instrumentation == nil {
		return
	}
	if c := h.server.Instrumentation.Metrics().RateLimitExceeded; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
	}
}
