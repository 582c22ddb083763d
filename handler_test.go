package helix

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/helix-auth/helix/engine"
	"github.com/helix-auth/helix/internal/testutil"
	"github.com/helix-auth/helix/jwt"
	"github.com/helix-auth/helix/storage/memory"
)

type testEnv struct {
	mux    *http.ServeMux
	server *Server
	store  *memory.Store
}

func newTestEnv(t *testing.T, config *Config) *testEnv {
	t.Helper()

	store := testutil.NewStore(t)
	tokens := testutil.NewTokenManager(t)

	if config == nil {
		config = &Config{}
	}
	if config.Engine.Issuer == "" {
		config.Engine.Issuer = testutil.TestIssuer
	}
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	server, err := NewServer(store, tokens, config)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(func() { _ = server.Close(context.Background()) })

	mux := http.NewServeMux()
	NewHandler(server, config.Logger).RegisterRoutes(mux)

	testutil.SeedConfidentialClient(t, store)
	testutil.SeedUser(t, store)

	return &testEnv{mux: mux, server: server, store: store}
}

func (env *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// clientCredentialsToken mints an access token over HTTP for use as a bearer.
func clientCredentialsToken(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := env.postForm(PathToken, url.Values{
		"grant_type":    {engine.GrantTypeClientCredentials},
		"client_id":     {"test-client"},
		"client_secret": {testutil.TestClientSecret},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("client credentials request failed: %d %s", rec.Code, rec.Body.String())
	}
	return decodeJSON[TokenResponse](t, rec).AccessToken
}

func TestHandler_Discovery(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(PathDiscovery)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	doc := decodeJSON[OpenIDConfiguration](t, rec)

	if doc.Issuer != testutil.TestIssuer {
		t.Errorf("issuer = %q, want %q", doc.Issuer, testutil.TestIssuer)
	}
	if doc.TokenEndpoint != testutil.TestIssuer+PathToken {
		t.Errorf("token_endpoint = %q", doc.TokenEndpoint)
	}
	if doc.JWKSURI != testutil.TestIssuer+PathJWKS {
		t.Errorf("jwks_uri = %q", doc.JWKSURI)
	}
	if len(doc.GrantTypesSupported) != 4 {
		t.Errorf("grant_types_supported = %v, want 4 entries", doc.GrantTypesSupported)
	}
	if len(doc.CodeChallengeMethodsSupported) != 1 || doc.CodeChallengeMethodsSupported[0] != engine.PKCEMethodS256 {
		t.Errorf("code_challenge_methods_supported = %v, want [S256]", doc.CodeChallengeMethodsSupported)
	}
}

func TestHandler_JWKS(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(PathJWKS)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	keys := decodeJSON[jwt.JSONWebKeySet](t, rec)
	if len(keys.Keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(keys.Keys))
	}
	if keys.Keys[0].Kty != "RSA" || keys.Keys[0].Alg != "RS256" {
		t.Errorf("key = %+v, want RSA/RS256", keys.Keys[0])
	}
}

func TestHandler_CodeFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postForm(PathAuthorize, url.Values{
		"response_type": {engine.ResponseTypeCode},
		"client_id":     {"test-client"},
		"redirect_uri":  {"https://rp.example.com/callback"},
		"scope":         {"openid profile"},
		"state":         {"s123"},
		"username":      {"alice"},
		"password":      {testutil.TestUserPassword},
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302: %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad Location header: %v", err)
	}
	if loc.Query().Get("state") != "s123" {
		t.Errorf("state = %q, want s123", loc.Query().Get("state"))
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatal("redirect carries no code")
	}

	rec = env.postForm(PathToken, url.Values{
		"grant_type": {engine.GrantTypeAuthorizationCode},
		"client_id":  {"test-client"},
		"code":       {code},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}

	tokens := decodeJSON[TokenResponse](t, rec)
	if tokens.AccessToken == "" || tokens.IDToken == "" || tokens.RefreshToken == "" {
		t.Errorf("incomplete token response: %+v", tokens)
	}
	if tokens.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", tokens.TokenType)
	}
}

func TestHandler_TokenErrorShape(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postForm(PathToken, url.Values{
		"grant_type": {"password"},
		"client_id":  {"test-client"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeJSON[ErrorResponse](t, rec)
	if body.Error != ErrorCodeUnsupportedGrantType {
		t.Errorf("error = %q, want %q", body.Error, ErrorCodeUnsupportedGrantType)
	}
	if body.ErrorDescription == "" {
		t.Error("error_description missing")
	}
}

func TestHandler_TokenMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(PathToken)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandler_TokenBasicAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	form := url.Values{"grant_type": {engine.GrantTypeClientCredentials}}
	req := httptest.NewRequest(http.MethodPost, PathToken, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("test-client", testutil.TestClientSecret)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	tokens := decodeJSON[TokenResponse](t, rec)
	if tokens.AccessToken == "" {
		t.Error("no access token issued")
	}
	if tokens.RefreshToken != "" || tokens.IDToken != "" {
		t.Errorf("client credentials must not issue refresh or ID tokens: %+v", tokens)
	}
}

func TestHandler_DeviceRegistration(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postForm(PathDevice, url.Values{
		"client_id": {"test-client"},
		"scope":     {"openid"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	device := decodeJSON[DeviceAuthorizationResponse](t, rec)
	if device.DeviceCode == "" || len(device.UserCode) != engine.DefaultUserCodeLength {
		t.Errorf("bad device response: %+v", device)
	}
	if device.Interval != 5 || device.ExpiresIn != 600 {
		t.Errorf("interval/expires_in = %d/%d, want 5/600", device.Interval, device.ExpiresIn)
	}
	if device.VerificationURI != testutil.TestIssuer+PathDeviceAuth {
		t.Errorf("verification_uri = %q", device.VerificationURI)
	}
}

func TestHandler_DeviceVerificationRedirect(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postForm(PathDevice, url.Values{"client_id": {"test-client"}})
	device := decodeJSON[DeviceAuthorizationResponse](t, rec)

	// The user code is normalized before lookup.
	rec = env.postForm(PathDeviceAuth, url.Values{
		"user_code": {"  " + strings.ToLower(device.UserCode) + "  "},
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302: %s", rec.Code, rec.Body.String())
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, testutil.TestIssuer+PathAuthorize+"?") {
		t.Errorf("Location = %q, want the authorization endpoint", loc)
	}

	rec = env.postForm(PathDeviceAuth, url.Values{
		"user_code": {device.UserCode},
		"action":    {"cancel"},
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("cancel status = %d, want 302: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_UserinfoRequiresBearer(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(PathUserinfo)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer", got)
	}
	body := decodeJSON[ErrorResponse](t, rec)
	if body.Error != ErrorCodeInvalidToken {
		t.Errorf("error = %q, want %q", body.Error, ErrorCodeInvalidToken)
	}
}

func TestHandler_IntrospectionAndRevocation(t *testing.T) {
	env := newTestEnv(t, nil)
	bearer := clientCredentialsToken(t, env)

	introspect := func(token string) map[string]any {
		t.Helper()
		form := url.Values{"token": {token}}
		req := httptest.NewRequest(http.MethodPost, PathIntrospection, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+bearer)
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("introspection status = %d: %s", rec.Code, rec.Body.String())
		}
		return decodeJSON[map[string]any](t, rec)
	}

	if result := introspect(bearer); result["active"] != true {
		t.Errorf("live token reported inactive: %v", result)
	}

	form := url.Values{"token": {bearer}}
	req := httptest.NewRequest(http.MethodPost, PathRevocation, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+bearer)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("revocation status = %d: %s", rec.Code, rec.Body.String())
	}

	// The revoked token no longer authenticates the introspection call.
	req = httptest.NewRequest(http.MethodPost, PathIntrospection, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+bearer)
	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("introspection with revoked bearer = %d, want 401", rec.Code)
	}
}

func TestHandler_EndSession(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postForm(PathAuthorize, url.Values{
		"response_type": {engine.ResponseTypeIDToken},
		"client_id":     {"test-client"},
		"redirect_uri":  {"https://rp.example.com/callback"},
		"scope":         {"openid"},
		"username":      {"alice"},
		"password":      {testutil.TestUserPassword},
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("authorize status = %d: %s", rec.Code, rec.Body.String())
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	idToken := loc.Query().Get("id_token")
	if idToken == "" {
		t.Fatal("no id_token issued")
	}

	rec = env.get(PathEndSession + "?id_token_hint=" + url.QueryEscape(idToken))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}

	rec = env.get(PathEndSession)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing hint status = %d, want 400", rec.Code)
	}
}

func TestHandler_FederationPathDispatch(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(PathFederation + "github")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for a bare provider path", rec.Code)
	}

	rec = env.get(PathFederation + "github/login?client_id=test-client&redirect_uri=" +
		url.QueryEscape("https://rp.example.com/callback"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an unregistered provider: %s", rec.Code, rec.Body.String())
	}

	// An upstream error short-circuits before any engine work.
	rec = env.get(PathFederation + "github/callback?error=access_denied&error_description=user+said+no")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeJSON[ErrorResponse](t, rec)
	if body.Error != "access_denied" {
		t.Errorf("error = %q, want access_denied", body.Error)
	}
}

func TestHandler_RateLimit(t *testing.T) {
	env := newTestEnv(t, &Config{
		RateLimit: RateLimitConfig{Rate: 1, Burst: 1},
	})

	form := url.Values{"grant_type": {engine.GrantTypeClientCredentials}, "client_id": {"test-client"}}
	first := env.postForm(PathToken, form)
	if first.Code == http.StatusTooManyRequests {
		t.Fatalf("first request must pass, got 429")
	}

	second := env.postForm(PathToken, form)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", second.Code)
	}
	body := decodeJSON[ErrorResponse](t, second)
	if body.Error != ErrorCodeRateLimitExceeded {
		t.Errorf("error = %q, want %q", body.Error, ErrorCodeRateLimitExceeded)
	}
}

func TestHandler_SecurityHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(PathDiscovery)
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}
