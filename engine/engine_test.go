package engine_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/helix-auth/helix/engine"
	"github.com/helix-auth/helix/internal/testutil"
	"github.com/helix-auth/helix/jwt"
	"github.com/helix-auth/helix/storage/memory"
)

// testVerifier is the RFC 7636 appendix B example verifier, 43 characters.
const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

func challengeS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*engine.Engine, *memory.Store, *jwt.Manager) {
	t.Helper()
	store := testutil.NewStore(t)
	tokens := testutil.NewTokenManager(t)
	e, err := engine.New(store, tokens, &engine.Config{Issuer: testutil.TestIssuer}, discardLogger())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e, store, tokens
}

// requireOAuthError fails the test unless err is an OAuthError with the
// given code.
func requireOAuthError(t *testing.T, err error, code string) *engine.OAuthError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var oe *engine.OAuthError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OAuthError, got %T: %v", err, err)
	}
	if oe.Code != code {
		t.Fatalf("error code = %q, want %q (description: %s)", oe.Code, code, oe.Description)
	}
	return oe
}

// queryParam extracts a query parameter from a redirect URL.
func queryParam(t *testing.T, rawURL, name string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse redirect URL %q: %v", rawURL, err)
	}
	return u.Query().Get(name)
}

// authorizeCode runs the code-response authorization for the seeded
// confidential client and alice, returning the one-time code.
func authorizeCode(t *testing.T, e *engine.Engine, clientID, redirectURI, scope string) string {
	t.Helper()
	redirectURL, err := e.GetRedirectURL(context.Background(), &engine.AuthorizeRequest{
		ClientID:     clientID,
		ResponseType: engine.ResponseTypeCode,
		RedirectURI:  redirectURI,
		Scope:        scope,
		Username:     "alice",
		Password:     testutil.TestUserPassword,
	})
	if err != nil {
		t.Fatalf("authorization failed: %v", err)
	}
	code := queryParam(t, redirectURL, "code")
	if code == "" {
		t.Fatalf("redirect URL %q carries no code", redirectURL)
	}
	return code
}
