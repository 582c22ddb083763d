package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/helix-auth/helix/engine"
	"github.com/helix-auth/helix/internal/testutil"
	"github.com/helix-auth/helix/storage"
)

func TestRegisterDevice(t *testing.T) {
	e, store, _ := newTestEngine(t)
	testutil.SeedConfidentialClient(t, store)

	auth, err := e.RegisterDevice(context.Background(), "test-client", "openid")
	if err != nil {
		t.Fatalf("device registration failed: %v", err)
	}

	if auth.DeviceCode == "" {
		t.Error("no device code issued")
	}
	if len(auth.UserCode) != engine.DefaultUserCodeLength {
		t.Errorf("user code length = %d, want %d", len(auth.UserCode), engine.DefaultUserCodeLength)
	}
	for _, ch := range auth.UserCode {
		if ch < 'A' || ch > 'Z' {
			t.Errorf("user code %q contains non-uppercase character %q", auth.UserCode, ch)
		}
	}
	if auth.ExpiresIn != 600 {
		t.Errorf("ExpiresIn = %d, want 600", auth.ExpiresIn)
	}
	if auth.Interval != 5 {
		t.Errorf("Interval = %d, want 5", auth.Interval)
	}
	if want := testutil.TestIssuer + "/device/auth"; auth.VerificationURI != want {
		t.Errorf("VerificationURI = %q, want %q", auth.VerificationURI, want)
	}
	if !strings.Contains(auth.VerificationURIComplete, "user_code="+auth.UserCode) {
		t.Errorf("VerificationURIComplete %q does not carry the user code", auth.VerificationURIComplete)
	}
}

func TestRegisterDevice_UnknownClient(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.RegisterDevice(context.Background(), "nope", "")
	requireOAuthError(t, err, engine.ErrorCodeInvalidClient)
}

func TestDeviceFlow_EndToEnd(t *testing.T) {
	e, store, _ := newTestEngine(t)
	testutil.SeedConfidentialClient(t, store)
	testutil.SeedUser(t, store)

	auth, err := e.RegisterDevice(context.Background(), "test-client", "openid")
	if err != nil {
		t.Fatalf("device registration failed: %v", err)
	}

	poll := func() (*engine.TokenSet, error) {
		return e.GetTokens(context.Background(), &engine.TokenRequest{
			GrantType:  engine.GrantTypeDeviceCode,
			ClientID:   "test-client",
			DeviceCode: auth.DeviceCode,
		})
	}

	// Not yet approved.
	_, err = poll()
	requireOAuthError(t, err, engine.ErrorCodeAuthorizationPending)

	// The user approves in the browser; the user_code travels in the
	// scope field of the authorization request.
	redirectURL, err := e.GetRedirectURL(context.Background(), &engine.AuthorizeRequest{
		ClientID:     "test-client",
		ResponseType: engine.ResponseTypeDeviceCode,
		Scope:        "user_code=" + auth.UserCode,
		Username:     "alice",
		Password:     testutil.TestUserPassword,
	})
	if err != nil {
		t.Fatalf("device approval failed: %v", err)
	}
	if want := testutil.TestIssuer + "/device/auth/success"; redirectURL != want {
		t.Errorf("approval redirect = %q, want %q", redirectURL, want)
	}

	// Approval converts the pairing; the user code is spent.
	if _, err := e.VerifyUserCode(context.Background(), auth.UserCode); err == nil {
		t.Error("user code must not survive approval")
	}

	set, err := poll()
	if err != nil {
		t.Fatalf("poll after approval failed: %v", err)
	}
	if set.AccessToken == "" || set.IDToken == "" || set.RefreshToken == "" {
		t.Error("incomplete token set after device approval")
	}

	// The device code is single use.
	_, err = poll()
	requireOAuthError(t, err, engine.ErrorCodeInvalidGrant)
}

func TestDeviceApproval_RequiresUserCodeInScope(t *testing.T) {
	e, store, _ := newTestEngine(t)
	testutil.SeedConfidentialClient(t, store)
	testutil.SeedUser(t, store)

	_, err := e.GetRedirectURL(context.Background(), &engine.AuthorizeRequest{
		ClientID:     "test-client",
		ResponseType: engine.ResponseTypeDeviceCode,
		Scope:        "openid",
		Username:     "alice",
		Password:     testutil.TestUserPassword,
	})
	requireOAuthError(t, err, engine.ErrorCodeInvalidRequest)
}

func TestVerifyUserCode(t *testing.T) {
	e, store, _ := newTestEngine(t)
	testutil.SeedConfidentialClient(t, store)

	auth, err := e.RegisterDevice(context.Background(), "test-client", "")
	if err != nil {
		t.Fatalf("device registration failed: %v", err)
	}

	authorizeURL, err := e.VerifyUserCode(context.Background(), auth.UserCode)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !strings.HasPrefix(authorizeURL, testutil.TestIssuer+"/authorize?") {
		t.Errorf("verify URL %q does not target the authorization endpoint", authorizeURL)
	}
	if got := queryParam(t, authorizeURL, "client_id"); got != "test-client" {
		t.Errorf("client_id = %q, want test-client", got)
	}
	if got := queryParam(t, authorizeURL, "scope"); got != "user_code="+auth.UserCode {
		t.Errorf("scope = %q, want user_code=%s", got, auth.UserCode)
	}

	_, err = e.VerifyUserCode(context.Background(), "NOTACODE")
	requireOAuthError(t, err, engine.ErrorCodeInvalidRequest)
}

func TestCancelDevice(t *testing.T) {
	e, store, _ := newTestEngine(t)
	testutil.SeedConfidentialClient(t, store)

	auth, err := e.RegisterDevice(context.Background(), "test-client", "")
	if err != nil {
		t.Fatalf("device registration failed: %v", err)
	}

	cancelURL, err := e.CancelDevice(context.Background(), auth.UserCode)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if want := testutil.TestIssuer + "/device/auth/cancel"; cancelURL != want {
		t.Errorf("cancel redirect = %q, want %q", cancelURL, want)
	}

	_, err = e.VerifyUserCode(context.Background(), auth.UserCode)
	requireOAuthError(t, err, engine.ErrorCodeInvalidRequest)
}

func TestDeviceCode_Expired(t *testing.T) {
	e, store, _ := newTestEngine(t)
	testutil.SeedConfidentialClient(t, store)

	device := &storage.Device{
		ClientID:   "test-client",
		DeviceCode: "expired-device-code",
		UserCode:   "AAAABBBB",
		ExpiresIn:  60,
		CreatedAt:  time.Now().Add(-2 * time.Minute),
	}
	if err := store.CreateDevice(context.Background(), device); err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}

	_, err := e.VerifyUserCode(context.Background(), device.UserCode)
	requireOAuthError(t, err, engine.ErrorCodeExpiredToken)

	_, err = e.GetTokens(context.Background(), &engine.TokenRequest{
		GrantType:  engine.GrantTypeDeviceCode,
		ClientID:   "test-client",
		DeviceCode: device.DeviceCode,
	})
	requireOAuthError(t, err, engine.ErrorCodeInvalidGrant)
}
