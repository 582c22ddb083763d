package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helix-auth/helix/security"
	"github.com/helix-auth/helix/storage"
)

// Response type values dispatched by the authorization endpoint.
const (
	ResponseTypeCode         = "code"
	ResponseTypeToken        = "token"
	ResponseTypeIDToken      = "id_token"
	ResponseTypeIDTokenToken = "id_token token"
	ResponseTypeDeviceCode   = "urn:ietf:params:oauth:grant-type:device_code"
)

// AuthorizeRequest carries the parameters of an authorization request after
// the resource owner submitted the login form.
type AuthorizeRequest struct {
	ClientID            string
	ResponseType        string
	Scope               string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Username            string
	Password            string
}

// authorizeContext is the validated context a response-type handler runs in.
type authorizeContext struct {
	client *storage.Client
	user   *storage.User
	scope  string
	req    *AuthorizeRequest
}

type responseTypeHandler func(ctx context.Context, ac *authorizeContext) (string, error)

// GetRedirectURL validates an authorization request and produces the redirect
// URL carrying the artifact selected by response_type. Validation order:
// client, redirect URI, scope, resource-owner credentials, PKCE persistence,
// then the response-type strategy. The first failure aborts the request.
func (e *Engine) GetRedirectURL(ctx context.Context, req *AuthorizeRequest) (string, error) {
	handler, ok := e.responseHandlers[req.ResponseType]
	if !ok {
		return "", ErrUnsupportedResponseType(fmt.Sprintf("unsupported response_type: %s", req.ResponseType))
	}

	client, err := e.clients.ValidateClient(ctx, req.ClientID)
	if err != nil {
		e.auditFailure("", req.ClientID, ErrorCodeInvalidClient)
		return "", err
	}
	if err := e.clients.ValidateResponseType(client, req.ResponseType); err != nil {
		e.auditFailure("", req.ClientID, ErrorCodeUnauthorizedClient)
		return "", err
	}

	// The device branch redirects to the fixed confirmation page, not to the
	// client, and its scope field carries the user_code instead of scopes.
	isDeviceApproval := req.ResponseType == ResponseTypeDeviceCode

	grantedScope := ""
	if !isDeviceApproval {
		if err := e.clients.ValidateRedirectURI(client, req.RedirectURI); err != nil {
			e.auditFailure("", req.ClientID, ErrorCodeInvalidRedirectURI)
			return "", err
		}
		grantedScope, err = e.scopes.Resolve(req.Scope, client)
		if err != nil {
			e.auditFailure("", req.ClientID, ErrorCodeInvalidScope)
			return "", err
		}
	}

	user, err := e.users.ValidateCredentials(ctx, req.Username, req.Password)
	if err != nil {
		e.auditFailure("", req.ClientID, ErrorCodeAccessDenied)
		return "", err
	}

	if req.CodeChallenge != "" {
		if err := e.pkce.Save(ctx, client.ClientID, req.CodeChallenge, req.CodeChallengeMethod); err != nil {
			return "", err
		}
	} else if client.RequirePKCE && req.ResponseType == ResponseTypeCode {
		return "", ErrInvalidRequest("code_challenge is required for this client")
	}

	redirectURL, err := handler(ctx, &authorizeContext{
		client: client,
		user:   user,
		scope:  grantedScope,
		req:    req,
	})
	if err != nil {
		return "", err
	}

	if req.State != "" {
		redirectURL = appendParams(redirectURL, url.Values{"state": {req.State}})
	}

	e.countAuthorization(ctx, req.ResponseType)
	e.Logger.Info("Authorization granted",
		"client_id", client.ClientID,
		"response_type", req.ResponseType,
		"subject", user.ID)

	return redirectURL, nil
}

// handleCodeResponse creates a single-use code grant and appends it to the
// client redirect URI.
func (e *Engine) handleCodeResponse(ctx context.Context, ac *authorizeContext) (string, error) {
	code := generateRandomToken()

	grant := &storage.PersistentGrant{
		Key:        uuid.NewString(),
		ClientID:   ac.client.ClientID,
		SubjectID:  ac.user.ID,
		GrantType:  storage.GrantTypeCode,
		Data:       code,
		Expiration: time.Now().Add(e.Config.AuthorizationCodeTTL).Unix(),
		CreatedAt:  time.Now(),
	}
	if err := e.store.CreateGrant(ctx, grant); err != nil {
		return "", fmt.Errorf("failed to persist authorization code: %w", err)
	}

	return appendParams(ac.req.RedirectURI, url.Values{"code": {code}}), nil
}

// handleTokenResponse mints an access token directly (implicit flow).
// No grant is persisted.
func (e *Engine) handleTokenResponse(_ context.Context, ac *authorizeContext) (string, error) {
	ttl := e.Config.accessTokenTTLFor(ac.client.AccessTokenTTL)
	accessToken, err := e.mintAccessToken(ac.user.ID, ac.client.ClientID, ac.scope, ttl)
	if err != nil {
		return "", err
	}

	return appendParams(ac.req.RedirectURI, url.Values{
		"access_token": {accessToken},
		"token_type":   {"Bearer"},
		"expires_in":   {strconv.FormatInt(int64(ttl.Seconds()), 10)},
	}), nil
}

// handleIDTokenResponse mints an ID token from the user's claims.
func (e *Engine) handleIDTokenResponse(_ context.Context, ac *authorizeContext) (string, error) {
	idToken, err := e.mintIDToken(ac.user, ac.client.ClientID, ac.scope)
	if err != nil {
		return "", err
	}

	return appendParams(ac.req.RedirectURI, url.Values{"id_token": {idToken}}), nil
}

// handleIDTokenTokenResponse mints both an ID token and an access token.
func (e *Engine) handleIDTokenTokenResponse(_ context.Context, ac *authorizeContext) (string, error) {
	ttl := e.Config.accessTokenTTLFor(ac.client.AccessTokenTTL)
	accessToken, err := e.mintAccessToken(ac.user.ID, ac.client.ClientID, ac.scope, ttl)
	if err != nil {
		return "", err
	}
	idToken, err := e.mintIDToken(ac.user, ac.client.ClientID, ac.scope)
	if err != nil {
		return "", err
	}

	return appendParams(ac.req.RedirectURI, url.Values{
		"access_token": {accessToken},
		"token_type":   {"Bearer"},
		"expires_in":   {strconv.FormatInt(int64(ttl.Seconds()), 10)},
		"id_token":     {idToken},
	}), nil
}

// handleDeviceResponse converts an approved device pairing into a device_code
// grant. The user_code arrives in the scope field; the pairing row is deleted
// the moment the grant exists so the approval cannot be replayed.
func (e *Engine) handleDeviceResponse(ctx context.Context, ac *authorizeContext) (string, error) {
	userCode, err := userCodeFromScope(ac.req.Scope)
	if err != nil {
		return "", err
	}

	device, err := e.store.GetDeviceByUserCode(ctx, userCode)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return "", ErrInvalidRequest("user code not found")
		}
		return "", fmt.Errorf("failed to look up device: %w", err)
	}
	if device.Expired(time.Now()) {
		_ = e.store.DeleteDeviceByUserCode(ctx, userCode)
		return "", ErrExpiredToken("user code has expired")
	}

	grant := &storage.PersistentGrant{
		Key:        uuid.NewString(),
		ClientID:   device.ClientID,
		SubjectID:  ac.user.ID,
		GrantType:  storage.GrantTypeDeviceCode,
		Data:       device.DeviceCode,
		Expiration: time.Now().Add(e.Config.AuthorizationCodeTTL).Unix(),
		CreatedAt:  time.Now(),
	}
	if err := e.store.CreateGrant(ctx, grant); err != nil {
		return "", fmt.Errorf("failed to persist device grant: %w", err)
	}

	if err := e.store.DeleteDeviceByUserCode(ctx, userCode); err != nil && !errors.Is(err, storage.ErrDeviceNotFound) {
		e.Logger.Warn("Failed to delete approved device pairing", "error", err)
	}

	if e.Auditor != nil {
		e.Auditor.LogEvent(security.Event{
			Type:     "device_authorization_approved",
			ClientID: device.ClientID,
			UserID:   ac.user.ID,
		})
	}

	return e.Config.Issuer + e.Config.DeviceSuccessPath, nil
}

// userCodeFromScope extracts the user_code parameter smuggled through the
// scope field of a device approval request.
func userCodeFromScope(scope string) (string, error) {
	for _, field := range strings.Fields(scope) {
		if code, ok := strings.CutPrefix(field, "user_code="); ok && code != "" {
			return code, nil
		}
	}
	return "", ErrInvalidRequest("user_code is required in scope")
}

// auditFailure records an authorization failure when an auditor is wired.
func (e *Engine) auditFailure(userID, clientID, reason string) {
	if e.Auditor != nil {
		e.Auditor.LogAuthFailure(userID, clientID, reason)
	}
}
