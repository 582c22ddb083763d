package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helix-auth/helix/jwt"
	"github.com/helix-auth/helix/storage"
)

// Grant type values dispatched by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// TokenRequest carries the form parameters of a token request.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	CodeVerifier string
	RedirectURI  string
	RefreshToken string
	DeviceCode   string
	Scope        string
}

// TokenSet is the successful response of the token endpoint. Fields not
// minted by the selected grant type stay empty and are omitted on the wire.
type TokenSet struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

type grantTypeHandler func(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenSet, error)

// GetTokens validates a token request and dispatches it to the issuance
// strategy selected by grant_type. Missing required fields for the selected
// strategy fail before any store access.
func (e *Engine) GetTokens(ctx context.Context, req *TokenRequest) (*TokenSet, error) {
	handler, ok := e.grantHandlers[req.GrantType]
	if !ok {
		return nil, ErrUnsupportedGrantType(fmt.Sprintf("unsupported grant_type: %s", req.GrantType))
	}

	if err := e.requireFields(req); err != nil {
		return nil, err
	}

	client, err := e.clients.ValidateClient(ctx, req.ClientID)
	if err != nil {
		e.auditFailure("", req.ClientID, ErrorCodeInvalidClient)
		return nil, err
	}
	if err := e.clients.ValidateGrantType(client, req.GrantType); err != nil {
		e.auditFailure("", req.ClientID, ErrorCodeUnauthorizedClient)
		return nil, err
	}

	tokens, err := handler(ctx, client, req)
	if err != nil {
		return nil, err
	}

	e.countTokensIssued(ctx, req.GrantType)
	e.Logger.Info("Tokens issued",
		"client_id", client.ClientID,
		"grant_type", req.GrantType,
		"access_token_prefix", safeTruncate(tokens.AccessToken, 8))

	return tokens, nil
}

// requireFields fails fast on a missing required parameter for the selected
// grant type, before any store access.
func (e *Engine) requireFields(req *TokenRequest) error {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		if req.Code == "" {
			return ErrInvalidRequest("code is required")
		}
	case GrantTypeRefreshToken:
		if req.RefreshToken == "" {
			return ErrInvalidRequest("refresh_token is required")
		}
	case GrantTypeClientCredentials:
		if req.ClientSecret == "" {
			return ErrInvalidRequest("client_secret is required")
		}
	case GrantTypeDeviceCode:
		if req.DeviceCode == "" {
			return ErrInvalidRequest("device_code is required")
		}
	}
	if req.ClientID == "" {
		return ErrInvalidRequest("client_id is required")
	}
	return nil
}

// handleAuthorizationCodeGrant redeems a single-use authorization code.
// The consume is the atomicity point: under concurrent redemption of the same
// code exactly one request reaches the minting step. PKCE failure after the
// consume burns the code, which is the intended single-use behavior.
func (e *Engine) handleAuthorizationCodeGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenSet, error) {
	grant, err := e.store.ConsumeGrant(ctx, storage.GrantTypeCode, req.Code)
	if errors.Is(err, storage.ErrGrantNotFound) {
		// Codes minted during federated login are stored under their own
		// grant type but redeem through the same endpoint.
		grant, err = e.store.ConsumeGrant(ctx, storage.GrantTypeAuthorizationCode, req.Code)
	}
	if err != nil {
		if errors.Is(err, storage.ErrGrantNotFound) {
			e.auditFailure("", req.ClientID, ErrorCodeInvalidGrant)
			return nil, ErrInvalidGrant("authorization code is invalid or expired")
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	if grant.ClientID != client.ClientID {
		e.auditFailure(grant.SubjectID, req.ClientID, "client_binding_mismatch")
		return nil, ErrInvalidGrant("authorization code was issued to a different client")
	}

	if err := e.pkce.Verify(ctx, client, req.CodeVerifier); err != nil {
		e.countPKCEFailure(ctx, client.ClientID)
		return nil, err
	}

	return e.mintTokenSet(ctx, client, grant.SubjectID, req.Scope)
}

// handleRefreshTokenGrant reissues tokens against a persisted refresh grant.
// An expired refresh JWT is rotated: the old grant is consumed and replaced.
// An unexpired one is returned unchanged alongside fresh access and ID tokens.
func (e *Engine) handleRefreshTokenGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenSet, error) {
	grant, err := e.store.GetGrant(ctx, storage.GrantTypeRefreshToken, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrGrantNotFound) {
			e.auditFailure("", req.ClientID, ErrorCodeInvalidGrant)
			return nil, ErrInvalidGrant("refresh token is invalid or expired")
		}
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	if grant.ClientID != client.ClientID {
		e.auditFailure(grant.SubjectID, req.ClientID, "client_binding_mismatch")
		return nil, ErrInvalidGrant("refresh token was issued to a different client")
	}

	_, decodeErr := e.tokens.Decode(req.RefreshToken, "")
	switch {
	case decodeErr == nil:
		// Not yet expired: reissue access and ID tokens only. The caller
		// keeps its refresh token and no new grant is persisted.
		set, err := e.mintAccessAndIDTokens(ctx, client, grant.SubjectID, req.Scope)
		if err != nil {
			return nil, err
		}
		set.RefreshToken = req.RefreshToken
		e.countTokenRefreshed(ctx, false)
		return set, nil

	case errors.Is(decodeErr, jwt.ErrExpiredToken):
		// Rotation: claim the old grant so one concurrent refresher wins,
		// then mint a full replacement set.
		if _, err := e.store.ConsumeGrant(ctx, storage.GrantTypeRefreshToken, req.RefreshToken); err != nil {
			if errors.Is(err, storage.ErrGrantNotFound) {
				return nil, ErrInvalidGrant("refresh token is invalid or expired")
			}
			return nil, fmt.Errorf("failed to consume refresh token: %w", err)
		}
		set, err := e.mintTokenSet(ctx, client, grant.SubjectID, req.Scope)
		if err != nil {
			return nil, err
		}
		e.countTokenRefreshed(ctx, true)
		return set, nil

	default:
		e.auditFailure(grant.SubjectID, req.ClientID, ErrorCodeInvalidGrant)
		return nil, ErrInvalidGrant("refresh token is invalid")
	}
}

// handleClientCredentialsGrant authenticates the client with its secret and
// mints an access token. No grant is persisted, no refresh or ID token issued.
func (e *Engine) handleClientCredentialsGrant(ctx context.Context, _ *storage.Client, req *TokenRequest) (*TokenSet, error) {
	client, err := e.clients.ValidateSecret(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		e.auditFailure("", req.ClientID, ErrorCodeInvalidClient)
		return nil, err
	}

	scope, err := e.scopes.Resolve(req.Scope, client)
	if err != nil {
		return nil, err
	}

	ttl := e.Config.accessTokenTTLFor(client.AccessTokenTTL)
	accessToken, err := e.mintAccessToken("", client.ClientID, scope, ttl)
	if err != nil {
		return nil, err
	}

	return &TokenSet{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	}, nil
}

// handleDeviceCodeGrant redeems an approved device code. A device code whose
// pairing is still pending yields authorization_pending so the client keeps
// polling; a pairing that no longer exists in any form is a hard failure.
func (e *Engine) handleDeviceCodeGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenSet, error) {
	grant, err := e.store.ConsumeGrant(ctx, storage.GrantTypeDeviceCode, req.DeviceCode)
	if err != nil {
		if errors.Is(err, storage.ErrGrantNotFound) {
			return nil, e.devicePendingError(ctx, req.DeviceCode)
		}
		return nil, fmt.Errorf("failed to consume device code: %w", err)
	}

	if grant.ClientID != client.ClientID {
		e.auditFailure(grant.SubjectID, req.ClientID, "client_binding_mismatch")
		return nil, ErrInvalidGrant("device code was issued to a different client")
	}

	return e.mintTokenSet(ctx, client, grant.SubjectID, req.Scope)
}

// devicePendingError distinguishes "user has not approved yet" from "device
// code never existed or has expired".
func (e *Engine) devicePendingError(ctx context.Context, deviceCode string) error {
	device, err := e.store.GetDeviceByDeviceCode(ctx, deviceCode)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return ErrInvalidGrant("device code is invalid")
		}
		return fmt.Errorf("failed to look up device: %w", err)
	}
	if device.Expired(time.Now()) {
		_ = e.store.DeleteDeviceByDeviceCode(ctx, deviceCode)
		return ErrExpiredToken("device code has expired")
	}
	return ErrAuthorizationPending("user has not yet completed authorization")
}

// mintTokenSet mints the full authorization-code token set: access token,
// ID token, and a persisted refresh grant.
func (e *Engine) mintTokenSet(ctx context.Context, client *storage.Client, subjectID, requestedScope string) (*TokenSet, error) {
	set, err := e.mintAccessAndIDTokens(ctx, client, subjectID, requestedScope)
	if err != nil {
		return nil, err
	}

	refreshToken, err := e.issueRefreshToken(ctx, client.ClientID, subjectID, time.Duration(set.ExpiresIn)*time.Second)
	if err != nil {
		return nil, err
	}
	set.RefreshToken = refreshToken
	return set, nil
}

// mintAccessAndIDTokens mints access and ID tokens without touching the
// refresh grant. The non-rotating refresh path uses it directly: the caller
// keeps its existing refresh token, so persisting a second grant here would
// leave a live credential nobody holds.
func (e *Engine) mintAccessAndIDTokens(ctx context.Context, client *storage.Client, subjectID, requestedScope string) (*TokenSet, error) {
	scope, err := e.scopes.Resolve(requestedScope, client)
	if err != nil {
		return nil, err
	}

	user, err := e.store.GetUserByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrInvalidGrant("grant subject no longer exists")
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ttl := e.Config.accessTokenTTLFor(client.AccessTokenTTL)

	accessToken, err := e.mintAccessToken(user.ID, client.ClientID, scope, ttl)
	if err != nil {
		return nil, err
	}
	idToken, err := e.mintIDToken(user, client.ClientID, scope)
	if err != nil {
		return nil, err
	}

	return &TokenSet{
		AccessToken: accessToken,
		IDToken:     idToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	}, nil
}

// mintAccessToken signs an access token scoped to the resource audiences.
func (e *Engine) mintAccessToken(subjectID, clientID, scope string, ttl time.Duration) (string, error) {
	claims := e.tokens.AccessTokenClaims(subjectID, clientID, scope, e.audiencesForScope(scope), ttl)
	accessToken, err := e.tokens.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return accessToken, nil
}

// mintIDToken signs an ID token carrying the user claims released by the
// granted scope.
func (e *Engine) mintIDToken(user *storage.User, clientID, scope string) (string, error) {
	profile := e.scopes.ClaimsFor(user, scope)
	idToken, err := e.tokens.Encode(e.tokens.IDTokenClaims(user.ID, clientID, profile, e.Config.IDTokenTTL))
	if err != nil {
		return "", fmt.Errorf("failed to sign ID token: %w", err)
	}
	return idToken, nil
}

// issueRefreshToken mints a refresh JWT whose exp matches the access-token
// lifetime and persists the wrapping grant for the multiplied lifetime. The
// gap between the two is the window in which a refresh reuses the same token;
// past it, refresh rotates.
func (e *Engine) issueRefreshToken(ctx context.Context, clientID, subjectID string, accessTTL time.Duration) (string, error) {
	refreshToken, err := e.tokens.Encode(e.tokens.RefreshTokenClaims(accessTTL))
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}

	grant := &storage.PersistentGrant{
		Key:        uuid.NewString(),
		ClientID:   clientID,
		SubjectID:  subjectID,
		GrantType:  storage.GrantTypeRefreshToken,
		Data:       refreshToken,
		Expiration: time.Now().Add(e.Config.refreshTokenTTL(accessTTL)).Unix(),
		CreatedAt:  time.Now(),
	}
	if err := e.store.CreateGrant(ctx, grant); err != nil {
		return "", fmt.Errorf("failed to persist refresh grant: %w", err)
	}
	return refreshToken, nil
}

// audiencesForScope returns the audiences stamped into an access token. Every
// token may call the standard resource endpoints; the admin audience is added
// only when the admin scope was granted.
func (e *Engine) audiencesForScope(scope string) []string {
	audiences := []string{jwt.AudienceUserinfo, jwt.AudienceIntrospection, jwt.AudienceRevoke}
	if e.scopes.HasScope(scope, "admin") {
		audiences = append(audiences, jwt.AudienceAdmin)
	}
	return audiences
}
