package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/helix-auth/helix/jwt"
	"github.com/helix-auth/helix/security"
	"github.com/helix-auth/helix/storage"
)

// CheckBearer authenticates a bearer token for the given audience, consulting
// the revocation blacklist before the signature.
func (e *Engine) CheckBearer(ctx context.Context, token, audience string) (jwtlib.MapClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken("bearer token is required")
	}

	revoked, err := e.store.IsTokenBlacklisted(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	if revoked {
		return nil, ErrInvalidToken("token has been revoked")
	}

	claims, err := e.tokens.Decode(token, audience)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrExpiredToken):
			return nil, ErrInvalidToken("token has expired")
		case errors.Is(err, jwt.ErrInvalidAudience):
			return nil, ErrInvalidToken("token is not valid for this endpoint")
		default:
			return nil, ErrInvalidToken("token is invalid")
		}
	}
	return claims, nil
}

// EndSession terminates the session described by an ID token hint: every
// grant the token's subject holds with the token's client is deleted. The
// hint may be expired; only its signature is checked. Returns the validated
// post-logout redirect URL, or empty when none was requested.
func (e *Engine) EndSession(ctx context.Context, idTokenHint, postLogoutRedirectURI, state string) (string, error) {
	if idTokenHint == "" {
		return "", ErrInvalidRequest("id_token_hint is required")
	}

	claims, err := e.tokens.DecodeUnverified(idTokenHint)
	if err != nil {
		return "", ErrInvalidRequest("invalid id_token_hint")
	}

	clientID, _ := claims["client_id"].(string)
	subjectID, _ := claims["sub"].(string)
	if clientID == "" || subjectID == "" {
		return "", ErrInvalidRequest("id_token_hint carries no session")
	}

	deleted, err := e.store.DeleteGrantsForClientAndUser(ctx, clientID, subjectID)
	if err != nil {
		return "", fmt.Errorf("failed to delete session grants: %w", err)
	}

	if e.Auditor != nil {
		e.Auditor.LogEvent(security.Event{
			Type:     "session_ended",
			ClientID: clientID,
			UserID:   subjectID,
			Details:  map[string]any{"grants_deleted": deleted},
		})
	}
	e.Logger.Info("Session ended",
		"client_id", clientID,
		"grants_deleted", deleted)

	if postLogoutRedirectURI == "" {
		return "", nil
	}

	client, err := e.clients.ValidateClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if err := e.clients.ValidateRedirectURI(client, postLogoutRedirectURI); err != nil {
		return "", err
	}

	redirectURL := postLogoutRedirectURI
	if state != "" {
		redirectURL = appendParams(redirectURL, url.Values{"state": {state}})
	}
	return redirectURL, nil
}

// Introspect reports the state of a presented token per RFC 7662. An unknown,
// expired, or revoked token is reported as inactive, never as an error.
func (e *Engine) Introspect(ctx context.Context, token string) (map[string]any, error) {
	if token == "" {
		return nil, ErrInvalidRequest("token is required")
	}

	revoked, err := e.store.IsTokenBlacklisted(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	if revoked {
		return map[string]any{"active": false}, nil
	}

	// Refresh tokens are active exactly while their grant row exists.
	if grant, err := e.store.GetGrant(ctx, storage.GrantTypeRefreshToken, token); err == nil {
		return map[string]any{
			"active":     true,
			"token_type": "refresh_token",
			"client_id":  grant.ClientID,
			"sub":        grant.SubjectID,
			"exp":        grant.Expiration,
		}, nil
	} else if !errors.Is(err, storage.ErrGrantNotFound) {
		return nil, fmt.Errorf("failed to look up refresh grant: %w", err)
	}

	claims, err := e.tokens.Decode(token, "")
	if err != nil {
		return map[string]any{"active": false}, nil
	}

	result := map[string]any{
		"active":     true,
		"token_type": "access_token",
		"iss":        claims["iss"],
	}
	for _, name := range []string{"sub", "client_id", "scope", "exp", "iat", "jti", "aud"} {
		if v, ok := claims[name]; ok {
			result[name] = v
		}
	}
	return result, nil
}

// Revoke invalidates a presented token: a refresh token loses its grant row,
// an access token is blacklisted until its natural expiry. Unknown tokens are
// ignored per RFC 7009.
func (e *Engine) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidRequest("token is required")
	}

	err := e.store.DeleteGrant(ctx, storage.GrantTypeRefreshToken, token)
	if err == nil {
		e.countTokenRevoked(ctx, "refresh_token")
		e.Logger.Info("Refresh token revoked", "token_prefix", safeTruncate(token, 8))
		return nil
	}
	if !errors.Is(err, storage.ErrGrantNotFound) {
		return fmt.Errorf("failed to delete refresh grant: %w", err)
	}

	claims, decodeErr := e.tokens.Decode(token, "")
	if decodeErr != nil {
		// Already expired or never ours. Revocation of an unknown token
		// is a silent success.
		return nil
	}

	exp := int64(0)
	if v, ok := claims["exp"].(float64); ok {
		exp = int64(v)
	}
	if err := e.store.BlacklistToken(ctx, token, exp); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	e.countTokenRevoked(ctx, "access_token")
	e.Logger.Info("Access token revoked", "token_prefix", safeTruncate(token, 8))
	return nil
}

// Userinfo returns the claim subset released by the presented access token's
// scope, per the userinfo audience.
func (e *Engine) Userinfo(ctx context.Context, accessToken string) (map[string]any, error) {
	claims, err := e.CheckBearer(ctx, accessToken, jwt.AudienceUserinfo)
	if err != nil {
		return nil, err
	}

	subjectID, _ := claims["sub"].(string)
	if subjectID == "" {
		return nil, ErrInvalidToken("token carries no subject")
	}

	user, err := e.store.GetUserByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrInvalidToken("token subject no longer exists")
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	scope, _ := claims["scope"].(string)
	return e.scopes.ClaimsFor(user, scope), nil
}
