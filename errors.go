package helix

import "github.com/helix-auth/helix/engine"

// OAuth error codes as constants, re-exported from the engine so embedding
// applications only need this package.
const (
	ErrorCodeInvalidRequest          = engine.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant            = engine.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient           = engine.ErrorCodeInvalidClient
	ErrorCodeInvalidScope            = engine.ErrorCodeInvalidScope
	ErrorCodeInvalidToken            = engine.ErrorCodeInvalidToken
	ErrorCodeUnauthorizedClient      = engine.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType    = engine.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = engine.ErrorCodeUnsupportedResponseType
	ErrorCodeServerError             = engine.ErrorCodeServerError
	ErrorCodeAccessDenied            = engine.ErrorCodeAccessDenied
	ErrorCodeInvalidRedirectURI      = engine.ErrorCodeInvalidRedirectURI
	ErrorCodeAuthorizationPending    = engine.ErrorCodeAuthorizationPending
	ErrorCodeExpiredToken            = engine.ErrorCodeExpiredToken
	ErrorCodeRateLimitExceeded       = engine.ErrorCodeRateLimitExceeded
)

// OAuthError represents an OAuth 2.0 error response.
type OAuthError = engine.OAuthError

// NewOAuthError creates a new OAuth error.
var NewOAuthError = engine.NewOAuthError

// Common OAuth errors as reusable constructors.
var (
	ErrInvalidRequest          = engine.ErrInvalidRequest
	ErrInvalidGrant            = engine.ErrInvalidGrant
	ErrInvalidClient           = engine.ErrInvalidClient
	ErrInvalidScope            = engine.ErrInvalidScope
	ErrInvalidToken            = engine.ErrInvalidToken
	ErrUnauthorizedClient      = engine.ErrUnauthorizedClient
	ErrUnsupportedGrantType    = engine.ErrUnsupportedGrantType
	ErrUnsupportedResponseType = engine.ErrUnsupportedResponseType
	ErrServerError             = engine.ErrServerError
	ErrAccessDenied            = engine.ErrAccessDenied
	ErrInvalidRedirectURI      = engine.ErrInvalidRedirectURI
	ErrAuthorizationPending    = engine.ErrAuthorizationPending
	ErrExpiredToken            = engine.ErrExpiredToken
)
