package helix

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	// AccessToken is the access token
	AccessToken string `json:"access_token"`

	// TokenType is the type of token (always "Bearer")
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the refresh token (optional)
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the OpenID Connect ID token (optional)
	IDToken string `json:"id_token,omitempty"`

	// Scope is the scope of the access token
	Scope string `json:"scope,omitempty"`
}

// DeviceAuthorizationResponse represents an RFC 8628 device authorization response
type DeviceAuthorizationResponse struct {
	// DeviceCode is the long-lived code the polling client presents at the token endpoint
	DeviceCode string `json:"device_code"`

	// UserCode is the short code the user types at the verification URI
	UserCode string `json:"user_code"`

	// VerificationURI is where the user goes to approve the device
	VerificationURI string `json:"verification_uri"`

	// VerificationURIComplete embeds the user code for QR-style handoff
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	// ExpiresIn is the lifetime in seconds of the device and user codes
	ExpiresIn int64 `json:"expires_in"`

	// Interval is the minimum seconds the client should wait between polls
	Interval int `json:"interval,omitempty"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation
	ErrorURI string `json:"error_uri,omitempty"`
}

// OpenIDConfiguration represents the OpenID Connect discovery document
// served at /.well-known/openid-configuration (RFC 8414 compatible).
type OpenIDConfiguration struct {
	// Issuer is the provider's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// DeviceAuthorizationEndpoint is the URL of the RFC 8628 device endpoint
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint,omitempty"`

	// UserinfoEndpoint is the URL of the OpenID Connect userinfo endpoint
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`

	// EndSessionEndpoint is the URL of the RP-initiated logout endpoint
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`

	// JWKSURI is the URL of the JSON Web Key Set document
	JWKSURI string `json:"jwks_uri"`

	// RevocationEndpoint is the URL of the RFC 7009 token revocation endpoint
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`

	// IntrospectionEndpoint is the URL of the RFC 7662 token introspection endpoint
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`

	// ScopesSupported lists the OAuth scopes supported
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the OAuth response types supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// GrantTypesSupported lists the OAuth grant types supported
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// SubjectTypesSupported lists the OIDC subject identifier types
	SubjectTypesSupported []string `json:"subject_types_supported"`

	// IDTokenSigningAlgValuesSupported lists the ID token signing algorithms
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`

	// TokenEndpointAuthMethodsSupported lists client authentication methods at the token endpoint
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`

	// ClaimsSupported lists the claims the userinfo endpoint can return
	ClaimsSupported []string `json:"claims_supported,omitempty"`
}
