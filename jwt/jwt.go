// Package jwt signs and verifies the tokens minted by the identity provider.
// All tokens are RS256 JWTs signed with a process-wide RSA keypair that is
// generated once, persisted, and reused thereafter.
package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience values recognized by the provider. A token minted for one
// audience is rejected by endpoints verifying another.
const (
	AudienceAdmin         = "admin"
	AudienceUserinfo      = "userinfo"
	AudienceIntrospection = "introspection"
	AudienceRevoke        = "revoke"
)

// Typed decode errors. Callers match with errors.Is.
var (
	ErrExpiredToken    = errors.New("token has expired")
	ErrInvalidAudience = errors.New("token audience mismatch")
	ErrInvalidToken    = errors.New("token is invalid")
)

// Manager signs and verifies tokens with a single RSA keypair.
type Manager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
	issuer     string
	logger     *slog.Logger
}

// NewManager creates a token manager for the given keypair and issuer.
func NewManager(key *rsa.PrivateKey, issuer string, logger *slog.Logger) (*Manager, error) {
	if key == nil {
		return nil, fmt.Errorf("rsa private key is required")
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		privateKey: key,
		publicKey:  &key.PublicKey,
		keyID:      keyIDFor(&key.PublicKey),
		issuer:     issuer,
		logger:     logger,
	}, nil
}

// Issuer returns the iss value stamped into every token.
func (m *Manager) Issuer() string {
	return m.issuer
}

// KeyID returns the kid carried in token headers and the JWKS document.
func (m *Manager) KeyID() string {
	return m.keyID
}

// Encode signs the payload with RS256 and returns the compact serialization.
func (m *Manager) Encode(payload jwtlib.MapClaims) (string, error) {
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, payload)
	token.Header["kid"] = m.keyID

	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and registered claims and returns the payload.
// A non-empty audience additionally requires a matching aud claim. Expiry and
// audience failures are reported as ErrExpiredToken and ErrInvalidAudience so
// callers can map them onto distinct protocol errors.
func (m *Manager) Decode(tokenString, audience string) (jwtlib.MapClaims, error) {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodRS256.Alg()}),
	}
	if audience != "" {
		opts = append(opts, jwtlib.WithAudience(audience))
	}

	parser := jwtlib.NewParser(opts...)
	token, err := parser.Parse(tokenString, func(*jwtlib.Token) (any, error) {
		return m.publicKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwtlib.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwtlib.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnverified parses a token without validating claims. The signature is
// still checked. Used where an expired token must still be read, such as the
// id_token_hint on end-session.
func (m *Manager) DecodeUnverified(tokenString string) (jwtlib.MapClaims, error) {
	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodRS256.Alg()}),
		jwtlib.WithoutClaimsValidation(),
	)
	token, err := parser.Parse(tokenString, func(*jwtlib.Token) (any, error) {
		return m.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AccessTokenClaims builds the claim set for an access token.
// Audiences restrict which endpoints will accept the token.
func (m *Manager) AccessTokenClaims(subjectID, clientID, scope string, audiences []string, ttl time.Duration) jwtlib.MapClaims {
	now := time.Now()
	claims := jwtlib.MapClaims{
		"iss":       m.issuer,
		"client_id": clientID,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
		"jti":       uuid.NewString(),
		"acr":       "1",
		"scope":     scope,
	}
	if subjectID != "" {
		claims["sub"] = subjectID
	}
	if len(audiences) > 0 {
		claims["aud"] = audiences
	}
	return claims
}

// IDTokenClaims builds the claim set for an ID token from the user's
// profile claims.
func (m *Manager) IDTokenClaims(subjectID, clientID string, profile map[string]any, ttl time.Duration) jwtlib.MapClaims {
	now := time.Now()
	claims := jwtlib.MapClaims{
		"iss":       m.issuer,
		"sub":       subjectID,
		"client_id": clientID,
		"aud":       []string{clientID},
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
		"jti":       uuid.NewString(),
	}
	for name, value := range profile {
		if _, reserved := claims[name]; !reserved {
			claims[name] = value
		}
	}
	return claims
}

// RefreshTokenClaims builds the claim set for a refresh token. The payload is
// deliberately opaque: a jti and an expiry, nothing else.
func (m *Manager) RefreshTokenClaims(ttl time.Duration) jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"jti": uuid.NewString(),
		"exp": time.Now().Add(ttl).Unix(),
	}
}
