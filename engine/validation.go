package engine

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/helix-auth/helix/security"
	"github.com/helix-auth/helix/storage"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// ClientValidator checks client existence, secrets, redirect URIs, and the
// grant/response types a client is registered for.
type ClientValidator struct {
	store  storage.ClientStore
	logger *slog.Logger
}

// ValidateClient looks up a client by ID.
func (v *ClientValidator) ValidateClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := v.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}
	return client, nil
}

// ValidateSecret authenticates a confidential client with its secret.
// The stored secret is a bcrypt hash; comparison failure and unknown client
// produce the same error.
func (v *ClientValidator) ValidateSecret(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	client, err := v.ValidateClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if client.SecretHash == "" {
		return nil, ErrInvalidClient("client has no secret registered")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		v.logger.Debug("Client secret mismatch", "client_id", clientID)
		return nil, ErrInvalidClient("invalid client credentials")
	}
	return client, nil
}

// ValidateRedirectURI checks the URI against the client's whitelist with an
// exact string match.
func (v *ClientValidator) ValidateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return ErrInvalidRequest("redirect_uri is required")
	}
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return nil
		}
	}
	return ErrInvalidRedirectURI("redirect URI not registered for client")
}

// ValidateGrantType checks the grant type against the client's registration.
// A client registered with no grant types may use any.
func (v *ClientValidator) ValidateGrantType(client *storage.Client, grantType string) error {
	if len(client.GrantTypes) == 0 {
		return nil
	}
	for _, gt := range client.GrantTypes {
		if gt == grantType {
			return nil
		}
	}
	return ErrUnauthorizedClient("client is not authorized for this grant type")
}

// ValidateResponseType checks the response type against the client's
// registration. A client registered with no response types may use any.
func (v *ClientValidator) ValidateResponseType(client *storage.Client, responseType string) error {
	if len(client.ResponseTypes) == 0 {
		return nil
	}
	for _, rt := range client.ResponseTypes {
		if rt == responseType {
			return nil
		}
	}
	return ErrUnauthorizedClient("client is not authorized for this response type")
}

// UserValidator authenticates resource owners.
type UserValidator struct {
	store  storage.UserStore
	logger *slog.Logger
}

// ValidateCredentials checks a username/password pair against the stored
// bcrypt hash. Unknown user and wrong password return the same error so the
// caller cannot enumerate accounts.
func (v *UserValidator) ValidateCredentials(ctx context.Context, username, password string) (*storage.User, error) {
	if username == "" || password == "" {
		return nil, ErrAccessDenied("invalid username or password")
	}

	user, err := v.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			v.logger.Debug("Authentication failed: unknown user", "username", username)
			return nil, ErrAccessDenied("invalid username or password")
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		v.logger.Debug("Authentication failed: password mismatch", "username", username)
		return nil, ErrAccessDenied("invalid username or password")
	}
	return user, nil
}

// PKCEValidator persists code challenges at authorize time and verifies the
// code verifier at token time. S256 challenges are encrypted at rest; the
// stored row is consumed on the first token exchange whether or not the
// verifier matched.
type PKCEValidator struct {
	store      storage.ChallengeStore
	encryptor  *security.Encryptor
	allowPlain bool
	logger     *slog.Logger
}

// Save persists a pending challenge for the client.
func (v *PKCEValidator) Save(ctx context.Context, clientID, challenge, method string) error {
	switch method {
	case PKCEMethodS256:
	case PKCEMethodPlain:
		if !v.allowPlain {
			return ErrInvalidRequest("'plain' code_challenge_method is not allowed")
		}
		v.logger.Warn("Using insecure 'plain' PKCE method",
			"client_id", clientID,
			"recommendation", "Upgrade client to use S256")
	case "":
		return ErrInvalidRequest("code_challenge_method is required when code_challenge is provided")
	default:
		return ErrInvalidRequest(fmt.Sprintf("unsupported code_challenge_method: %s", method))
	}

	stored := challenge
	if method == PKCEMethodS256 {
		var err error
		stored, err = v.encryptor.Encrypt(challenge)
		if err != nil {
			return fmt.Errorf("failed to encrypt code challenge: %w", err)
		}
	}

	return v.store.SaveChallenge(ctx, &storage.CodeChallenge{
		ClientID:  clientID,
		Challenge: stored,
		Method:    method,
		CreatedAt: time.Now(),
	})
}

// Verify consumes the client's pending challenge and checks the verifier
// against it. With no pending challenge the check passes only for clients
// that do not require PKCE.
func (v *PKCEValidator) Verify(ctx context.Context, client *storage.Client, verifier string) error {
	challenge, err := v.store.ConsumeChallenge(ctx, client.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrChallengeNotFound) {
			if client.RequirePKCE {
				return ErrInvalidGrant("PKCE is required for this client")
			}
			return nil
		}
		return fmt.Errorf("failed to consume code challenge: %w", err)
	}

	if err := validateVerifierFormat(verifier); err != nil {
		return err
	}

	var computed, expected string
	switch challenge.Method {
	case PKCEMethodS256:
		expected, err = v.encryptor.Decrypt(challenge.Challenge)
		if err != nil {
			return fmt.Errorf("failed to decrypt code challenge: %w", err)
		}
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		expected = challenge.Challenge
		computed = verifier
	default:
		return ErrInvalidRequest(fmt.Sprintf("unsupported code_challenge_method: %s", challenge.Method))
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) != 1 {
		return ErrInvalidRequest("code_verifier does not match code_challenge")
	}
	return nil
}

// validateVerifierFormat enforces the RFC 7636 verifier grammar:
// 43-128 characters from [A-Za-z0-9-._~].
func validateVerifierFormat(verifier string) error {
	if verifier == "" {
		return ErrInvalidRequest("code_verifier is required")
	}
	if len(verifier) < MinCodeVerifierLength {
		return ErrInvalidRequest(fmt.Sprintf("code_verifier must be at least %d characters", MinCodeVerifierLength))
	}
	if len(verifier) > MaxCodeVerifierLength {
		return ErrInvalidRequest(fmt.Sprintf("code_verifier must be at most %d characters", MaxCodeVerifierLength))
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return ErrInvalidRequest("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}
	return nil
}
