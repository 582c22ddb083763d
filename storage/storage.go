// Package storage defines the entities persisted by the identity provider and
// the narrow repository interfaces the protocol engine reaches them through.
// It supports various backend implementations including in-memory, SQL, and Valkey.
package storage

import (
	"context"
	"errors"
	"time"
)

// Grant type values. A persistent grant is keyed by (GrantType, Data), so the
// same opaque value can never satisfy two different redemption paths.
const (
	// GrantTypeCode is an authorization code issued by the /authorize endpoint.
	GrantTypeCode = "code"

	// GrantTypeRefreshToken is a refresh token wrapping a signed JWT.
	GrantTypeRefreshToken = "refresh_token"

	// GrantTypeAuthorizationCode is an authorization code minted on behalf of
	// an upstream identity provider during federated login.
	GrantTypeAuthorizationCode = "authorization_code"

	// GrantTypeDeviceCode is a device code that has been approved by the user.
	GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"
)

// Sentinel errors returned by all backends. Callers match with errors.Is.
var (
	ErrGrantNotFound     = errors.New("grant not found")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrChallengeNotFound = errors.New("code challenge not found")
	ErrClientNotFound    = errors.New("client not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrStateNotFound     = errors.New("state not found")
	ErrStateExists       = errors.New("state already exists")
)

// PersistentGrant is the central single-use credential record. It links a
// code, refresh token, or device code value to a client and user, and is
// deleted at the moment it is redeemed: it is never read twice successfully.
type PersistentGrant struct {
	// Key is an opaque unique identifier for the row.
	Key string

	// ClientID is the client the grant was issued to.
	ClientID string

	// SubjectID is the end user the grant was issued for.
	SubjectID string

	// GrantType is one of the GrantType* constants.
	GrantType string

	// Data is the credential value itself and, together with GrantType,
	// the lookup key.
	Data string

	// Expiration is an absolute unix timestamp (seconds). Uniform across
	// all call sites; backends reject expired grants at lookup time.
	Expiration int64

	CreatedAt time.Time
}

// Expired reports whether the grant is past its expiration at the given time.
func (g *PersistentGrant) Expired(now time.Time) bool {
	return g.Expiration > 0 && now.Unix() > g.Expiration
}

// Device is a pending device-authorization pairing. It exists from
// registration until the user approves (converting it into a device_code
// grant) or cancels, or it expires.
type Device struct {
	ClientID                string
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string

	// ExpiresIn is the pairing lifetime in seconds from CreatedAt.
	ExpiresIn int64

	// Interval is the minimum polling interval in seconds for the client.
	Interval  int
	CreatedAt time.Time
}

// Expired reports whether the pairing window has closed.
func (d *Device) Expired(now time.Time) bool {
	return now.After(d.CreatedAt.Add(time.Duration(d.ExpiresIn) * time.Second))
}

// CodeChallenge is a pending PKCE challenge, persisted at authorize time and
// consumed (deleted) by the first token exchange that consults it.
// S256 challenges are stored encrypted at rest.
type CodeChallenge struct {
	ClientID  string
	Challenge string
	Method    string // "plain" or "S256"
	CreatedAt time.Time
}

// BlacklistedToken is a revoked access token value, honored until Expiration.
type BlacklistedToken struct {
	Token      string
	Expiration int64 // absolute unix timestamp
}

// Client is a registered relying party. Immutable during a request.
type Client struct {
	ClientID string

	// SecretHash is the bcrypt hash of the client secret. Empty for
	// public clients.
	SecretHash string

	ClientName    string
	RedirectURIs  []string
	Scopes        []string
	GrantTypes    []string
	ResponseTypes []string

	// RequirePKCE forces a code_challenge on every authorization request
	// and a code_verifier on every code exchange for this client.
	RequirePKCE bool

	// AccessTokenTTL overrides the engine default lifetime (seconds).
	// Zero means use the engine default.
	AccessTokenTTL int64

	CreatedAt time.Time
}

// User is an authenticated end user. Read-only to the engine.
type User struct {
	ID       string
	Username string

	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash string

	// Claims holds the user's profile claims (name, email, etc.) keyed by
	// standard OIDC claim name.
	Claims map[string]any

	Groups []string
	Roles  []string
}

// GrantStore manages persistent grants. All methods accept context.Context
// for tracing and cancellation.
type GrantStore interface {
	// CreateGrant persists a new grant.
	CreateGrant(ctx context.Context, grant *PersistentGrant) error

	// GrantExists reports whether a live grant exists for (grantType, data).
	GrantExists(ctx context.Context, grantType, data string) (bool, error)

	// GetGrant retrieves a grant without consuming it. Returns
	// ErrGrantNotFound for absent or expired grants.
	GetGrant(ctx context.Context, grantType, data string) (*PersistentGrant, error)

	// ConsumeGrant atomically retrieves and deletes a grant. Under
	// concurrent redemption attempts for the same (grantType, data),
	// exactly one caller receives the grant; the rest receive
	// ErrGrantNotFound. Expired grants are removed and reported as not found.
	// SECURITY: this operation MUST be atomic. It is the exactly-once
	// redemption point for codes, refresh tokens, and device codes.
	ConsumeGrant(ctx context.Context, grantType, data string) (*PersistentGrant, error)

	// DeleteGrant removes a grant. Returns ErrGrantNotFound if absent.
	DeleteGrant(ctx context.Context, grantType, data string) error

	// DeleteGrantsForClientAndUser removes every grant the user has with
	// the client. Used by end-session to invalidate a whole session.
	DeleteGrantsForClientAndUser(ctx context.Context, clientID, subjectID string) (int, error)
}

// DeviceStore manages pending device-authorization pairings.
type DeviceStore interface {
	CreateDevice(ctx context.Context, device *Device) error
	GetDeviceByUserCode(ctx context.Context, userCode string) (*Device, error)
	GetDeviceByDeviceCode(ctx context.Context, deviceCode string) (*Device, error)
	DeleteDeviceByUserCode(ctx context.Context, userCode string) error
	DeleteDeviceByDeviceCode(ctx context.Context, deviceCode string) error
}

// ChallengeStore manages pending PKCE challenges.
type ChallengeStore interface {
	// SaveChallenge persists a challenge keyed by client ID, replacing any
	// pending challenge for that client.
	SaveChallenge(ctx context.Context, challenge *CodeChallenge) error

	// ConsumeChallenge atomically retrieves and deletes the pending
	// challenge for the client. Returns ErrChallengeNotFound if none.
	ConsumeChallenge(ctx context.Context, clientID string) (*CodeChallenge, error)
}

// BlacklistStore tracks revoked access tokens until their natural expiry.
type BlacklistStore interface {
	BlacklistToken(ctx context.Context, token string, expiration int64) error
	IsTokenBlacklisted(ctx context.Context, token string) (bool, error)
}

// StateStore manages single-use federation CSRF states.
type StateStore interface {
	// SaveState persists a state value. Returns ErrStateExists on duplicates.
	SaveState(ctx context.Context, state string) error

	// ConsumeState deletes a state value, returning ErrStateNotFound if it
	// was absent or already consumed. Single use: the first caller wins.
	ConsumeState(ctx context.Context, state string) error
}

// ClientStore provides read access to registered clients.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	SaveClient(ctx context.Context, client *Client) error
}

// UserStore provides access to end users. CreateUser exists for federated
// login auto-provisioning; everything else is read-only to the engine.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
}

// Store aggregates every repository interface. Backends implement all of
// them over a single connection so a deployment wires one value.
type Store interface {
	GrantStore
	DeviceStore
	ChallengeStore
	BlacklistStore
	StateStore
	ClientStore
	UserStore
}
