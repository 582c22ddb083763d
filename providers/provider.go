// Package providers defines the interface for upstream identity providers
// used during federated login, with implementations for GitHub and Google.
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider is an upstream identity provider the federation flow delegates
// authentication to. Implementations wrap an oauth2.Config for the upstream
// and know how to turn an upstream token into a user profile.
type Provider interface {
	// Name returns the provider name (e.g., "github", "google"), used as
	// the registry key and in callback routes.
	Name() string

	// AuthorizationURL generates the upstream URL to redirect the user to.
	// The state value is round-tripped through the upstream unchanged.
	AuthorizationURL(state string) string

	// Exchange redeems the upstream authorization code for an upstream token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchUser retrieves the authenticated user's profile with the
	// upstream token.
	FetchUser(ctx context.Context, token *oauth2.Token) (*UserInfo, error)
}

// UserInfo is the normalized profile returned by every provider. Username is
// the field local users are keyed by; it must be stable and non-empty.
type UserInfo struct {
	// ID is the unique user identifier at the provider.
	ID string

	// Username is the provider-scoped login name (GitHub login, Google
	// email). Local accounts are provisioned under this name.
	Username string

	// Email is the user's email address, when the provider releases one.
	Email string

	// Name is the user's display name.
	Name string

	// AvatarURL is the URL of the user's profile picture.
	AvatarURL string
}
