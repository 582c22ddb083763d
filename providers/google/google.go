// Package google implements federated login through Google OAuth / OIDC.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"

	"github.com/helix-auth/helix/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

const providerName = "google"

const userinfoEndpoint = "https://openidconnect.googleapis.com/v1/userinfo"

const maxResponseBytes = 1 << 20

// Provider implements federated login through Google.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// Config holds Google OAuth client configuration.
type Config struct {
	// ClientID is the Google OAuth client ID.
	ClientID string

	// ClientSecret is the Google OAuth client secret.
	ClientSecret string

	// RedirectURL is the callback URL registered with Google.
	RedirectURL string

	// Scopes are optional custom scopes (defaults to ["openid", "profile", "email"]).
	Scopes []string

	// HTTPClient is an optional custom HTTP client for API calls.
	HTTPClient *http.Client
}

// NewProvider creates a Google federation provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     oauthgoogle.Endpoint,
		},
		httpClient: httpClient,
	}, nil
}

// Name returns "google".
func (p *Provider) Name() string {
	return providerName
}

// AuthorizationURL generates the Google authorization URL. Offline access is
// not requested; the upstream token is used once to read the profile.
func (p *Provider) AuthorizationURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange redeems the authorization code at Google's token endpoint.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google code exchange failed: %w", err)
	}
	return token, nil
}

// googleUser mirrors the OIDC userinfo response fields we read.
type googleUser struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// FetchUser retrieves the authenticated user's profile from the OIDC
// userinfo endpoint. The email doubles as the local username since Google
// has no separate login handle.
func (p *Provider) FetchUser(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google userinfo request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google userinfo request returned status %d", resp.StatusCode)
	}

	var user googleUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode google userinfo: %w", err)
	}
	if user.Email == "" {
		return nil, fmt.Errorf("google userinfo has no email")
	}

	return &providers.UserInfo{
		ID:        user.Sub,
		Username:  user.Email,
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.Picture,
	}, nil
}
