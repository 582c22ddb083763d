// Package github implements federated login through GitHub OAuth Apps.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/helix-auth/helix/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

const providerName = "github"

const userEndpoint = "https://api.github.com/user"

// maxResponseBytes bounds profile responses so a misbehaving upstream cannot
// exhaust memory.
const maxResponseBytes = 1 << 20

// Provider implements federated login through GitHub.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// Config holds GitHub OAuth App configuration.
type Config struct {
	// ClientID is the GitHub OAuth App client ID.
	ClientID string

	// ClientSecret is the GitHub OAuth App client secret.
	ClientSecret string

	// RedirectURL is the callback URL registered with GitHub.
	RedirectURL string

	// Scopes are optional custom scopes (defaults to ["user:email", "read:user"]).
	Scopes []string

	// HTTPClient is an optional custom HTTP client for API calls.
	HTTPClient *http.Client
}

// NewProvider creates a GitHub federation provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"user:email", "read:user"}
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
			Endpoint:     oauthgithub.Endpoint,
		},
		httpClient: httpClient,
	}, nil
}

// Name returns "github".
func (p *Provider) Name() string {
	return providerName
}

// AuthorizationURL generates the GitHub authorization URL.
func (p *Provider) AuthorizationURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange redeems the authorization code at GitHub's token endpoint.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("github code exchange failed: %w", err)
	}
	return token, nil
}

// githubUser mirrors the fields we read from GET /user.
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// FetchUser retrieves the authenticated user's GitHub profile.
func (p *Provider) FetchUser(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github user request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github user request returned status %d", resp.StatusCode)
	}

	var user githubUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode github user: %w", err)
	}
	if user.Login == "" {
		return nil, fmt.Errorf("github user has no login")
	}

	return &providers.UserInfo{
		ID:        strconv.FormatInt(user.ID, 10),
		Username:  user.Login,
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}, nil
}
