// Package mock provides a canned federation provider for tests.
package mock

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/helix-auth/helix/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// Provider is a configurable in-memory federation provider. Zero value
// behaves like a healthy upstream with a fixed test user.
type Provider struct {
	// ProviderName overrides the default name "mock".
	ProviderName string

	// User is the profile returned by FetchUser. When nil a fixed test
	// user is returned.
	User *providers.UserInfo

	// ExchangeErr and FetchErr force the corresponding call to fail.
	ExchangeErr error
	FetchErr    error

	// ExchangedCodes records every code passed to Exchange.
	ExchangedCodes []string
}

// Name returns the configured provider name.
func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// AuthorizationURL returns a recognizable fake upstream URL.
func (p *Provider) AuthorizationURL(state string) string {
	return "https://upstream.example.com/authorize?state=" + url.QueryEscape(state)
}

// Exchange records the code and returns a static upstream token.
func (p *Provider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if p.ExchangeErr != nil {
		return nil, p.ExchangeErr
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	p.ExchangedCodes = append(p.ExchangedCodes, code)
	return &oauth2.Token{AccessToken: "upstream-access-token", TokenType: "Bearer"}, nil
}

// FetchUser returns the configured profile.
func (p *Provider) FetchUser(context.Context, *oauth2.Token) (*providers.UserInfo, error) {
	if p.FetchErr != nil {
		return nil, p.FetchErr
	}
	if p.User != nil {
		return p.User, nil
	}
	return &providers.UserInfo{
		ID:       "mock-user-1",
		Username: "mockuser",
		Email:    "mockuser@example.com",
		Name:     "Mock User",
	}, nil
}
