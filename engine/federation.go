package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helix-auth/helix/providers"
	"github.com/helix-auth/helix/security"
	"github.com/helix-auth/helix/storage"
)

// stateSeparator joins the parts of a federation state value. The nonce comes
// first so the persisted string is unguessable even with known client_id and
// redirect_uri.
const stateSeparator = "!_!"

// StartFederation begins a delegated login through the named upstream
// provider. The CSRF state encodes the originating client and redirect URI
// and is persisted for single-use validation on the callback.
func (e *Engine) StartFederation(ctx context.Context, providerName, clientID, redirectURI string) (string, error) {
	provider, ok := e.providers[providerName]
	if !ok {
		return "", ErrInvalidRequest(fmt.Sprintf("unknown identity provider: %s", providerName))
	}

	client, err := e.clients.ValidateClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if err := e.clients.ValidateRedirectURI(client, redirectURI); err != nil {
		return "", err
	}

	state := strings.Join([]string{generateRandomToken(), client.ClientID, redirectURI}, stateSeparator)
	if err := e.store.SaveState(ctx, state); err != nil {
		return "", fmt.Errorf("failed to persist federation state: %w", err)
	}

	e.Logger.Info("Federation started",
		"provider", providerName,
		"client_id", client.ClientID)

	return provider.AuthorizationURL(state), nil
}

// CompleteFederation handles the upstream provider callback. The state is
// consumed before the upstream exchange so a replayed callback fails even if
// the exchange itself errors. The upstream identity is mapped onto a local
// user, auto-provisioned on first login, and bridged into a local
// authorization code the client redeems at the token endpoint.
func (e *Engine) CompleteFederation(ctx context.Context, providerName, state, code string) (string, error) {
	provider, ok := e.providers[providerName]
	if !ok {
		return "", ErrInvalidRequest(fmt.Sprintf("unknown identity provider: %s", providerName))
	}

	clientID, redirectURI, err := parseState(state)
	if err != nil {
		return "", err
	}

	// Single use: delete the state before touching the upstream. First
	// caller wins, a replay observes ErrStateNotFound.
	if err := e.store.ConsumeState(ctx, state); err != nil {
		if errors.Is(err, storage.ErrStateNotFound) {
			if e.Auditor != nil {
				e.Auditor.LogEvent(security.Event{
					Type:     "federation_state_replay",
					ClientID: clientID,
				})
			}
			return "", ErrInvalidRequest("state not found or already used")
		}
		return "", fmt.Errorf("failed to consume federation state: %w", err)
	}

	client, err := e.clients.ValidateClient(ctx, clientID)
	if err != nil {
		return "", err
	}

	upstreamToken, err := provider.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code with provider %s: %w", providerName, err)
	}
	profile, err := provider.FetchUser(ctx, upstreamToken)
	if err != nil {
		return "", fmt.Errorf("failed to fetch user from provider %s: %w", providerName, err)
	}

	user, err := e.provisionFederatedUser(ctx, providerName, profile)
	if err != nil {
		return "", err
	}

	localCode := generateRandomToken()
	grant := &storage.PersistentGrant{
		Key:        uuid.NewString(),
		ClientID:   client.ClientID,
		SubjectID:  user.ID,
		GrantType:  storage.GrantTypeAuthorizationCode,
		Data:       localCode,
		Expiration: time.Now().Add(e.Config.AuthorizationCodeTTL).Unix(),
		CreatedAt:  time.Now(),
	}
	if err := e.store.CreateGrant(ctx, grant); err != nil {
		return "", fmt.Errorf("failed to persist federation code: %w", err)
	}

	e.countFederationCallback(ctx, providerName)
	e.Logger.Info("Federation completed",
		"provider", providerName,
		"client_id", client.ClientID,
		"subject", user.ID)

	return appendParams(redirectURI, url.Values{
		"code":  {localCode},
		"state": {state},
	}), nil
}

// provisionFederatedUser maps an upstream profile onto a local user,
// creating one on first login. Federated users have no local password.
func (e *Engine) provisionFederatedUser(ctx context.Context, providerName string, profile *providers.UserInfo) (*storage.User, error) {
	if profile.Username == "" {
		return nil, ErrServerError("provider returned no username")
	}

	user, err := e.store.GetUserByUsername(ctx, profile.Username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to look up federated user: %w", err)
	}

	user = &storage.User{
		ID:       uuid.NewString(),
		Username: profile.Username,
		Claims:   map[string]any{},
	}
	if profile.Name != "" {
		user.Claims["name"] = profile.Name
	}
	if profile.Email != "" {
		user.Claims["email"] = profile.Email
	}
	if profile.AvatarURL != "" {
		user.Claims["picture"] = profile.AvatarURL
	}
	if err := e.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to provision federated user: %w", err)
	}

	e.Logger.Info("Provisioned federated user",
		"provider", providerName,
		"username", profile.Username)

	return user, nil
}

// parseState recovers the client ID and redirect URI from a federation
// state. The leading nonce only exists to make the value unguessable.
func parseState(state string) (clientID, redirectURI string, err error) {
	parts := strings.SplitN(state, stateSeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", ErrInvalidRequest("malformed state parameter")
	}
	return parts[1], parts[2], nil
}
