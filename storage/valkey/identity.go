package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/helix-auth/helix/storage"
)

type clientJSON struct {
	ClientID       string    `json:"client_id"`
	SecretHash     string    `json:"secret_hash,omitempty"`
	ClientName     string    `json:"client_name,omitempty"`
	RedirectURIs   []string  `json:"redirect_uris,omitempty"`
	Scopes         []string  `json:"scopes,omitempty"`
	GrantTypes     []string  `json:"grant_types,omitempty"`
	ResponseTypes  []string  `json:"response_types,omitempty"`
	RequirePKCE    bool      `json:"require_pkce,omitempty"`
	AccessTokenTTL int64     `json:"access_token_ttl,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type userJSON struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	PasswordHash string         `json:"password_hash,omitempty"`
	Claims       map[string]any `json:"claims,omitempty"`
	Groups       []string       `json:"groups,omitempty"`
	Roles        []string       `json:"roles,omitempty"`
}

func (s *Store) clientKey(clientID string) string {
	return s.key("client", clientID)
}

// GetClient retrieves a registered client.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	raw, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.clientKey(clientID)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &storage.Client{
		ClientID:       j.ClientID,
		SecretHash:     j.SecretHash,
		ClientName:     j.ClientName,
		RedirectURIs:   j.RedirectURIs,
		Scopes:         j.Scopes,
		GrantTypes:     j.GrantTypes,
		ResponseTypes:  j.ResponseTypes,
		RequirePKCE:    j.RequirePKCE,
		AccessTokenTTL: j.AccessTokenTTL,
		CreatedAt:      j.CreatedAt,
	}, nil
}

// SaveClient stores a registered client. Clients have no TTL.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	data, err := json.Marshal(clientJSON{
		ClientID:       client.ClientID,
		SecretHash:     client.SecretHash,
		ClientName:     client.ClientName,
		RedirectURIs:   client.RedirectURIs,
		Scopes:         client.Scopes,
		GrantTypes:     client.GrantTypes,
		ResponseTypes:  client.ResponseTypes,
		RequirePKCE:    client.RequirePKCE,
		AccessTokenTTL: client.AccessTokenTTL,
		CreatedAt:      client.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

func (s *Store) userKey(id string) string {
	return s.key("user", "id", id)
}

func (s *Store) usernameKey(username string) string {
	return s.key("user", "name", username)
}

// GetUserByID retrieves a user by internal ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	raw, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.userKey(id)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return decodeUser(raw)
}

// GetUserByUsername retrieves a user through the username index.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	id, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.usernameKey(username)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve username: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// CreateUser stores a user and its username index entry.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	data, err := json.Marshal(userJSON{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Claims:       user.Claims,
		Groups:       user.Groups,
		Roles:        user.Roles,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.userKey(user.ID)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.usernameKey(user.Username)).Value(user.ID).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to index username: %w", err)
	}
	return nil
}

func decodeUser(raw string) (*storage.User, error) {
	var j userJSON
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &storage.User{
		ID:           j.ID,
		Username:     j.Username,
		PasswordHash: j.PasswordHash,
		Claims:       j.Claims,
		Groups:       j.Groups,
		Roles:        j.Roles,
	}, nil
}
