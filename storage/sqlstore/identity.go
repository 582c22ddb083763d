package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/helix-auth/helix/storage"
)

// GetClient retrieves a registered client.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var row clientModel
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	redirectURIs, err := unmarshalStrings(row.RedirectURIs)
	if err != nil {
		return nil, err
	}
	scopes, err := unmarshalStrings(row.Scopes)
	if err != nil {
		return nil, err
	}
	grantTypes, err := unmarshalStrings(row.GrantTypes)
	if err != nil {
		return nil, err
	}
	responseTypes, err := unmarshalStrings(row.ResponseTypes)
	if err != nil {
		return nil, err
	}

	return &storage.Client{
		ClientID:       row.ClientID,
		SecretHash:     row.SecretHash,
		ClientName:     row.ClientName,
		RedirectURIs:   redirectURIs,
		Scopes:         scopes,
		GrantTypes:     grantTypes,
		ResponseTypes:  responseTypes,
		RequirePKCE:    row.RequirePKCE,
		AccessTokenTTL: row.AccessTokenTTL,
		CreatedAt:      row.CreatedAt,
	}, nil
}

// SaveClient stores a registered client, replacing any existing row.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	redirectURIs, err := marshalJSON(client.RedirectURIs)
	if err != nil {
		return err
	}
	scopes, err := marshalJSON(client.Scopes)
	if err != nil {
		return err
	}
	grantTypes, err := marshalJSON(client.GrantTypes)
	if err != nil {
		return err
	}
	responseTypes, err := marshalJSON(client.ResponseTypes)
	if err != nil {
		return err
	}

	row := clientModel{
		ClientID:       client.ClientID,
		SecretHash:     client.SecretHash,
		ClientName:     client.ClientName,
		RedirectURIs:   redirectURIs,
		Scopes:         scopes,
		GrantTypes:     grantTypes,
		ResponseTypes:  responseTypes,
		RequirePKCE:    client.RequirePKCE,
		AccessTokenTTL: client.AccessTokenTTL,
		CreatedAt:      client.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by internal ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	return s.getUser(ctx, "username = ?", username)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (*storage.User, error) {
	var row userModel
	err := s.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	claims, err := unmarshalClaims(row.Claims)
	if err != nil {
		return nil, err
	}
	groups, err := unmarshalStrings(row.Groups)
	if err != nil {
		return nil, err
	}
	roles, err := unmarshalStrings(row.Roles)
	if err != nil {
		return nil, err
	}

	return &storage.User{
		ID:           row.ID,
		Username:     row.Username,
		PasswordHash: row.PasswordHash,
		Claims:       claims,
		Groups:       groups,
		Roles:        roles,
	}, nil
}

// CreateUser stores a new user.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	claims, err := marshalJSON(user.Claims)
	if err != nil {
		return err
	}
	groups, err := marshalJSON(user.Groups)
	if err != nil {
		return err
	}
	roles, err := marshalJSON(user.Roles)
	if err != nil {
		return err
	}

	row := userModel{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Claims:       claims,
		Groups:       groups,
		Roles:        roles,
		CreatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
