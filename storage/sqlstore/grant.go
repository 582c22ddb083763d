package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/helix-auth/helix/storage"
)

// CreateGrant persists a new grant.
func (s *Store) CreateGrant(ctx context.Context, grant *storage.PersistentGrant) error {
	row := grantModel{
		Key:        grant.Key,
		ClientID:   grant.ClientID,
		SubjectID:  grant.SubjectID,
		GrantType:  grant.GrantType,
		Data:       grant.Data,
		Expiration: grant.Expiration,
		CreatedAt:  grant.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

// GrantExists reports whether a live grant exists for (grantType, data).
func (s *Store) GrantExists(ctx context.Context, grantType, data string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&grantModel{}).
		Where("grant_type = ? AND data = ? AND (expiration = 0 OR expiration >= ?)",
			grantType, data, time.Now().Unix()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return count > 0, nil
}

// GetGrant retrieves a grant without consuming it.
func (s *Store) GetGrant(ctx context.Context, grantType, data string) (*storage.PersistentGrant, error) {
	var row grantModel
	err := s.db.WithContext(ctx).
		Where("grant_type = ? AND data = ?", grantType, data).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	grant := row.toGrant()
	if grant.Expired(time.Now()) {
		return nil, storage.ErrGrantNotFound
	}
	return grant, nil
}

// ConsumeGrant atomically retrieves and deletes a grant. The read and the
// delete share a transaction, and the delete's row count decides the
// winner: a racing consumer whose DELETE matched zero rows lost.
func (s *Store) ConsumeGrant(ctx context.Context, grantType, data string) (*storage.PersistentGrant, error) {
	var grant *storage.PersistentGrant

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row grantModel
		if err := tx.Where("grant_type = ? AND data = ?", grantType, data).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrGrantNotFound
			}
			return fmt.Errorf("failed to read grant: %w", err)
		}

		res := tx.Where("id = ?", row.ID).Delete(&grantModel{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete grant: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return storage.ErrGrantNotFound
		}

		g := row.toGrant()
		if g.Expired(time.Now()) {
			return storage.ErrGrantNotFound
		}
		grant = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// DeleteGrant removes a grant. Returns ErrGrantNotFound if absent.
func (s *Store) DeleteGrant(ctx context.Context, grantType, data string) error {
	res := s.db.WithContext(ctx).
		Where("grant_type = ? AND data = ?", grantType, data).
		Delete(&grantModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrGrantNotFound
	}
	return nil
}

// DeleteGrantsForClientAndUser removes every grant the user has with the client.
func (s *Store) DeleteGrantsForClientAndUser(ctx context.Context, clientID, subjectID string) (int, error) {
	res := s.db.WithContext(ctx).
		Where("client_id = ? AND subject_id = ?", clientID, subjectID).
		Delete(&grantModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete session grants: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
