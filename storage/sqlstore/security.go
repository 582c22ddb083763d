package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/helix-auth/helix/storage"
)

// SaveChallenge persists a PKCE challenge, replacing any pending challenge
// for the same client.
func (s *Store) SaveChallenge(ctx context.Context, challenge *storage.CodeChallenge) error {
	row := challengeModel{
		ClientID:  challenge.ClientID,
		Challenge: challenge.Challenge,
		Method:    challenge.Method,
		CreatedAt: challenge.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}
	return nil
}

// ConsumeChallenge atomically retrieves and deletes the pending challenge
// for the client.
func (s *Store) ConsumeChallenge(ctx context.Context, clientID string) (*storage.CodeChallenge, error) {
	var challenge *storage.CodeChallenge

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row challengeModel
		if err := tx.Where("client_id = ?", clientID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrChallengeNotFound
			}
			return fmt.Errorf("failed to read challenge: %w", err)
		}

		res := tx.Where("client_id = ?", clientID).Delete(&challengeModel{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete challenge: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return storage.ErrChallengeNotFound
		}

		challenge = &storage.CodeChallenge{
			ClientID:  row.ClientID,
			Challenge: row.Challenge,
			Method:    row.Method,
			CreatedAt: row.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return challenge, nil
}

// BlacklistToken records a revoked token value until expiration.
func (s *Store) BlacklistToken(ctx context.Context, token string, expiration int64) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			UpdateAll: true,
		}).
		Create(&blacklistModel{Token: token, Expiration: expiration}).Error
	if err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted reports whether the token is revoked and unexpired.
func (s *Store) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&blacklistModel{}).
		Where("token = ? AND expiration >= ?", token, time.Now().Unix()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return count > 0, nil
}

// SaveState persists a federation state. The primary key makes duplicates
// a constraint violation, reported as ErrStateExists.
func (s *Store) SaveState(ctx context.Context, state string) error {
	err := s.db.WithContext(ctx).Create(&stateModel{State: state, CreatedAt: time.Now()}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return storage.ErrStateExists
		}
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// ConsumeState deletes a state; the DELETE row count decides the winner.
func (s *Store) ConsumeState(ctx context.Context, state string) error {
	res := s.db.WithContext(ctx).Where("state = ?", state).Delete(&stateModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to consume state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrStateNotFound
	}
	return nil
}

// isUniqueViolation matches sqlite's constraint error text, which the
// driver does not translate to gorm.ErrDuplicatedKey on every version.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
