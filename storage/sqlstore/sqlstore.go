// Package sqlstore provides a relational implementation of all storage
// interfaces on gorm with the sqlite driver. Single-use consume operations
// run inside a transaction and treat the DELETE row count as the
// authoritative winner check, so concurrent redeemers of the same value
// cannot both succeed.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/helix-auth/helix/storage"
)

// Store is a sqlite-backed implementation of storage.Store.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Open creates a store on the given sqlite DSN and migrates the schema.
// Use ":memory:" for an ephemeral database.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&grantModel{},
		&deviceModel{},
		&challengeModel{},
		&blacklistModel{},
		&stateModel{},
		&clientModel{},
		&userModel{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("Connected to sqlite storage", "dsn", dsn)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Sweep removes expired grants, devices, and blacklist entries. Call it
// periodically from the embedding application.
func (s *Store) Sweep(ctx context.Context) error {
	now := time.Now()

	if err := s.db.WithContext(ctx).
		Where("expiration > 0 AND expiration < ?", now.Unix()).
		Delete(&grantModel{}).Error; err != nil {
		return fmt.Errorf("failed to sweep grants: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Where("expiration < ?", now.Unix()).
		Delete(&blacklistModel{}).Error; err != nil {
		return fmt.Errorf("failed to sweep blacklist: %w", err)
	}

	var devices []deviceModel
	if err := s.db.WithContext(ctx).Find(&devices).Error; err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		if now.After(d.CreatedAt.Add(time.Duration(d.ExpiresIn) * time.Second)) {
			if err := s.db.WithContext(ctx).Delete(&deviceModel{}, "device_code = ?", d.DeviceCode).Error; err != nil {
				return fmt.Errorf("failed to sweep device: %w", err)
			}
		}
	}

	return nil
}
