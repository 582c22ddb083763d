package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/helix-auth/helix/storage"
)

// CreateDevice persists a pending device pairing.
func (s *Store) CreateDevice(ctx context.Context, device *storage.Device) error {
	row := deviceModel{
		ClientID:                device.ClientID,
		DeviceCode:              device.DeviceCode,
		UserCode:                device.UserCode,
		VerificationURI:         device.VerificationURI,
		VerificationURIComplete: device.VerificationURIComplete,
		ExpiresIn:               device.ExpiresIn,
		Interval:                device.Interval,
		CreatedAt:               device.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// GetDeviceByUserCode retrieves a pairing by its user code.
func (s *Store) GetDeviceByUserCode(ctx context.Context, userCode string) (*storage.Device, error) {
	return s.getDevice(ctx, "user_code = ?", userCode)
}

// GetDeviceByDeviceCode retrieves a pairing by its device code.
func (s *Store) GetDeviceByDeviceCode(ctx context.Context, deviceCode string) (*storage.Device, error) {
	return s.getDevice(ctx, "device_code = ?", deviceCode)
}

func (s *Store) getDevice(ctx context.Context, query string, arg string) (*storage.Device, error) {
	var row deviceModel
	err := s.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return row.toDevice(), nil
}

// DeleteDeviceByUserCode removes a pairing by its user code.
func (s *Store) DeleteDeviceByUserCode(ctx context.Context, userCode string) error {
	return s.deleteDevice(ctx, "user_code = ?", userCode)
}

// DeleteDeviceByDeviceCode removes a pairing by its device code.
func (s *Store) DeleteDeviceByDeviceCode(ctx context.Context, deviceCode string) error {
	return s.deleteDevice(ctx, "device_code = ?", deviceCode)
}

func (s *Store) deleteDevice(ctx context.Context, query string, arg string) error {
	res := s.db.WithContext(ctx).Where(query, arg).Delete(&deviceModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete device: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrDeviceNotFound
	}
	return nil
}
